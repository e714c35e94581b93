package session

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/shared"
)

// Registry owns the set of live sessions. Ids are the smallest
// non-negative integers not currently in use and become eligible for
// reuse the moment a session is removed.
type Registry struct {
	schemas  *schema.Registry
	mu       sync.RWMutex
	sessions map[int]*Session
	order    []int
	log      *slog.Logger
}

func NewRegistry(schemas *schema.Registry, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		schemas:  schemas,
		sessions: make(map[int]*Session),
		log:      log.With("component", "session_registry"),
	}
}

func (r *Registry) Schemas() *schema.Registry {
	return r.schemas
}

// Create allocates the smallest unused id and registers a session
// configured with the default provider's schema defaults.
func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := 0
	for {
		if _, used := r.sessions[id]; !used {
			break
		}
		id++
	}

	kind := r.schemas.DefaultKind()
	p, _ := r.schemas.Get(kind)

	sess := &Session{
		ID:            id,
		Provider:      kind,
		Config:        p.CloneDefaults(),
		Extra:         make(map[string]any),
		ChangedParams: make(map[string]struct{}),
		CreatedAt:     time.Now(),
	}

	r.sessions[id] = sess
	r.order = append(r.order, id)

	r.log.Info("session created", "session_id", id, "provider", kind)
	return sess
}

func (r *Registry) Find(id int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return sess, nil
}

// Snapshot returns a copy of the session's current state. Readers that
// outlive a single call (handlers, renderers) use this instead of
// holding the live session.
func (r *Registry) Snapshot(id int) (View, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return View{}, shared.ErrNotFound
	}
	return sess.Snapshot(), nil
}

// Remove deregisters the session. It is a no-op for unknown ids. Stopping
// a recording session and notifying the transport are the coordinator's
// job and must happen before this call.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}

	r.log.Info("session removed", "session_id", id)
	return true
}

// All returns the live sessions in creation order.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
