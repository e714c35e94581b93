package session

import (
	"sort"
	"sync"
	"time"

	"github.com/listenlab/multiscribe/internal/schema"
)

// Billing tracks elapsed-cost accounting for a recording session. It is
// non-nil exactly while the session is recording.
type Billing struct {
	StartedAt    time.Time
	PricePerHour float64
}

// Session is one independent transcription stream. The Registry owns all
// Session instances; nothing may hold one past its removal. All fields
// are guarded by mu: the Registry mutates configuration under it, the
// controller flips recording state through SetRecording, and readers go
// through Snapshot so no live map ever escapes.
type Session struct {
	mu sync.RWMutex

	ID       int
	Provider schema.Kind

	// Config holds the named schema fields for the current provider.
	// Values are strings, bools, or ordered []string from repeated URL
	// parameters. Extra carries open-ended provider parameters passed
	// through verbatim.
	Config map[string]any
	Extra  map[string]any

	// ChangedParams records which fields the user has explicitly touched
	// since the last reset or import, so a provider switch can tell user
	// intent apart from defaults.
	ChangedParams map[string]struct{}
	Imported      bool

	Recording bool
	Billing   *Billing

	CreatedAt time.Time
}

// View is a point-in-time copy of a session's state, safe to read after
// the live session has moved on.
type View struct {
	ID            int
	Provider      schema.Kind
	Config        map[string]any
	Extra         map[string]any
	ChangedParams []string
	Imported      bool
	Recording     bool
	CreatedAt     time.Time
}

// Snapshot copies the session under its lock. The returned maps are
// fresh; mutating them does not touch the session.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config := make(map[string]any, len(s.Config))
	for k, v := range s.Config {
		config[k] = v
	}
	extra := make(map[string]any, len(s.Extra))
	for k, v := range s.Extra {
		extra[k] = v
	}
	changed := make([]string, 0, len(s.ChangedParams))
	for field := range s.ChangedParams {
		changed = append(changed, field)
	}
	sort.Strings(changed)

	return View{
		ID:            s.ID,
		Provider:      s.Provider,
		Config:        config,
		Extra:         extra,
		ChangedParams: changed,
		Imported:      s.Imported,
		Recording:     s.Recording,
		CreatedAt:     s.CreatedAt,
	}
}

func (s *Session) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Recording
}

// SetRecording flips the live recording state. A nil billing clears
// cost accounting.
func (s *Session) SetRecording(recording bool, billing *Billing) {
	s.mu.Lock()
	s.Recording = recording
	s.Billing = billing
	s.mu.Unlock()
}

func (s *Session) Changed(field string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ChangedParams[field]
	return ok
}

// markChanged is called by registry mutators that already hold mu.
func (s *Session) markChanged(field string) {
	if s.ChangedParams == nil {
		s.ChangedParams = make(map[string]struct{})
	}
	s.ChangedParams[field] = struct{}{}
}

// Resolved merges the named fields with the extra parameters into the
// flat mapping sent in a start control message. Extra is applied last,
// so an extra entry colliding with a named field wins; the remaining
// extras stay nested under "extra".
func (v View) Resolved() map[string]any {
	out := make(map[string]any, len(v.Config)+1)
	for k, val := range v.Config {
		out[k] = val
	}

	nested := make(map[string]any)
	for k, val := range v.Extra {
		if _, named := out[k]; named {
			out[k] = val
			continue
		}
		nested[k] = val
	}
	if len(nested) > 0 {
		out["extra"] = nested
	}
	return out
}

// ParseBool implements the override interpretation rule: only the
// literal true and the string "true" count as true.
func ParseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
