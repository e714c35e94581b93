package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/listenlab/multiscribe/internal/capture"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/shared"
	"github.com/listenlab/multiscribe/internal/transport"
)

// Coordinator fans session commands out across every live controller and
// funnels shared-transport events back in. It is the only component that
// removes sessions, so removal always runs the stop sequence and the
// removal control message before the registry forgets the id.
type Coordinator struct {
	registry  *session.Registry
	transport transport.Adapter
	source    capture.Source
	log       *slog.Logger

	mu           sync.Mutex
	controllers  map[int]*Controller
	transcripts  map[int]*session.TranscriptLog
	allRecording bool
}

type CoordinatorConfig struct {
	Registry  *session.Registry
	Transport transport.Adapter
	Source    capture.Source
	Logger    *slog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		registry:    cfg.Registry,
		transport:   cfg.Transport,
		source:      cfg.Source,
		log:         log.With("component", "coordinator"),
		controllers: make(map[int]*Controller),
		transcripts: make(map[int]*session.TranscriptLog),
	}
}

// Create registers a new session together with its controller and
// transcript log.
func (co *Coordinator) Create() *session.Session {
	sess := co.registry.Create()

	co.mu.Lock()
	co.controllers[sess.ID] = New(sess, co.registry.Schemas(), co.transport, co.source, co.log)
	co.transcripts[sess.ID] = &session.TranscriptLog{}
	co.mu.Unlock()

	return sess
}

func (co *Coordinator) Controller(id int) (*Controller, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	ctrl, ok := co.controllers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ctrl, nil
}

func (co *Coordinator) Transcript(id int) (*session.TranscriptLog, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	t, ok := co.transcripts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

// ClearTranscripts wipes every session's transcript.
func (co *Coordinator) ClearTranscripts() {
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, t := range co.transcripts {
		t.Clear()
	}
}

// Remove is a no-op for unknown ids. A recording session is stopped
// first; either way a stop control message tells the server the session
// is gone, then the id becomes reusable. A session never leaves the
// registry still recording: when the clean stop fails, local state is
// released anyway.
func (co *Coordinator) Remove(ctx context.Context, id int) bool {
	co.mu.Lock()
	ctrl, ok := co.controllers[id]
	if !ok {
		co.mu.Unlock()
		return false
	}
	delete(co.controllers, id)
	delete(co.transcripts, id)
	co.mu.Unlock()

	if ctrl.State() == StateRecording {
		if err := ctrl.Stop(ctx); err != nil {
			co.log.Error("stop during removal failed, forcing local release", "session_id", id, "error", err)
			ctrl.ForceRelease()
		}
	} else if err := co.transport.SendControl(ctx, transport.ControlMessage{
		SessionID: id,
		Action:    transport.ControlStop,
		Provider:  string(ctrl.Session().Snapshot().Provider),
	}); err != nil && !errors.Is(err, shared.ErrTransportUnavailable) {
		co.log.Error("removal control failed", "session_id", id, "error", err)
	}

	return co.registry.Remove(id)
}

func (co *Coordinator) Start(ctx context.Context, id int) error {
	ctrl, err := co.Controller(id)
	if err != nil {
		return err
	}
	return ctrl.Start(ctx)
}

func (co *Coordinator) Stop(ctx context.Context, id int) error {
	ctrl, err := co.Controller(id)
	if err != nil {
		return err
	}
	return ctrl.Stop(ctx)
}

// StartAll starts every session in registry order. A failure on one
// session is logged and does not stop the sweep, but it does clear the
// globally-recording flag and surfaces in the joined error. The flag is
// only set when at least one session was actually started.
func (co *Coordinator) StartAll(ctx context.Context) error {
	var errs []error
	attempted := 0
	for _, sess := range co.registry.All() {
		ctrl, err := co.Controller(sess.ID)
		if err != nil {
			continue
		}
		attempted++
		if err := ctrl.Start(ctx); err != nil {
			co.log.Error("bulk start failed for session", "session_id", sess.ID, "error", err)
			errs = append(errs, err)
		}
	}

	co.mu.Lock()
	co.allRecording = attempted > 0 && len(errs) == 0
	co.mu.Unlock()

	return errors.Join(errs...)
}

// StopAll stops every session in registry order with the same
// failure-isolation policy as StartAll.
func (co *Coordinator) StopAll(ctx context.Context) error {
	var errs []error
	for _, sess := range co.registry.All() {
		ctrl, err := co.Controller(sess.ID)
		if err != nil {
			continue
		}
		if err := ctrl.Stop(ctx); err != nil {
			co.log.Error("bulk stop failed for session", "session_id", sess.ID, "error", err)
			errs = append(errs, err)
		}
	}

	co.mu.Lock()
	co.allRecording = false
	co.mu.Unlock()

	return errors.Join(errs...)
}

func (co *Coordinator) GloballyRecording() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.allRecording
}

// HandleDisconnect stops every recording session locally. No stop
// messages go out; the channel is gone.
func (co *Coordinator) HandleDisconnect() {
	co.mu.Lock()
	ctrls := make([]*Controller, 0, len(co.controllers))
	for _, ctrl := range co.controllers {
		ctrls = append(ctrls, ctrl)
	}
	co.allRecording = false
	co.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.ForceRelease()
	}
	co.log.Info("transport disconnected, recording sessions released", "sessions", len(ctrls))
}

// HandleTranscription routes an inbound result to its session's log.
// Results for removed sessions are dropped.
func (co *Coordinator) HandleTranscription(res transport.TranscriptionResult) {
	co.mu.Lock()
	t, ok := co.transcripts[res.SessionID]
	co.mu.Unlock()
	if !ok {
		co.log.Warn("transcription for unknown session", "session_id", res.SessionID)
		return
	}
	t.Append(res.Transcription, res.IsFinal)
}

// Close force-stops everything; used at shutdown.
func (co *Coordinator) Close(ctx context.Context) error {
	return co.StopAll(ctx)
}
