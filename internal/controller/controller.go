package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listenlab/multiscribe/internal/capture"
	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/shared"
	"github.com/listenlab/multiscribe/internal/transport"
)

type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

const billingInterval = 1000 * time.Millisecond

// Controller drives one session's recording lifecycle against the shared
// transport and a capture source. Transitions are serialized: a start or
// stop issued while another transition is in flight fails with
// shared.ErrBusy rather than interleaving.
type Controller struct {
	sess      *session.Session
	schemas   *schema.Registry
	transport transport.Adapter
	source    capture.Source
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	handle capture.Handle
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cost   float64
}

func New(sess *session.Session, schemas *schema.Registry, tr transport.Adapter, source capture.Source, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		sess:      sess,
		schemas:   schemas,
		transport: tr,
		source:    source,
		log:       log.With("session_id", sess.ID),
		state:     StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() *session.Session {
	return c.sess
}

// Cost reports the accumulated recording cost. The second return is
// false whenever the session is not recording.
func (c *Controller) Cost() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return 0, false
	}
	return c.cost, true
}

// Start moves Idle -> Starting -> Recording. The transport must already
// be connected. The start control message always requests interim
// results regardless of the stored field; live recording depends on
// them. If capture acquisition fails after the start message went out, a
// compensating stop is sent and the session returns to Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", shared.ErrBusy, c.state)
	}
	if !c.transport.IsConnected() {
		c.mu.Unlock()
		return shared.ErrTransportUnavailable
	}
	c.state = StateStarting
	c.mu.Unlock()

	view := c.sess.Snapshot()
	resolved := view.Resolved()
	resolved["interim_results"] = true

	err := c.transport.SendControl(ctx, transport.ControlMessage{
		SessionID: view.ID,
		Action:    transport.ControlStart,
		Provider:  string(view.Provider),
		Config:    resolved,
	})
	if err != nil {
		c.setIdle()
		return err
	}

	handle, err := c.source.Open(ctx)
	if err != nil {
		c.log.Error("capture acquisition failed, sending compensating stop", "error", err)
		if stopErr := c.transport.SendControl(ctx, transport.ControlMessage{
			SessionID: view.ID,
			Action:    transport.ControlStop,
			Provider:  string(view.Provider),
		}); stopErr != nil {
			c.log.Error("compensating stop failed", "error", stopErr)
		}
		c.setIdle()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.state = StateRecording
	c.handle = handle
	c.cancel = cancel
	c.cost = 0
	if p, ok := c.schemas.Get(view.Provider); ok && p.PricePerHour > 0 {
		billing := &session.Billing{
			StartedAt:    time.Now(),
			PricePerHour: p.PricePerHour,
		}
		c.sess.SetRecording(true, billing)
		c.wg.Add(1)
		go c.billingLoop(pumpCtx, billing.StartedAt, p.PricePerHour)
	} else {
		c.sess.SetRecording(true, nil)
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.audioPump(pumpCtx, handle)

	c.log.Info("recording started", "provider", view.Provider)
	return nil
}

// Stop moves Recording -> Stopping -> Idle, releasing capture and
// billing before the stop control message goes out.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateRecording:
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", shared.ErrBusy, c.state)
	}
	if !c.transport.IsConnected() {
		c.mu.Unlock()
		return shared.ErrTransportUnavailable
	}
	c.state = StateStopping
	c.releaseLocked()
	c.mu.Unlock()

	c.wg.Wait()

	err := c.transport.SendControl(ctx, transport.ControlMessage{
		SessionID: c.sess.ID,
		Action:    transport.ControlStop,
		Provider:  string(c.sess.Snapshot().Provider),
	})
	if err != nil {
		c.log.Error("stop control failed", "error", err)
	}

	c.setIdle()
	c.log.Info("recording stopped")
	return nil
}

// ForceRelease returns a recording session to idle without any
// transport traffic. Used when the transport dropped or the session is
// being removed with no way to stop it cleanly.
func (c *Controller) ForceRelease() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.releaseLocked()
	c.mu.Unlock()

	c.wg.Wait()
	c.setIdle()
	c.log.Info("recording released without stop message")
}

// releaseLocked tears down capture and billing. Callers hold c.mu.
func (c *Controller) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
	c.sess.SetRecording(false, nil)
	c.cost = 0
}

func (c *Controller) setIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) audioPump(ctx context.Context, handle capture.Handle) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-handle.Chunks():
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := c.transport.SendAudioFrame(c.sess.ID, chunk); err != nil {
				c.log.Error("failed to send audio frame", "error", err)
			}
		}
	}
}

// billingLoop recomputes the displayed cost once per second. The value
// only grows while recording; Cost hides it again once stopped.
func (c *Controller) billingLoop(ctx context.Context, startedAt time.Time, pricePerHour float64) {
	defer c.wg.Done()

	ticker := time.NewTicker(billingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(startedAt).Hours()
			c.mu.Lock()
			if cost := elapsed * pricePerHour; cost > c.cost {
				c.cost = cost
			}
			c.mu.Unlock()
		}
	}
}
