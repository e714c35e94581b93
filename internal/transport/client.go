package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenlab/multiscribe/internal/shared"
)

const (
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Client keeps the shared streaming connection alive, redialing with
// exponential backoff whenever the dial fails or an established
// connection drops. Sends issued while disconnected fail with
// ErrTransportUnavailable; nothing is queued across connections.
// OnConnected and OnDisconnected fire once per connection cycle.
type Client struct {
	cfg WSConfig
	log *slog.Logger

	mu      sync.RWMutex
	adapter *WSAdapter
	closed  bool

	done chan struct{}
}

// NewClient starts the dial loop and returns immediately. A relay that
// is down at boot keeps being retried in the background.
func NewClient(cfg WSConfig) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		cfg:  cfg,
		log:  cfg.Logger.With("component", "ws_client"),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Client) run() {
	delay := c.cfg.ReconnectDelay
	for {
		select {
		case <-c.done:
			return
		default:
		}

		lost := make(chan struct{})
		cfg := c.cfg
		onDisconnected := cfg.Callbacks.OnDisconnected
		cfg.Callbacks.OnDisconnected = func() {
			close(lost)
			if onDisconnected != nil {
				onDisconnected()
			}
		}

		adapter, err := DialWS(context.Background(), cfg)
		if err != nil {
			c.log.Warn("transport dial failed", "error", err, "retry_in", delay)
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = adapter.Close()
			return
		}
		c.adapter = adapter
		c.mu.Unlock()
		delay = c.cfg.ReconnectDelay

		select {
		case <-c.done:
			_ = adapter.Close()
			return
		case <-lost:
			c.mu.Lock()
			c.adapter = nil
			c.mu.Unlock()
		}
	}
}

func (c *Client) current() *WSAdapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adapter
}

func (c *Client) IsConnected() bool {
	a := c.current()
	return a != nil && a.IsConnected()
}

func (c *Client) SendAudioFrame(sessionID int, data []byte) error {
	a := c.current()
	if a == nil {
		return shared.ErrTransportUnavailable
	}
	return a.SendAudioFrame(sessionID, data)
}

func (c *Client) SendControl(ctx context.Context, msg ControlMessage) error {
	a := c.current()
	if a == nil {
		return shared.ErrTransportUnavailable
	}
	return a.SendControl(ctx, msg)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	a := c.adapter
	c.adapter = nil
	c.mu.Unlock()

	close(c.done)
	if a != nil {
		return a.Close()
	}
	return nil
}
