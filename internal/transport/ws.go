package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/listenlab/multiscribe/internal/shared"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultAckTimeout  = 2000 * time.Millisecond
	defaultAudioBuffer = 64
	controlBuffer      = 16
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL string

	// AckTimeout bounds the wait for a control acknowledgement. A missed
	// ack is logged, never an error. Defaults to 2000 ms.
	AckTimeout time.Duration

	// AudioBuffer is the outbound audio frame queue size. When the queue
	// is full the oldest frame is shed so capture cadence never blocks.
	AudioBuffer int

	// ReconnectDelay is the initial redial backoff used by Client.
	// Defaults to 1 s, doubling up to 30 s per attempt.
	ReconnectDelay time.Duration

	Callbacks Callbacks
	Logger    *slog.Logger
}

// WSAdapter is the shared websocket transport. Control messages and
// inbound events travel as JSON text frames; audio travels as binary
// frames with a session id prefix.
type WSAdapter struct {
	cfg WSConfig
	ws  *websocket.Conn
	log *slog.Logger

	audio chan []byte
	ctrl  chan []byte
	done  chan struct{}

	mu        sync.RWMutex
	connected bool
	closed    bool

	pendingMu sync.Mutex
	pending   map[string]*time.Timer

	droppedFrames atomic.Int64
}

// DialWS connects to the streaming endpoint and starts the read/write
// pumps. OnConnected fires before DialWS returns.
func DialWS(ctx context.Context, cfg WSConfig) (*WSAdapter, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.AudioBuffer <= 0 {
		cfg.AudioBuffer = defaultAudioBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	a := &WSAdapter{
		cfg:       cfg,
		ws:        ws,
		log:       cfg.Logger.With("component", "ws_transport"),
		audio:     make(chan []byte, cfg.AudioBuffer),
		ctrl:      make(chan []byte, controlBuffer),
		done:      make(chan struct{}),
		connected: true,
		pending:   make(map[string]*time.Timer),
	}

	go a.readPump()
	go a.writePump()

	a.log.Info("transport connected", "url", cfg.URL)
	if cfg.Callbacks.OnConnected != nil {
		cfg.Callbacks.OnConnected()
	}
	return a, nil
}

func (a *WSAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// DroppedFrames reports how many audio frames were shed under
// backpressure since connect.
func (a *WSAdapter) DroppedFrames() int64 {
	return a.droppedFrames.Load()
}

func (a *WSAdapter) SendAudioFrame(sessionID int, data []byte) error {
	if !a.IsConnected() {
		return shared.ErrTransportUnavailable
	}
	if len(data) == 0 {
		return nil
	}

	frame := EncodeAudioFrame(sessionID, data)
	select {
	case a.audio <- frame:
		return nil
	default:
	}

	// Queue full: shed the oldest frame, then retry once.
	select {
	case <-a.audio:
		a.droppedFrames.Add(1)
	default:
	}
	select {
	case a.audio <- frame:
	default:
		a.droppedFrames.Add(1)
	}

	if n := a.droppedFrames.Load(); n%50 == 1 {
		a.log.Warn("audio queue saturated, shedding oldest frames", "dropped_total", n)
	}
	return nil
}

func (a *WSAdapter) SendControl(ctx context.Context, msg ControlMessage) error {
	if !a.IsConnected() {
		return shared.ErrTransportUnavailable
	}

	requestID := uuid.New().String()
	data, err := json.Marshal(envelope{
		Type:      messageTypeControl,
		RequestID: requestID,
		SessionID: msg.SessionID,
		Action:    msg.Action,
		Provider:  msg.Provider,
		Config:    msg.Config,
	})
	if err != nil {
		return err
	}

	a.armAckTimer(requestID, msg)

	select {
	case a.ctrl <- data:
		return nil
	case <-ctx.Done():
		a.disarmAckTimer(requestID)
		return ctx.Err()
	case <-a.done:
		a.disarmAckTimer(requestID)
		return shared.ErrTransportUnavailable
	}
}

// armAckTimer starts the diagnostic ack wait. Expiry only logs; the state
// machine must never depend on acks, or a slow server could silently
// desync client and server.
func (a *WSAdapter) armAckTimer(requestID string, msg ControlMessage) {
	timer := time.AfterFunc(a.cfg.AckTimeout, func() {
		a.pendingMu.Lock()
		_, pending := a.pending[requestID]
		delete(a.pending, requestID)
		a.pendingMu.Unlock()
		if pending {
			a.log.Warn("control message not acknowledged",
				"request_id", requestID,
				"session_id", msg.SessionID,
				"action", msg.Action)
		}
	})

	a.pendingMu.Lock()
	a.pending[requestID] = timer
	a.pendingMu.Unlock()
}

func (a *WSAdapter) disarmAckTimer(requestID string) {
	a.pendingMu.Lock()
	if timer, ok := a.pending[requestID]; ok {
		timer.Stop()
		delete(a.pending, requestID)
	}
	a.pendingMu.Unlock()
}

func (a *WSAdapter) readPump() {
	defer a.markDisconnected()

	_ = a.ws.SetReadDeadline(time.Now().Add(pongWait))
	a.ws.SetPongHandler(func(string) error {
		_ = a.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := a.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Error("websocket read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			a.log.Error("failed to unmarshal message", "error", err)
			continue
		}

		switch msg.Type {
		case messageTypeAck:
			a.disarmAckTimer(msg.RequestID)
			a.log.Debug("control acknowledged", "request_id", msg.RequestID)
		case messageTypeTranscription:
			if a.cfg.Callbacks.OnTranscription != nil {
				a.cfg.Callbacks.OnTranscription(TranscriptionResult{
					SessionID:     msg.SessionID,
					Transcription: msg.Transcription,
					IsFinal:       msg.IsFinal,
				})
			}
		case messageTypeError:
			a.log.Error("transport error event", "message", msg.Message)
			if a.cfg.Callbacks.OnError != nil {
				a.cfg.Callbacks.OnError(errors.New(msg.Message))
			}
		default:
			a.log.Warn("unknown message type", "type", msg.Type)
		}
	}
}

func (a *WSAdapter) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = a.Close()
	}()

	for {
		select {
		case <-a.done:
			return
		case data := <-a.ctrl:
			_ = a.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				a.log.Error("websocket write error", "error", err)
				return
			}
		case frame := <-a.audio:
			_ = a.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				a.log.Error("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = a.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *WSAdapter) markDisconnected() {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mu.Unlock()

	if wasConnected {
		a.log.Info("transport disconnected")
		if a.cfg.Callbacks.OnDisconnected != nil {
			a.cfg.Callbacks.OnDisconnected()
		}
	}
}

func (a *WSAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	a.markDisconnected()
	return a.ws.Close()
}
