package transport

type ControlAction string

const (
	ControlStart ControlAction = "start"
	ControlStop  ControlAction = "stop"
)

// ControlMessage is a session-scoped start or stop request. Start carries
// the fully resolved configuration, including nested extra parameters.
type ControlMessage struct {
	SessionID int
	Action    ControlAction
	Provider  string
	Config    map[string]any
}

// TranscriptionResult is an inbound transcription fragment. Results for
// one session arrive in transport order; no ordering holds across
// sessions.
type TranscriptionResult struct {
	SessionID     int
	Transcription string
	IsFinal       bool
}

// Callbacks deliver connection-state changes and inbound events.
// Transport-level errors are informational; only OnDisconnected forces
// session state changes.
type Callbacks struct {
	OnConnected     func()
	OnDisconnected  func()
	OnError         func(error)
	OnTranscription func(TranscriptionResult)
}

const (
	messageTypeControl       = "control"
	messageTypeAck           = "ack"
	messageTypeTranscription = "transcription"
	messageTypeError         = "error"
)

// envelope is the JSON frame exchanged on the text channel.
type envelope struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID int            `json:"session_id"`
	Action    ControlAction  `json:"action,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Config    map[string]any `json:"config,omitempty"`

	Transcription string `json:"transcription,omitempty"`
	IsFinal       bool   `json:"is_final,omitempty"`
	Message       string `json:"message,omitempty"`
}
