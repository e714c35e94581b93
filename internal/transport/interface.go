package transport

import "context"

// Adapter is the single shared full-duplex channel carrying every
// session's control messages, audio frames, and transcription events.
// Connection state is externally driven; session controllers treat it as
// read-only input.
type Adapter interface {
	IsConnected() bool

	// SendAudioFrame is best-effort: a saturated transport may shed
	// frames rather than block the capture cadence.
	SendAudioFrame(sessionID int, data []byte) error

	// SendControl transmits a start or stop message. Acknowledgements
	// are a diagnostic concern of the implementation and never surface
	// to the caller.
	SendControl(ctx context.Context, msg ControlMessage) error

	Close() error
}
