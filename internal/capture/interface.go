package capture

import "context"

// Handle is an open capture device. Chunks delivers binary audio at the
// source's fixed cadence, never merged or reordered; the channel closes
// when the device is released or the underlying stream ends. Close is
// idempotent.
type Handle interface {
	Chunks() <-chan []byte
	Close() error
}

// Source acquires capture devices. Open fails with
// shared.ErrCaptureAccess when the device cannot be acquired.
type Source interface {
	Open(ctx context.Context) (Handle, error)
}
