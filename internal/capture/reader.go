package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/listenlab/multiscribe/internal/shared"
)

const (
	defaultInterval  = 1000 * time.Millisecond
	defaultChunkSize = 32 * 1024
	chunkBuffer      = 8
)

// ReaderSource adapts any byte stream (a pipe from an audio tool, a
// recorded file, a test buffer) into a capture source that emits one
// chunk per interval.
type ReaderSource struct {
	cfg ReaderSourceConfig
}

type ReaderSourceConfig struct {
	// Open acquires the underlying stream. Returning an error is treated
	// as a capture-access failure.
	Open func() (io.ReadCloser, error)

	// Interval between chunk deliveries. Defaults to 1000 ms.
	Interval time.Duration

	// ChunkSize caps the bytes read per tick. Defaults to 32 KiB.
	ChunkSize int

	Logger *slog.Logger
}

func NewReaderSource(cfg ReaderSourceConfig) *ReaderSource {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReaderSource{cfg: cfg}
}

func (s *ReaderSource) Open(ctx context.Context) (Handle, error) {
	rc, err := s.cfg.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrCaptureAccess, err)
	}

	h := &readerHandle{
		rc:     rc,
		chunks: make(chan []byte, chunkBuffer),
		done:   make(chan struct{}),
	}

	go h.readLoop(ctx, s.cfg)
	return h, nil
}

type readerHandle struct {
	rc        io.ReadCloser
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (h *readerHandle) Chunks() <-chan []byte {
	return h.chunks
}

func (h *readerHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.rc.Close()
	})
	return nil
}

func (h *readerHandle) readLoop(ctx context.Context, cfg ReaderSourceConfig) {
	defer close(h.chunks)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	buf := make([]byte, cfg.ChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}

		n, err := h.rc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.chunks <- chunk:
			case <-h.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				cfg.Logger.Error("capture read failed", "error", err)
			}
			return
		}
	}
}
