package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listenlab/multiscribe/internal/shared"
)

type countingCloser struct {
	io.Reader
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func newTestSource(r io.Reader, interval time.Duration, chunkSize int) (*ReaderSource, *countingCloser) {
	cc := &countingCloser{Reader: r}
	src := NewReaderSource(ReaderSourceConfig{
		Open:      func() (io.ReadCloser, error) { return cc, nil },
		Interval:  interval,
		ChunkSize: chunkSize,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return src, cc
}

func TestReaderSource_OpenFailure(t *testing.T) {
	src := NewReaderSource(ReaderSourceConfig{
		Open:   func() (io.ReadCloser, error) { return nil, errors.New("device busy") },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := src.Open(context.Background())
	if !errors.Is(err, shared.ErrCaptureAccess) {
		t.Fatalf("expected ErrCaptureAccess, got %v", err)
	}
}

func TestReaderSource_DeliversChunksUntilEOF(t *testing.T) {
	src, _ := newTestSource(bytes.NewReader([]byte("abcdefgh")), time.Millisecond, 3)

	h, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer h.Close()

	var got []byte
	for chunk := range h.Chunks() {
		if len(chunk) == 0 {
			t.Fatal("empty chunk delivered")
		}
		if len(chunk) > 3 {
			t.Fatalf("chunk exceeds configured size: %d", len(chunk))
		}
		got = append(got, chunk...)
	}

	if string(got) != "abcdefgh" {
		t.Errorf("expected full stream, got %q", got)
	}
}

func TestReaderSource_CloseStopsStream(t *testing.T) {
	// A reader that never runs dry, so only Close can end the stream.
	src, cc := newTestSource(&endless{}, time.Millisecond, 4)

	h, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	select {
	case <-h.Chunks():
	case <-time.After(time.Second):
		t.Fatal("no chunk within a second")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if n := cc.closes.Load(); n != 1 {
		t.Errorf("underlying stream should close exactly once, got %d", n)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-h.Chunks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chunk channel did not close after Close")
		}
	}
}

func TestReaderSource_ContextCancelStopsStream(t *testing.T) {
	src, _ := newTestSource(&endless{}, time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := src.Open(ctx)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer h.Close()

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-h.Chunks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chunk channel did not close after context cancel")
		}
	}
}

// endless never runs dry; it fills every read with repeating bytes.
type endless struct{}

func (e *endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x55
	}
	return len(p), nil
}
