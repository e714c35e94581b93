package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/listenlab/multiscribe/internal/capture"
	"github.com/listenlab/multiscribe/internal/controller"
	"github.com/listenlab/multiscribe/internal/dto"
	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/shared"
	"github.com/listenlab/multiscribe/internal/transport"
)

type stubTransport struct {
	mu        sync.Mutex
	connected bool
	controls  []transport.ControlMessage
}

func (s *stubTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubTransport) SendAudioFrame(int, []byte) error { return nil }

func (s *stubTransport) SendControl(_ context.Context, msg transport.ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return shared.ErrTransportUnavailable
	}
	s.controls = append(s.controls, msg)
	return nil
}

func (s *stubTransport) Close() error { return nil }

type stubSource struct {
	openErr error
}

func (s *stubSource) Open(context.Context) (capture.Handle, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &stubHandle{chunks: make(chan []byte)}, nil
}

type stubHandle struct {
	chunks    chan []byte
	closeOnce sync.Once
}

func (h *stubHandle) Chunks() <-chan []byte { return h.chunks }

func (h *stubHandle) Close() error {
	h.closeOnce.Do(func() { close(h.chunks) })
	return nil
}

type testEnv struct {
	e           *echo.Echo
	coordinator *controller.Coordinator
	transport   *stubTransport
}

func newTestEnv(t *testing.T, tr *stubTransport, src *stubSource) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := session.NewRegistry(schema.Builtin(), logger)
	co := controller.NewCoordinator(controller.CoordinatorConfig{
		Registry:  registry,
		Transport: tr,
		Source:    src,
		Logger:    logger,
	})

	e := echo.New()
	NewHandler(co, registry, logger).RegisterRoutes(e.Group("/v1"))
	return &testEnv{e: e, coordinator: co, transport: tr}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) dto.SessionResponse {
	t.Helper()
	var resp dto.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v\nbody: %s", err, rec.Body.String())
	}
	return resp
}

func TestCreateAndGetSession(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})

	rec := env.do(http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeSession(t, rec)
	if created.ID != 0 || created.Provider != "deepgram" || created.State != "idle" {
		t.Errorf("unexpected session: %+v", created)
	}
	if !strings.HasPrefix(created.PreviewURL, "wss://api.deepgram.com/v1/listen?") {
		t.Errorf("preview missing: %s", created.PreviewURL)
	}
	if created.Cost != nil {
		t.Error("idle session should not expose a cost")
	}

	rec = env.do(http.MethodGet, "/v1/sessions/0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeSession(t, rec); got.ID != 0 {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestGetSession_Errors(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})

	if rec := env.do(http.MethodGet, "/v1/sessions/5", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/v1/sessions/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/v1/sessions/-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative id: expected 400, got %d", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodGet, "/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.SessionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(resp.Sessions))
	}
	if resp.GloballyRecording {
		t.Error("nothing started, globally_recording should be false")
	}
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodPatch, "/v1/sessions/0/config", `{"fields": {"language": "de", "keywords": "go"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSession(t, rec)
	if resp.Config["language"] != "de" {
		t.Errorf("language not updated: %v", resp.Config)
	}
	if resp.Extra["keywords"] != "go" {
		t.Errorf("unknown key should land in extra: %v", resp.Extra)
	}

	if rec := env.do(http.MethodPatch, "/v1/sessions/0/config", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty update: expected 400, got %d", rec.Code)
	}
}

func TestSwitchProvider(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodPost, "/v1/sessions/0/provider", `{"provider": "microsoft"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeSession(t, rec); resp.Provider != "microsoft" {
		t.Errorf("provider not switched: %+v", resp)
	}

	if rec := env.do(http.MethodPost, "/v1/sessions/0/provider", `{"provider": "whisper"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider: expected 400, got %d", rec.Code)
	}
}

func TestImportAndReset(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodPost, "/v1/sessions/0/import",
		`{"input": "wss://api.beta.deepgram.com/v1/listen?model=nova-2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSession(t, rec)
	if !resp.Imported {
		t.Error("session should be flagged imported")
	}
	if resp.Config["base_url"] != "api.beta.deepgram.com" || resp.Config["model"] != "nova-2" {
		t.Errorf("import not applied: %v", resp.Config)
	}

	if rec := env.do(http.MethodPost, "/v1/sessions/0/import", `{"input": "   "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("garbage import: expected 400, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/v1/sessions/0/import", `{"input": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty import: expected 400, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/sessions/0/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	resp = decodeSession(t, rec)
	if resp.Imported || resp.Config["model"] != "nova-3" {
		t.Errorf("reset not applied: %+v", resp)
	}
}

func TestStartStopSession(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodPost, "/v1/sessions/0/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSession(t, rec)
	if resp.State != "recording" || !resp.Recording {
		t.Errorf("session should be recording: %+v", resp)
	}
	if resp.Cost == nil {
		t.Error("recording session should expose a cost")
	}

	if rec := env.do(http.MethodPost, "/v1/sessions/0/start", ""); rec.Code != http.StatusConflict {
		t.Errorf("double start: expected 409, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/sessions/0/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	resp = decodeSession(t, rec)
	if resp.State != "idle" || resp.Recording {
		t.Errorf("session should be idle: %+v", resp)
	}
}

func TestStartSession_TransportDown(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: false}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	if rec := env.do(http.MethodPost, "/v1/sessions/0/start", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestStartSession_CaptureFailure(t *testing.T) {
	openErr := fmt.Errorf("%w: mic busy", shared.ErrCaptureAccess)
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{openErr: openErr})
	env.do(http.MethodPost, "/v1/sessions", "")
	if rec := env.do(http.MethodPost, "/v1/sessions/0/start", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestBulkStartStop(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodPost, "/v1/sessions/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bulk dto.BulkResultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &bulk); err != nil {
		t.Fatal(err)
	}
	if bulk.Attempted != 2 || !bulk.GloballyRecording || bulk.Error != "" {
		t.Errorf("unexpected bulk result: %+v", bulk)
	}

	rec = env.do(http.MethodPost, "/v1/sessions/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bulk); err != nil {
		t.Fatal(err)
	}
	if bulk.GloballyRecording {
		t.Error("globally_recording should clear after a bulk stop")
	}
}

func TestRemoveSession(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	if rec := env.do(http.MethodDelete, "/v1/sessions/0", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/v1/sessions/0", ""); rec.Code != http.StatusNotFound {
		t.Errorf("removed session should be gone, got %d", rec.Code)
	}
	// Removing again stays a 204; the operation is idempotent.
	if rec := env.do(http.MethodDelete, "/v1/sessions/0", ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	rec := env.do(http.MethodGet, "/v1/sessions/0/preview?width=48", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dto.PreviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.URL, "wss://api.deepgram.com/v1/listen?") {
		t.Errorf("unexpected url: %s", resp.URL)
	}
	if len(resp.Lines) < 2 {
		t.Errorf("narrow width should reflow, got %v", resp.Lines)
	}
}

func TestTranscriptEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})
	env.do(http.MethodPost, "/v1/sessions", "")

	env.coordinator.HandleTranscription(transport.TranscriptionResult{
		SessionID: 0, Transcription: "hello there", IsFinal: true,
	})
	env.coordinator.HandleTranscription(transport.TranscriptionResult{
		SessionID: 0, Transcription: "and no", IsFinal: false,
	})

	rec := env.do(http.MethodGet, "/v1/sessions/0/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dto.TranscriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Finals) != 1 || resp.Finals[0] != "hello there" || resp.Interim != "and no" {
		t.Errorf("unexpected transcript: %+v", resp)
	}

	if rec := env.do(http.MethodDelete, "/v1/sessions/transcripts", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/v1/sessions/0/transcript", "")
	var cleared dto.TranscriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cleared); err != nil {
		t.Fatal(err)
	}
	if len(cleared.Finals) != 0 || cleared.Interim != "" {
		t.Errorf("transcript should be cleared: %+v", cleared)
	}
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, &stubTransport{connected: true}, &stubSource{})

	rec := env.do(http.MethodGet, "/v1/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp []dto.ProviderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(resp))
	}
	if resp[0].Kind != "deepgram" || resp[0].PricePerHour != 0.46 {
		t.Errorf("unexpected first provider: %+v", resp[0])
	}
}
