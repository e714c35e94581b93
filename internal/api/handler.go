package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/listenlab/multiscribe/internal/controller"
	"github.com/listenlab/multiscribe/internal/dto"
	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/shared"
)

type Handler struct {
	coordinator *controller.Coordinator
	registry    *session.Registry
	logger      *slog.Logger
}

func NewHandler(coordinator *controller.Coordinator, registry *session.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		registry:    registry,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	sessions := g.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.POST("/start", h.StartAll)
	sessions.POST("/stop", h.StopAll)
	sessions.DELETE("/transcripts", h.ClearTranscripts)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.RemoveSession)
	sessions.PATCH("/:id/config", h.UpdateConfig)
	sessions.POST("/:id/provider", h.SwitchProvider)
	sessions.POST("/:id/import", h.ImportConfig)
	sessions.POST("/:id/reset", h.ResetConfig)
	sessions.POST("/:id/start", h.StartSession)
	sessions.POST("/:id/stop", h.StopSession)
	sessions.GET("/:id/preview", h.Preview)
	sessions.GET("/:id/transcript", h.Transcript)

	g.GET("/providers", h.ListProviders)
}

func (h *Handler) sessionID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		return 0, shared.BadRequest("invalid_session_id", "session id must be a non-negative integer")
	}
	return id, nil
}

func (h *Handler) mapError(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return shared.NotFound("session_not_found", "session not found")
	case errors.Is(err, shared.ErrConfigFormat):
		return shared.BadRequest("invalid_config_format", "input is neither valid JSON nor a parseable URL")
	case errors.Is(err, shared.ErrBusy):
		return shared.Conflict("session_busy", "a transition for this session is already in flight")
	case errors.Is(err, shared.ErrTransportUnavailable):
		return shared.ServiceUnavailable("transport_unavailable", "streaming transport is not connected")
	case errors.Is(err, shared.ErrCaptureAccess):
		return shared.BadGateway("capture_unavailable", "audio capture device could not be acquired")
	default:
		h.logger.Error("unexpected error", "error", err)
		return shared.InternalError("internal_error", "internal error")
	}
}

func (h *Handler) toResponse(v session.View, ctrl *controller.Controller) dto.SessionResponse {
	p, _ := h.registry.Schemas().Get(v.Provider)

	resp := dto.SessionResponse{
		ID:            v.ID,
		Provider:      string(v.Provider),
		State:         string(ctrl.State()),
		Recording:     v.Recording,
		Imported:      v.Imported,
		Config:        v.Config,
		Extra:         v.Extra,
		ChangedParams: v.ChangedParams,
		PreviewURL:    session.Render(p, v),
	}
	if cost, ok := ctrl.Cost(); ok {
		resp.Cost = &cost
	}
	return resp
}

func (h *Handler) CreateSession(c echo.Context) error {
	sess := h.coordinator.Create()
	ctrl, err := h.coordinator.Controller(sess.ID)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusCreated, h.toResponse(sess.Snapshot(), ctrl))
}

func (h *Handler) ListSessions(c echo.Context) error {
	all := h.registry.All()
	resp := dto.SessionListResponse{
		Sessions:          make([]dto.SessionResponse, 0, len(all)),
		GloballyRecording: h.coordinator.GloballyRecording(),
	}
	for _, sess := range all {
		ctrl, err := h.coordinator.Controller(sess.ID)
		if err != nil {
			continue
		}
		resp.Sessions = append(resp.Sessions, h.toResponse(sess.Snapshot(), ctrl))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	v, err := h.registry.Snapshot(id)
	if err != nil {
		return h.mapError(err)
	}
	ctrl, err := h.coordinator.Controller(id)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, h.toResponse(v, ctrl))
}

func (h *Handler) RemoveSession(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	h.coordinator.Remove(c.Request().Context(), id)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}

	var req dto.UpdateConfigRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if len(req.Fields) == 0 {
		return shared.BadRequest("empty_update", "no fields to update")
	}

	if err := h.registry.ApplyOverrides(id, req.Fields); err != nil {
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) SwitchProvider(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}

	var req dto.SwitchProviderRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	if err := h.registry.SwitchProvider(id, schema.Kind(req.Provider)); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.BadRequest("unknown_provider", "unknown provider kind")
		}
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) ImportConfig(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}

	var req dto.ImportConfigRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.Input == "" {
		return shared.BadRequest("empty_import", "nothing to import")
	}

	if err := h.registry.Import(id, req.Input); err != nil {
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) ResetConfig(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	if err := h.registry.Reset(id); err != nil {
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) StartSession(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	if err := h.coordinator.Start(c.Request().Context(), id); err != nil {
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) StopSession(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	if err := h.coordinator.Stop(c.Request().Context(), id); err != nil {
		return h.mapError(err)
	}
	return h.GetSession(c)
}

func (h *Handler) StartAll(c echo.Context) error {
	err := h.coordinator.StartAll(c.Request().Context())
	resp := dto.BulkResultResponse{
		Attempted:         h.registry.Len(),
		GloballyRecording: h.coordinator.GloballyRecording(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) StopAll(c echo.Context) error {
	err := h.coordinator.StopAll(c.Request().Context())
	resp := dto.BulkResultResponse{
		Attempted:         h.registry.Len(),
		GloballyRecording: false,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Preview(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	v, err := h.registry.Snapshot(id)
	if err != nil {
		return h.mapError(err)
	}
	p, _ := h.registry.Schemas().Get(v.Provider)

	width := 0
	if w := c.QueryParam("width"); w != "" {
		width, _ = strconv.Atoi(w)
	}

	return c.JSON(http.StatusOK, dto.PreviewResponse{
		URL:   session.Render(p, v),
		Lines: session.RenderLines(p, v, width),
	})
}

func (h *Handler) Transcript(c echo.Context) error {
	id, err := h.sessionID(c)
	if err != nil {
		return err
	}
	t, err := h.coordinator.Transcript(id)
	if err != nil {
		return h.mapError(err)
	}
	finals, interim := t.Snapshot()
	return c.JSON(http.StatusOK, dto.TranscriptResponse{
		SessionID: id,
		Finals:    finals,
		Interim:   interim,
	})
}

func (h *Handler) ClearTranscripts(c echo.Context) error {
	h.coordinator.ClearTranscripts()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListProviders(c echo.Context) error {
	schemas := h.registry.Schemas()
	out := make([]dto.ProviderResponse, 0)
	for _, kind := range schemas.Kinds() {
		p, _ := schemas.Get(kind)
		out = append(out, dto.ProviderResponse{
			Kind:         string(p.Kind),
			Fields:       p.Fields,
			Defaults:     p.Defaults,
			PricePerHour: p.PricePerHour,
		})
	}
	return c.JSON(http.StatusOK, out)
}
