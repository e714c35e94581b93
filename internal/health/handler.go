package health

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/listenlab/multiscribe/internal/controller"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/transport"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

type SessionStats struct {
	Live      int `json:"live"`
	Recording int `json:"recording"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type HealthResponse struct {
	Status             Status       `json:"status"`
	Timestamp          time.Time    `json:"timestamp"`
	UptimeSeconds      int64        `json:"uptime_seconds"`
	TransportConnected bool         `json:"transport_connected"`
	Sessions           SessionStats `json:"sessions"`
	Runtime            RuntimeStats `json:"runtime"`
}

type Handler struct {
	registry    *session.Registry
	coordinator *controller.Coordinator
	transport   transport.Adapter
	startTime   time.Time
}

func NewHandler(registry *session.Registry, coordinator *controller.Coordinator, tr transport.Adapter) *Handler {
	return &Handler{
		registry:    registry,
		coordinator: coordinator,
		transport:   tr,
		startTime:   time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readiness reports degraded while the streaming transport is down; the
// process stays useful for configuration editing either way.
func (h *Handler) Readiness(c echo.Context) error {
	recording := 0
	for _, sess := range h.registry.All() {
		if sess.IsRecording() {
			recording++
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := StatusHealthy
	if !h.transport.IsConnected() {
		status = StatusDegraded
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:             status,
		Timestamp:          time.Now().UTC(),
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		TransportConnected: h.transport.IsConnected(),
		Sessions: SessionStats{
			Live:      h.registry.Len(),
			Recording: recording,
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	})
}
