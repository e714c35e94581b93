package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/listenlab/multiscribe/internal/api"
	"github.com/listenlab/multiscribe/internal/capture"
	"github.com/listenlab/multiscribe/internal/controller"
	"github.com/listenlab/multiscribe/internal/health"
	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/session"
	"github.com/listenlab/multiscribe/internal/transport"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideSchemaRegistry(cfg *Config) (*schema.Registry, error) {
	return schema.Load(cfg.SchemaPath)
}

func ProvideSessionRegistry(schemas *schema.Registry, logger *slog.Logger) *session.Registry {
	return session.NewRegistry(schemas, logger)
}

func ProvideCaptureSource(cfg *Config, logger *slog.Logger) capture.Source {
	return capture.NewReaderSource(capture.ReaderSourceConfig{
		Open: func() (io.ReadCloser, error) {
			return os.Open(cfg.CapturePath)
		},
		Interval: cfg.CaptureInterval,
		Logger:   logger,
	})
}

// transportEvents breaks the construction cycle between the transport
// (which needs callbacks at dial time) and the coordinator (which needs
// the transport). Events arriving before Bind are dropped.
type transportEvents struct {
	mu          sync.RWMutex
	coordinator *controller.Coordinator
}

func (r *transportEvents) Bind(co *controller.Coordinator) {
	r.mu.Lock()
	r.coordinator = co
	r.mu.Unlock()
}

func (r *transportEvents) get() *controller.Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coordinator
}

func (r *transportEvents) callbacks(logger *slog.Logger) transport.Callbacks {
	return transport.Callbacks{
		OnDisconnected: func() {
			if co := r.get(); co != nil {
				co.HandleDisconnect()
			}
		},
		OnError: func(err error) {
			logger.Error("transport error", "error", err)
		},
		OnTranscription: func(res transport.TranscriptionResult) {
			if co := r.get(); co != nil {
				co.HandleTranscription(res)
			}
		},
	}
}

func ProvideTransportEvents() *transportEvents {
	return &transportEvents{}
}

func ProvideTransport(lc fx.Lifecycle, cfg *Config, events *transportEvents, logger *slog.Logger) transport.Adapter {
	client := transport.NewClient(transport.WSConfig{
		URL:            cfg.TransportURL,
		AckTimeout:     cfg.AckTimeout,
		AudioBuffer:    cfg.AudioBufferSize,
		ReconnectDelay: cfg.ReconnectDelay,
		Callbacks:      events.callbacks(logger),
		Logger:         logger,
	})

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func ProvideCoordinator(
	lc fx.Lifecycle,
	registry *session.Registry,
	tr transport.Adapter,
	source capture.Source,
	events *transportEvents,
	logger *slog.Logger,
) *controller.Coordinator {
	co := controller.NewCoordinator(controller.CoordinatorConfig{
		Registry:  registry,
		Transport: tr,
		Source:    source,
		Logger:    logger,
	})
	events.Bind(co)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// One session exists from the start, matching the reference
			// front end's automatic first provider.
			if registry.Len() == 0 {
				co.Create()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return co.Close(ctx)
		},
	})
	return co
}

func ProvideAPIHandler(co *controller.Coordinator, registry *session.Registry, logger *slog.Logger) *api.Handler {
	return api.NewHandler(co, registry, logger.With("handler", "api"))
}

func ProvideHealthHandler(registry *session.Registry, co *controller.Coordinator, tr transport.Adapter) *health.Handler {
	return health.NewHandler(registry, co, tr)
}

type RouteParams struct {
	fx.In

	APIHandler    *api.Handler
	HealthHandler *health.Handler
}

func RegisterRoutes(e *echo.Echo, params RouteParams) {
	params.APIHandler.RegisterRoutes(e.Group("/v1"))
	params.HealthHandler.RegisterRoutes(e)
}

var CoreModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideSchemaRegistry,
		ProvideSessionRegistry,
		ProvideCaptureSource,
		ProvideTransportEvents,
		ProvideTransport,
		ProvideCoordinator,
		ProvideAPIHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		CoreModule,
		ServerModule,
	).Run()
}
