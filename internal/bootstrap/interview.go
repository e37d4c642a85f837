package bootstrap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/eleven-am/interview-realtime/internal/capture"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/history"
	"github.com/eleven-am/interview-realtime/internal/interview"
	"github.com/eleven-am/interview-realtime/internal/playback"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func ProvideEngineClient(cfg *Config, logger *slog.Logger) *engine.Client {
	return engine.New(engine.Config{
		BaseURL:    cfg.EngineURL,
		Token:      cfg.EngineToken,
		Timeout:    cfg.EngineTimeout,
		RetryCount: cfg.EngineRetries,
	}, logger)
}

func ProvideRealtimeConfig(cfg *Config) realtime.Config {
	return realtime.Config{
		Policy: realtime.Policy{
			Delays:      cfg.ReconnectDelays,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		ConnectTimeout: cfg.ConnectTimeout,
	}
}

func ProvideCaptureConfig(cfg *Config) capture.Config {
	constraints := capture.DefaultConstraints()
	constraints.SampleRate = cfg.SampleRate
	constraints.Channels = cfg.Channels
	return capture.Config{Constraints: constraints}
}

func ProvideDialer(cfg *Config) realtime.Dialer {
	header := http.Header{}
	if cfg.EngineToken != "" {
		header.Set("Authorization", "Bearer "+cfg.EngineToken)
	}
	return realtime.WebsocketDialer{Header: header}
}

type FactoryParams struct {
	fx.In

	Realtime realtime.Config
	Capture  capture.Config
	Dialer   realtime.Dialer
	Logger   *slog.Logger
}

func ProvideFactory(params FactoryParams) interview.Factory {
	return interview.NewFactory(interview.FactoryConfig{
		Realtime: params.Realtime,
		Capture:  params.Capture,
		Dialer:   params.Dialer,
		Device:   capture.NewMalgoDevice(params.Logger),
		Sink:     playback.NewMalgoSink(params.Logger),
	})
}

type ManagerParams struct {
	fx.In

	Config    *Config
	Factory   interview.Factory
	Engine    *engine.Client
	Snapshots *session.Store
	History   *history.Store
	Logger    *slog.Logger
}

func ProvideInterviewManager(lc fx.Lifecycle, params ManagerParams) *interview.Manager {
	m := interview.NewManager(interview.ManagerConfig{
		Factory: params.Factory,
		Engine:  params.Engine,
		Session: interview.SessionConfig{
			ChunkSize:        params.Config.ChunkSize,
			UploadRecordings: params.Config.UploadRecordings,
			UploadTimeout:    params.Config.UploadTimeout,
		},
		Snapshots: params.Snapshots,
		History:   params.History,
		Log:       params.Logger,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return m.Close()
		},
	})
	return m
}

func ProvideInterviewHandler(m *interview.Manager, logger *slog.Logger) *interview.Handler {
	return interview.NewHandler(m, logger.With("handler", "interview"))
}

func ProvideSessionHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "session"))
}

func ProvideHistoryHandler(store *history.Store, logger *slog.Logger) *history.Handler {
	return history.NewHandler(store, logger.With("handler", "history"))
}

type RouteParams struct {
	fx.In

	Interviews *interview.Handler
	Sessions   *session.Handler
	History    *history.Handler
	Config     *Config
}

func RegisterRoutes(e *echo.Echo, params RouteParams) {
	api := e.Group("/api/v1")

	interviews := api.Group("/interviews")
	interviews.Use(interview.RateLimiter(interview.RateLimiterConfig{
		RequestsPerSecond: params.Config.RateLimitRPS,
		Burst:             params.Config.RateLimitBurst,
	}))
	params.Interviews.RegisterRoutes(interviews)

	params.Sessions.RegisterRoutes(api.Group("/sessions"))
	params.History.RegisterRoutes(api.Group("/history"))
}

var InterviewModule = fx.Options(
	fx.Provide(
		ProvideEngineClient,
		ProvideRealtimeConfig,
		ProvideCaptureConfig,
		ProvideDialer,
		ProvideFactory,
		ProvideInterviewManager,
		ProvideInterviewHandler,
		ProvideSessionHandler,
		ProvideHistoryHandler,
	),
	fx.Invoke(RegisterRoutes),
)
