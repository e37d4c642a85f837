package bootstrap

import (
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/health"
	"github.com/eleven-am/interview-realtime/internal/interview"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	engineClient *engine.Client,
	sessions *interview.Manager,
) *health.Handler {
	return health.NewHandler(db, redis, engineClient, sessions, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(h.Middleware())
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
