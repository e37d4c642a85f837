package bootstrap

import (
	"github.com/eleven-am/interview-realtime/internal/history"
	"github.com/eleven-am/interview-realtime/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func ProvideHistoryStore(db *gorm.DB) *history.Store {
	return history.NewStore(db)
}

func RunMigrations(historyStore *history.Store) error {
	return historyStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideHistoryStore,
	),
	fx.Invoke(RunMigrations),
)
