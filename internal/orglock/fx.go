package orglock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/stashworks/jobhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient returns nil when no redis address is configured; the
// billing services treat a nil Locker as best-effort and proceed unlocked.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured, per-org billing lock disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("orglock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
)
