package dedup

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/smallbiznis/acquiring/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("dedup",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Clock     clock.Clock
	Log       *zap.Logger
}

// NewStore selects the store implementation from DEDUP_DRIVER.
func NewStore(p Params) Store {
	log := p.Log.Named("dedup")
	if p.Cfg.Dedup.Driver == config.DedupDriverMemory {
		log.Info("using in-memory dedup store")
		return NewMemoryStore(p.Clock)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.Dedup.RedisAddr,
		Password: p.Cfg.Dedup.RedisPassword,
		DB:       p.Cfg.Dedup.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", p.Cfg.Dedup.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis dedup store", zap.String("addr", p.Cfg.Dedup.RedisAddr))
	return NewRedisStore(client)
}
