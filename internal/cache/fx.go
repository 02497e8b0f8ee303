package cache

import (
	"context"

	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type storeParams struct {
	fx.In

	Lc    fx.Lifecycle
	Cfg   config.Config
	Clock clock.Clock
	Log   *zap.Logger
}

// NewStore selects the backend named by ROUTING_CACHE_BACKEND.
func NewStore(p storeParams) (Store, error) {
	log := p.Log.Named("cache")

	if p.Cfg.Routing.CacheBackend == config.CacheBackendMemory {
		log.Info("using in-memory routing cache")
		return NewMemoryStore(p.Clock), nil
	}

	client, err := NewRedisClient(p.Cfg)
	if err != nil {
		return nil, err
	}
	store := NewRedisStore(client)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				log.Warn("redis ping failed", zap.String("addr", p.Cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})

	log.Info("using redis routing cache", zap.String("addr", p.Cfg.Redis.Addr))
	return store, nil
}

var Module = fx.Module("cache",
	fx.Provide(NewStore),
)
