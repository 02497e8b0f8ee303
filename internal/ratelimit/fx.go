package ratelimit

import (
	"context"

	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type limiterParams struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// provideEnrichLimiter returns nil when rate limiting is disabled.
func provideEnrichLimiter(p limiterParams) (*EnrichLimiter, error) {
	log := p.Log.Named("ratelimit")
	if !p.Cfg.RateLimit.Enabled {
		log.Info("enrich rate limit disabled")
		return nil, nil
	}

	client, err := cache.NewRedisClient(p.Cfg)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("enrich rate limit enabled",
		zap.Float64("rate", p.Cfg.RateLimit.EnrichRate),
		zap.Int("burst", p.Cfg.RateLimit.EnrichBurst),
	)
	return NewEnrichLimiter(NewTokenBucket(client), p.Cfg.RateLimit), nil
}

var Module = fx.Module("rate.limit",
	fx.Provide(provideEnrichLimiter),
)
