package ratelimit

import (
	"context"
	"strings"

	"github.com/smallbiznis/farerouter/internal/config"
)

// Bucket is the storage behind a Limiter.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (Result, error)
}

// EnrichLimiter throttles offer enrichment per calling client.
type EnrichLimiter struct {
	bucket Bucket
	prefix string
	rate   float64
	burst  int
}

func NewEnrichLimiter(bucket Bucket, cfg config.RateLimitConfig) *EnrichLimiter {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "ratelimit:enrich"
	}
	return &EnrichLimiter{
		bucket: bucket,
		prefix: prefix,
		rate:   cfg.EnrichRate,
		burst:  cfg.EnrichBurst,
	}
}

// Allow consumes one token for clientID.
func (l *EnrichLimiter) Allow(ctx context.Context, clientID string) (Result, error) {
	if l == nil || l.bucket == nil {
		return Result{Allowed: true}, nil
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return Result{}, ErrEmptyKey
	}
	return l.bucket.Allow(ctx, l.prefix+":"+clientID, l.rate, l.burst)
}
