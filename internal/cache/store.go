package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrMiss = errors.New("cache_miss")

// Store is a byte-oriented key value store with per-entry expiry. Get returns
// ErrMiss when the key is absent or expired.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key joins the non-empty trimmed parts with ":".
func Key(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, ":")
}
