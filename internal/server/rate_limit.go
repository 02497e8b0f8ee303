package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/farerouter/internal/ratelimit"
	"go.uber.org/zap"
)

const headerClientID = "X-Client-Id"

type enrichLimiter interface {
	Allow(ctx context.Context, clientID string) (ratelimit.Result, error)
}

// EnrichRateLimit rejects enrichment calls over the per-client budget.
// Limiter errors fail open.
func (s *Server) EnrichRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, rateLimitClient(c))
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			s.metrics.RecordRateLimitDenied(ctx, c.FullPath())
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func rateLimitClient(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(headerClientID)); id != "" {
		return id
	}
	return c.ClientIP()
}
