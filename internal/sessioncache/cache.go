// Package sessioncache persists the routing decisions shown to a search
// session so the booking step can replay them.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/config"
	"github.com/smallbiznis/farerouter/internal/observability/metrics"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPrefix = "routing"

	defaultTTL     = 30 * time.Minute
	defaultTimeout = 500 * time.Millisecond
)

const (
	writeOK        = "ok"
	writeError     = "error"
	writeTimeout   = "timeout"
	writeCancelled = "cancelled"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Store   cache.Store
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Cache struct {
	log     *zap.Logger
	store   cache.Store
	clock   clock.Clock
	metrics *metrics.Metrics
	ttl     time.Duration
	timeout time.Duration
}

func New(p Params) *Cache {
	ttl := p.Cfg.Routing.SessionTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	timeout := p.Cfg.Routing.CacheTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Cache{
		log:     p.Log.Named("routing.sessioncache"),
		store:   p.Store,
		clock:   c,
		metrics: p.Metrics,
		ttl:     ttl,
		timeout: timeout,
	}
}

// Key returns the store key of a session document.
func Key(sessionID string) string {
	return cache.Key(keyPrefix, sessionID)
}

// CacheRoutingDecisions replaces the session document with the given offers.
func (c *Cache) CacheRoutingDecisions(ctx context.Context, sessionID, searchID string, offers []routingdomain.EnrichedFlightOffer) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return routingdomain.ErrMissingSessionID
	}
	if err := ctx.Err(); err != nil {
		c.metrics.RecordSessionCacheWrite(ctx, writeCancelled)
		return err
	}

	now := c.clock.Now()
	doc := BuildRoutingData(sessionID, strings.TrimSpace(searchID), offers, now, c.ttl)
	payload, err := json.Marshal(doc)
	if err != nil {
		c.metrics.RecordSessionCacheWrite(ctx, writeError)
		return fmt.Errorf("encode routing session: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.store.Set(writeCtx, Key(sessionID), payload, c.ttl); err != nil {
		reason := writeError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = writeTimeout
		}
		c.metrics.RecordSessionCacheWrite(ctx, reason)
		return fmt.Errorf("write routing session %s: %w", sessionID, err)
	}

	c.metrics.RecordSessionCacheWrite(ctx, writeOK)
	c.log.Debug("routing session cached",
		zap.String("session_id", sessionID),
		zap.Int("offers", len(doc.Offers)),
	)
	return nil
}

// GetSessionRoutingData returns nil without error when the session is absent
// or expired.
func (c *Cache) GetSessionRoutingData(ctx context.Context, sessionID string) (*routingdomain.CachedRoutingData, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, routingdomain.ErrMissingSessionID
	}

	readCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := c.store.Get(readCtx, Key(sessionID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read routing session %s: %w", sessionID, err)
	}

	var doc routingdomain.CachedRoutingData
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode routing session %s: %w", sessionID, err)
	}
	if !doc.ExpiresAt.IsZero() && !c.clock.Now().Before(doc.ExpiresAt) {
		return nil, nil
	}
	if doc.Offers == nil {
		doc.Offers = map[string]routingdomain.CachedRoutingInfo{}
	}
	return &doc, nil
}

// BuildRoutingData projects enriched offers into a session document. A later
// offer with a duplicate id replaces the earlier one.
func BuildRoutingData(sessionID, searchID string, offers []routingdomain.EnrichedFlightOffer, now time.Time, ttl time.Duration) routingdomain.CachedRoutingData {
	doc := routingdomain.CachedRoutingData{
		SessionID: sessionID,
		SearchID:  searchID,
		Offers:    make(map[string]routingdomain.CachedRoutingInfo, len(offers)),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	for _, offer := range offers {
		if strings.TrimSpace(offer.OfferID) == "" {
			continue
		}
		doc.Offers[offer.OfferID] = toRoutingInfo(offer, now)
	}
	doc.Stats = buildStats(doc.Offers)
	return doc
}

func toRoutingInfo(offer routingdomain.EnrichedFlightOffer, now time.Time) routingdomain.CachedRoutingInfo {
	computedAt := offer.EnrichedAt
	if computedAt.IsZero() {
		computedAt = now
	}
	info := routingdomain.CachedRoutingInfo{
		OfferID:            offer.OfferID,
		Channel:            offer.Routing.Channel,
		DecisionReason:     offer.Routing.DecisionReason,
		IsExcluded:         offer.Routing.IsExcluded,
		ExclusionReason:    offer.Routing.ExclusionReason,
		CommissionPct:      offer.Routing.CommissionPct,
		CommissionAmount:   offer.Routing.CommissionAmount,
		ConsolidatorProfit: offer.Routing.ConsolidatorProfit,
		DuffelProfit:       offer.Routing.DuffelProfit,
		EstimatedProfit:    offer.EstimatedProfit,
		Currency:           offer.Routing.Currency,
		ValidatingCarrier:  offer.Routing.ValidatingCarrier,
		ComputedAt:         computedAt,
	}
	if offer.Routing.Ticketing != nil {
		info.TourCode = offer.Routing.Ticketing.TourCode
		info.TicketDesignator = offer.Routing.Ticketing.TicketDesignator
	}
	return info
}

func buildStats(offers map[string]routingdomain.CachedRoutingInfo) routingdomain.SessionStats {
	stats := routingdomain.SessionStats{
		Total:                  len(offers),
		TotalEstimatedProfit:   decimal.Zero,
		AverageEstimatedProfit: decimal.Zero,
	}
	for _, info := range offers {
		if info.Channel == routingdomain.ChannelConsolidator {
			stats.ConsolidatorCount++
		} else {
			stats.DuffelCount++
		}
		if info.IsExcluded {
			stats.ExcludedCount++
		}
		stats.TotalEstimatedProfit = stats.TotalEstimatedProfit.Add(info.EstimatedProfit)
	}
	stats.TotalEstimatedProfit = stats.TotalEstimatedProfit.Round(2)
	if stats.Total > 0 {
		stats.AverageEstimatedProfit = stats.TotalEstimatedProfit.Div(decimal.NewFromInt(int64(stats.Total))).Round(2)
	}
	return stats
}

var _ routingdomain.SessionCache = (*Cache)(nil)
