package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/config"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"github.com/smallbiznis/farerouter/internal/sessioncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenCache struct{}

func (brokenCache) CacheRoutingDecisions(context.Context, string, string, []routingdomain.EnrichedFlightOffer) error {
	return errors.New("unavailable")
}

func (brokenCache) GetSessionRoutingData(context.Context, string) (*routingdomain.CachedRoutingData, error) {
	return nil, errors.New("unavailable")
}

type fixture struct {
	router routingdomain.BookingRouter
	cache  *sessioncache.Cache
	store  *cache.MemoryStore
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemoryStore(fake)
	sc := sessioncache.New(sessioncache.Params{
		Cfg:   config.Config{Routing: config.RoutingConfig{SessionTTL: 30 * time.Minute, CacheTimeout: time.Second}},
		Log:   zap.NewNop(),
		Store: store,
		Clock: fake,
	})
	return fixture{
		router: NewRouter(Params{Log: zap.NewNop(), Cache: sc}),
		cache:  sc,
		store:  store,
		clock:  fake,
	}
}

func consolidatorOffer(id string) routingdomain.EnrichedFlightOffer {
	return routingdomain.EnrichedFlightOffer{
		OfferID: id,
		Routing: routingdomain.CommissionResult{
			CommissionPct:      decimal.NewFromInt(2),
			CommissionAmount:   decimal.NewFromInt(12),
			ConsolidatorProfit: decimal.NewFromInt(10),
			Channel:            routingdomain.ChannelConsolidator,
			DecisionReason:     routingdomain.ReasonCommissionAboveThreshold,
			Currency:           "USD",
			ValidatingCarrier:  "AA",
		},
		EstimatedProfit: decimal.NewFromInt(10),
	}
}

func duffelOffer(id, reason string) routingdomain.EnrichedFlightOffer {
	return routingdomain.EnrichedFlightOffer{
		OfferID: id,
		Routing: routingdomain.CommissionResult{
			Channel:           routingdomain.ChannelDuffel,
			DecisionReason:    reason,
			DuffelProfit:      decimal.NewFromInt(3),
			Currency:          "USD",
			ValidatingCarrier: "NK",
		},
		EstimatedProfit: decimal.NewFromInt(3),
	}
}

func TestGetFlightRoutingDecision_ReplaysCachedDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-1", "srch-1", []routingdomain.EnrichedFlightOffer{
		consolidatorOffer("off-1"),
		duffelOffer("off-2", routingdomain.ReasonCommissionBelowThreshold),
	}))

	decision := f.router.GetFlightRoutingDecision(ctx, "sess-1", "off-1")
	assert.Equal(t, routingdomain.ChannelConsolidator, decision.Channel)
	assert.Equal(t, routingdomain.ReasonCommissionAboveThreshold, decision.Reason)
	assert.False(t, decision.Fallback)
	require.NotNil(t, decision.RoutingInfo)
	assert.Equal(t, "off-1", decision.RoutingInfo.OfferID)

	decision = f.router.GetFlightRoutingDecision(ctx, "sess-1", "off-2")
	assert.Equal(t, routingdomain.ChannelDuffel, decision.Channel)
	assert.Equal(t, routingdomain.ReasonCommissionBelowThreshold, decision.Reason)
	assert.False(t, decision.Fallback)

	assert.True(t, f.router.ShouldUseConsolidator(ctx, "sess-1", "off-1"))
	assert.False(t, f.router.ShouldUseConsolidator(ctx, "sess-1", "off-2"))
}

func TestGetFlightRoutingDecision_Fallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-1", "srch-1", []routingdomain.EnrichedFlightOffer{
		consolidatorOffer("off-1"),
	}))

	tests := []struct {
		name      string
		sessionID string
		offerID   string
		reason    string
	}{
		{name: "missing session id", sessionID: "", offerID: "off-1", reason: routingdomain.ReasonFallbackNoRoutingData},
		{name: "missing offer id", sessionID: "sess-1", offerID: " ", reason: routingdomain.ReasonFallbackNoRoutingData},
		{name: "unknown session", sessionID: "sess-404", offerID: "off-1", reason: routingdomain.ReasonRoutingSessionExpired},
		{name: "offer not in session", sessionID: "sess-1", offerID: "off-9", reason: routingdomain.ReasonFlightNotInSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := f.router.GetFlightRoutingDecision(ctx, tt.sessionID, tt.offerID)
			assert.Equal(t, routingdomain.ChannelDuffel, decision.Channel)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.True(t, decision.Fallback)
			assert.Nil(t, decision.RoutingInfo)
		})
	}
}

func TestGetFlightRoutingDecision_ExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-1", "srch-1", []routingdomain.EnrichedFlightOffer{
		consolidatorOffer("off-1"),
	}))

	f.clock.Advance(31 * time.Minute)

	decision := f.router.GetFlightRoutingDecision(ctx, "sess-1", "off-1")
	assert.Equal(t, routingdomain.ChannelDuffel, decision.Channel)
	assert.Equal(t, routingdomain.ReasonRoutingSessionExpired, decision.Reason)
	assert.True(t, decision.Fallback)
}

func TestGetFlightRoutingDecision_BackendError(t *testing.T) {
	router := NewRouter(Params{Log: zap.NewNop(), Cache: brokenCache{}})

	decision := router.GetFlightRoutingDecision(context.Background(), "sess-1", "off-1")
	assert.Equal(t, routingdomain.ChannelDuffel, decision.Channel)
	assert.Equal(t, routingdomain.ReasonRoutingLookupError, decision.Reason)
	assert.True(t, decision.Fallback)
	assert.False(t, router.ShouldUseConsolidator(context.Background(), "sess-1", "off-1"))
}

func TestGetFlightRoutingDecision_CorruptDocument(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), sessioncache.Key("sess-1"),
		[]byte(`{"session_id":"sess-1","offers":{"off-1":{"channel":"AMADEUS"}}}`), time.Hour))

	decision := f.router.GetFlightRoutingDecision(context.Background(), "sess-1", "off-1")
	assert.Equal(t, routingdomain.ChannelDuffel, decision.Channel)
	assert.Equal(t, routingdomain.ReasonRoutingLookupError, decision.Reason)
}

func TestGetFlightRoutingDecision_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-a", "srch-a", []routingdomain.EnrichedFlightOffer{
		consolidatorOffer("off-1"),
	}))
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-b", "srch-b", []routingdomain.EnrichedFlightOffer{
		duffelOffer("off-2", routingdomain.ReasonLCCAirline),
	}))

	decision := f.router.GetFlightRoutingDecision(ctx, "sess-b", "off-1")
	assert.Equal(t, routingdomain.ReasonFlightNotInSession, decision.Reason)

	decision = f.router.GetFlightRoutingDecision(ctx, "sess-a", "off-1")
	assert.Equal(t, routingdomain.ChannelConsolidator, decision.Channel)
}

func TestGetSessionRoutingSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.CacheRoutingDecisions(ctx, "sess-1", "srch-1", []routingdomain.EnrichedFlightOffer{
		consolidatorOffer("off-1"),
		duffelOffer("off-2", routingdomain.ReasonLCCAirline),
	}))

	stats, err := f.router.GetSessionRoutingSummary(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ConsolidatorCount)
	assert.Equal(t, "13.00", stats.TotalEstimatedProfit.StringFixed(2))

	stats, err = f.router.GetSessionRoutingSummary(ctx, "sess-404")
	require.NoError(t, err)
	assert.Nil(t, stats)

	doc, err := f.router.GetSessionRoutingData(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Len(t, doc.Offers, 2)
}
