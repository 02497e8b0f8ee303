package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/clock"
	commissionservice "github.com/smallbiznis/farerouter/internal/commission/service"
	"github.com/smallbiznis/farerouter/internal/config"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureRecorder struct {
	mu      sync.Mutex
	offers  []routingdomain.EnrichedFlightOffer
	options []routingdomain.OfferOptions
}

func (r *captureRecorder) Record(_ context.Context, offer routingdomain.EnrichedFlightOffer, opts routingdomain.OfferOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, offer)
	r.options = append(r.options, opts)
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offers)
}

func testRules(t *testing.T) config.RoutingRulesSource {
	t.Helper()
	rules, err := config.CompileRoutingRules(config.RoutingRulesFile{
		CommissionThreshold: 5,
		DuffelMarkupPct:     1,
		DefaultCurrency:     "USD",
		LCCAirlines:         []string{"NK", "F9"},
		CommissionRules: []config.CommissionRuleConfig{
			{Airline: "AA", CommissionPct: 2},
			{Airline: "BA", CommissionPct: 3},
		},
	})
	require.NoError(t, err)
	return config.StaticRoutingRules(rules)
}

func newTestEngine(t *testing.T, recorder routingdomain.DecisionRecorder) (*Engine, *clock.FakeClock) {
	t.Helper()
	rules := testRules(t)
	fake := clock.NewFakeClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	svc := NewEngine(Params{
		Cfg:        config.Config{Routing: config.RoutingConfig{EnrichParallelism: 4}},
		Log:        zap.NewNop(),
		Calculator: commissionservice.NewCalculator(rules),
		Rules:      rules,
		Recorder:   recorder,
		Clock:      fake,
	})
	return svc.(*Engine), fake
}

func offerRequest(id, airline, fare string) routingdomain.OfferRequest {
	amount := decimal.RequireFromString(fare)
	return routingdomain.OfferRequest{
		OfferID: id,
		Source:  "duffel",
		Segments: []routingdomain.FlightSegment{{
			Airline:     airline,
			Origin:      "JFK",
			Destination: "LAX",
			DepartureAt: time.Date(2026, 11, 3, 8, 30, 0, 0, time.UTC),
			CabinClass:  "economy",
		}},
		BaseFare:  amount,
		TotalFare: amount,
		Currency:  "USD",
		Options: routingdomain.OfferOptions{
			SearchID:  "srch-1",
			SessionID: "sess-1",
			Passenger: routingdomain.PassengerContext{Type: "ADT", Count: 1},
		},
	}
}

func TestEnrichOffer_ConsolidatorDecision(t *testing.T) {
	recorder := &captureRecorder{}
	engine, fake := newTestEngine(t, recorder)

	offer, err := engine.EnrichOffer(context.Background(), offerRequest("off-1", "AA", "600"))
	require.NoError(t, err)

	assert.Equal(t, "off-1", offer.OfferID)
	assert.Equal(t, routingdomain.ChannelConsolidator, offer.Routing.Channel)
	assert.Equal(t, "12.00", offer.Routing.CommissionAmount.StringFixed(2))
	assert.True(t, offer.EstimatedProfit.Equal(offer.Routing.ConsolidatorProfit))
	assert.True(t, offer.Profit.Difference.Equal(offer.Profit.ConsolidatorProfit.Sub(offer.Profit.DuffelProfit)))
	assert.Equal(t, fake.Now(), offer.EnrichedAt)

	require.Equal(t, 1, recorder.count())
	assert.Equal(t, "sess-1", recorder.options[0].SessionID)
	assert.Equal(t, "off-1", recorder.offers[0].OfferID)
}

func TestEnrichOffer_LCCGoesToDuffel(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	offer, err := engine.EnrichOffer(context.Background(), offerRequest("off-2", "NK", "900"))
	require.NoError(t, err)

	assert.Equal(t, routingdomain.ChannelDuffel, offer.Routing.Channel)
	assert.True(t, offer.Routing.IsExcluded)
	assert.Equal(t, routingdomain.ChannelDuffel, offer.Profit.MoreProfitable)
	assert.True(t, offer.EstimatedProfit.Equal(offer.Routing.DuffelProfit))
}

func TestEnrichOffer_RejectsMissingOfferID(t *testing.T) {
	recorder := &captureRecorder{}
	engine, _ := newTestEngine(t, recorder)

	_, err := engine.EnrichOffer(context.Background(), offerRequest("  ", "AA", "600"))
	require.ErrorIs(t, err, routingdomain.ErrMissingOfferID)
	assert.True(t, routingdomain.IsValidationError(err))
	assert.Zero(t, recorder.count())
}

func TestEnrichOffer_InvalidInputIsValidationError(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	req := offerRequest("off-3", "AA", "600")
	req.Segments = nil
	_, err := engine.EnrichOffer(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, routingdomain.ErrInvalidCommissionInput)
	assert.Contains(t, err.Error(), "off-3")
}

func TestEnrichOffers_PreservesOrderAndIsolatesFailures(t *testing.T) {
	recorder := &captureRecorder{}
	engine, _ := newTestEngine(t, recorder)

	reqs := make([]routingdomain.OfferRequest, 0, 20)
	for i := 0; i < 20; i++ {
		airline := "AA"
		if i%5 == 0 {
			airline = ""
		}
		reqs = append(reqs, offerRequest(fmt.Sprintf("off-%02d", i), airline, "600"))
	}

	results := engine.EnrichOffers(context.Background(), reqs)
	require.Len(t, results, len(reqs))

	for i, r := range results {
		assert.Equal(t, reqs[i].OfferID, r.OfferID)
		if i%5 == 0 {
			assert.Error(t, r.Err)
			assert.Nil(t, r.Offer)
			continue
		}
		require.NoError(t, r.Err)
		require.NotNil(t, r.Offer)
		assert.Equal(t, reqs[i].OfferID, r.Offer.OfferID)
	}
	assert.Equal(t, 16, recorder.count())
}

func TestEnrichOffers_CancelledContext(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := engine.EnrichOffers(ctx, []routingdomain.OfferRequest{offerRequest("off-1", "AA", "600")})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestEnrichOffers_Empty(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	assert.Empty(t, engine.EnrichOffers(context.Background(), nil))
}

func TestGetRoutingRecommendation(t *testing.T) {
	recorder := &captureRecorder{}
	engine, _ := newTestEngine(t, recorder)

	result, err := engine.GetRoutingRecommendation(context.Background(), routingdomain.RecommendationRequest{
		Airline:     "BA",
		Origin:      "LHR",
		Destination: "JFK",
		CabinClass:  "economy",
		BaseFare:    decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	assert.Equal(t, routingdomain.ChannelConsolidator, result.Channel)
	assert.Equal(t, "6.00", result.CommissionAmount.StringFixed(2))
	assert.Zero(t, recorder.count())

	_, err = engine.GetRoutingRecommendation(context.Background(), routingdomain.RecommendationRequest{
		Airline:  "BA",
		BaseFare: decimal.Zero,
	})
	assert.ErrorIs(t, err, routingdomain.ErrInvalidCommissionInput)
}

func TestIsConsolidatorEligible(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	assert.True(t, engine.IsConsolidatorEligible(ctx, "AA"))
	assert.True(t, engine.IsConsolidatorEligible(ctx, "ba"))
	assert.True(t, engine.IsConsolidatorEligible(ctx, "ZZ"))
	assert.False(t, engine.IsConsolidatorEligible(ctx, "NK"))
	assert.False(t, engine.IsConsolidatorEligible(ctx, ""))
}

func TestCalculateBreakEvenFare(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	be := engine.CalculateBreakEvenFare(decimal.NewFromInt(2))
	require.False(t, be.Infinite)
	assert.Equal(t, "250", be.Fare.String())

	for _, pct := range []string{"0.5", "1", "3", "7", "12.5"} {
		p := decimal.RequireFromString(pct)
		be := engine.CalculateBreakEvenFare(p)
		require.False(t, be.Infinite)
		assert.Equal(t, "5.00", be.Fare.Mul(p).Div(decimal.NewFromInt(100)).StringFixed(2), pct)
	}

	assert.True(t, engine.CalculateBreakEvenFare(decimal.Zero).Infinite)
	assert.True(t, engine.CalculateBreakEvenFare(decimal.NewFromInt(-1)).Infinite)
}

func summaryOffer(channel routingdomain.Channel, excluded bool, profit string) routingdomain.EnrichedFlightOffer {
	return routingdomain.EnrichedFlightOffer{
		Routing: routingdomain.CommissionResult{
			Channel:    channel,
			IsExcluded: excluded,
		},
		EstimatedProfit: decimal.RequireFromString(profit),
	}
}

func TestGetRoutingSummary(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	summary := engine.GetRoutingSummary([]routingdomain.EnrichedFlightOffer{
		summaryOffer(routingdomain.ChannelConsolidator, false, "10"),
		summaryOffer(routingdomain.ChannelDuffel, true, "2"),
		summaryOffer(routingdomain.ChannelDuffel, false, "3"),
	})

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.ConsolidatorCount)
	assert.Equal(t, 2, summary.DuffelCount)
	assert.Equal(t, 1, summary.ExcludedCount)
	assert.Equal(t, "33.33", summary.ConsolidatorPct.StringFixed(2))
	assert.Equal(t, "66.67", summary.DuffelPct.StringFixed(2))
	assert.Equal(t, "15.00", summary.TotalEstimatedProfit.StringFixed(2))
	assert.Equal(t, "5.00", summary.AverageEstimatedProfit.StringFixed(2))
}

func TestGetRoutingSummary_Empty(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	summary := engine.GetRoutingSummary(nil)
	assert.Zero(t, summary.Total)
	assert.True(t, summary.ConsolidatorPct.IsZero())
	assert.True(t, summary.AverageEstimatedProfit.IsZero())
}

// reloadingRules yields the first rule set once, then a strict one, as a
// hot reload would.
type reloadingRules struct {
	mu    sync.Mutex
	calls int
	first config.RoutingRules
	after config.RoutingRules
}

func (r *reloadingRules) Rules() config.RoutingRules {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 1 {
		return r.first
	}
	return r.after
}

func TestEnrichOffers_UsesOneRulesSnapshot(t *testing.T) {
	first := testRules(t).Rules()
	after := first
	after.Threshold = decimal.NewFromInt(100000)
	source := &reloadingRules{first: first, after: after}

	svc := NewEngine(Params{
		Cfg:        config.Config{Routing: config.RoutingConfig{EnrichParallelism: 4}},
		Log:        zap.NewNop(),
		Calculator: commissionservice.NewCalculator(source),
		Rules:      source,
		Clock:      clock.NewFakeClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)),
	})

	var reqs []routingdomain.OfferRequest
	for i := 0; i < 10; i++ {
		reqs = append(reqs, offerRequest(fmt.Sprintf("off-%d", i), "AA", "600"))
	}
	results := svc.EnrichOffers(context.Background(), reqs)

	require.Len(t, results, 10)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, routingdomain.ChannelConsolidator, r.Offer.Routing.Channel, r.OfferID)
	}
	assert.Equal(t, 1, source.calls)
}

func TestEnrichOffers_RejectsRepeatedOfferID(t *testing.T) {
	recorder := &captureRecorder{}
	engine, _ := newTestEngine(t, recorder)

	results := engine.EnrichOffers(context.Background(), []routingdomain.OfferRequest{
		offerRequest("x", "AA", "600"),
		offerRequest("y", "BA", "600"),
		offerRequest(" x ", "NK", "600"),
	})

	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, routingdomain.ErrDuplicateOfferID)
	assert.True(t, routingdomain.IsValidationError(results[2].Err))
	assert.Equal(t, 2, recorder.count())

	offers := []routingdomain.EnrichedFlightOffer{*results[0].Offer, *results[1].Offer}
	assert.Equal(t, 2, engine.GetRoutingSummary(offers).Total)
}

func TestEnrichOffer_ReturnsNormalizedSegments(t *testing.T) {
	recorder := &captureRecorder{}
	engine, _ := newTestEngine(t, recorder)

	req := offerRequest("off-1", " aa ", "600")
	req.Segments[0].Origin = "jfk"
	req.Segments[0].CabinClass = "Economy"

	offer, err := engine.EnrichOffer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, offer.Segments, 1)
	assert.Equal(t, "AA", offer.Segments[0].Airline)
	assert.Equal(t, "JFK", offer.Segments[0].Origin)
	assert.Equal(t, "economy", offer.Segments[0].CabinClass)
	assert.Equal(t, " aa ", req.Segments[0].Airline)

	require.Equal(t, 1, recorder.count())
	assert.Equal(t, "AA", recorder.offers[0].Segments[0].Airline)
}
