package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/config"
	"github.com/smallbiznis/farerouter/internal/observability/metrics"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 32

// eligibilityCheckFare is large enough that any positive commission clears
// the threshold, so only exclusions decide eligibility.
var eligibilityCheckFare = decimal.NewFromInt(100000)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Calculator routingdomain.Calculator
	Rules      config.RoutingRulesSource
	Recorder   routingdomain.DecisionRecorder `optional:"true"`
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
}

type Engine struct {
	log         *zap.Logger
	calc        routingdomain.Calculator
	rules       config.RoutingRulesSource
	recorder    routingdomain.DecisionRecorder
	clock       clock.Clock
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	parallelism int
}

func NewEngine(p Params) routingdomain.Service {
	parallelism := p.Cfg.Routing.EnrichParallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Engine{
		log:         p.Log.Named("routing.engine"),
		calc:        p.Calculator,
		rules:       p.Rules,
		recorder:    p.Recorder,
		clock:       c,
		metrics:     p.Metrics,
		tracer:      otel.Tracer("farerouter/routing"),
		parallelism: parallelism,
	}
}

func (e *Engine) EnrichOffer(ctx context.Context, req routingdomain.OfferRequest) (routingdomain.EnrichedFlightOffer, error) {
	return e.enrichOffer(ctx, e.rules.Rules(), req)
}

func (e *Engine) enrichOffer(ctx context.Context, rules config.RoutingRules, req routingdomain.OfferRequest) (routingdomain.EnrichedFlightOffer, error) {
	offerID := strings.TrimSpace(req.OfferID)
	if offerID == "" {
		return routingdomain.EnrichedFlightOffer{}, routingdomain.ErrMissingOfferID
	}

	ev, err := e.calc.Evaluate(rules, routingdomain.CommissionInput{
		Segments:  req.Segments,
		BaseFare:  req.BaseFare,
		TotalFare: req.TotalFare,
		Currency:  req.Currency,
		Passenger: req.Options.Passenger,
	})
	if err != nil {
		if routingdomain.IsValidationError(err) {
			e.log.Debug("offer rejected", zap.String("offer_id", offerID), zap.Error(err))
		} else {
			e.log.Warn("commission calculation failed", zap.String("offer_id", offerID), zap.Error(err))
		}
		return routingdomain.EnrichedFlightOffer{}, fmt.Errorf("offer %s: %w", offerID, err)
	}
	result := ev.Result

	offer := routingdomain.EnrichedFlightOffer{
		OfferID:         offerID,
		Source:          strings.TrimSpace(req.Source),
		RawOffer:        req.RawOffer,
		Segments:        ev.Input.Segments,
		BaseFare:        req.BaseFare,
		TotalFare:       req.TotalFare,
		Currency:        result.Currency,
		Routing:         result,
		Profit:          compareProfit(result),
		EstimatedProfit: result.EstimatedProfit(),
		EnrichedAt:      e.clock.Now(),
	}

	e.metrics.RecordRoutingDecision(ctx, result.Channel.String(), result.DecisionReason)
	if e.recorder != nil {
		e.recorder.Record(ctx, offer, req.Options)
	}
	return offer, nil
}

// EnrichOffers enriches every request concurrently under one rules snapshot.
// The output is index aligned with reqs and each element carries either an
// offer or an error. A repeated offer id is rejected after its first use.
func (e *Engine) EnrichOffers(ctx context.Context, reqs []routingdomain.OfferRequest) []routingdomain.EnrichResult {
	ctx, span := e.tracer.Start(ctx, "routing.EnrichOffers")
	defer span.End()
	span.SetAttributes(attribute.Int("routing.offer_count", len(reqs)))

	rules := e.rules.Rules()
	duplicates := duplicateOffers(reqs)

	out := make([]routingdomain.EnrichResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.parallelism)

	for i := range reqs {
		g.Go(func() error {
			req := reqs[i]
			out[i].OfferID = req.OfferID
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			if duplicates[i] {
				out[i].Err = fmt.Errorf("offer %s: %w", strings.TrimSpace(req.OfferID), routingdomain.ErrDuplicateOfferID)
				return nil
			}
			offer, err := e.enrichOffer(ctx, rules, req)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Offer = &offer
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range out {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("routing.failed_count", failed))
	if failed > 0 {
		e.log.Info("some offers could not be enriched",
			zap.Int("offers", len(reqs)),
			zap.Int("failed", failed),
		)
	}
	return out
}

// duplicateOffers marks every request whose offer id appeared earlier.
func duplicateOffers(reqs []routingdomain.OfferRequest) []bool {
	seen := make(map[string]struct{}, len(reqs))
	dup := make([]bool, len(reqs))
	for i, req := range reqs {
		id := strings.TrimSpace(req.OfferID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			dup[i] = true
			continue
		}
		seen[id] = struct{}{}
	}
	return dup
}

func (e *Engine) GetRoutingRecommendation(ctx context.Context, req routingdomain.RecommendationRequest) (routingdomain.CommissionResult, error) {
	_, span := e.tracer.Start(ctx, "routing.GetRoutingRecommendation")
	defer span.End()
	span.SetAttributes(attribute.String("routing.airline", strings.ToUpper(strings.TrimSpace(req.Airline))))

	result, err := e.calc.CalculateCommission(routingdomain.CommissionInput{
		Segments: []routingdomain.FlightSegment{{
			Airline:     req.Airline,
			Origin:      req.Origin,
			Destination: req.Destination,
			DepartureAt: req.DepartureDate,
			CabinClass:  req.CabinClass,
			FareClass:   req.FareClass,
		}},
		BaseFare:  req.BaseFare,
		TotalFare: req.BaseFare,
		Currency:  req.Currency,
		Passenger: req.Passenger,
	})
	if err != nil {
		span.SetStatus(codes.Error, "invalid recommendation request")
		return routingdomain.CommissionResult{}, err
	}
	span.SetAttributes(attribute.String("routing.channel", result.Channel.String()))
	return result, nil
}

func (e *Engine) IsConsolidatorEligible(ctx context.Context, airline string) bool {
	result, err := e.GetRoutingRecommendation(ctx, routingdomain.RecommendationRequest{
		Airline:     airline,
		Origin:      "XXX",
		Destination: "YYY",
		CabinClass:  "economy",
		BaseFare:    eligibilityCheckFare,
	})
	if err != nil {
		return false
	}
	return result.DecisionReason != routingdomain.ReasonLCCAirline
}

func (e *Engine) CalculateBreakEvenFare(commissionPct decimal.Decimal) routingdomain.BreakEvenFare {
	if commissionPct.Sign() <= 0 {
		return routingdomain.BreakEvenFare{Infinite: true}
	}
	threshold := e.rules.Rules().Threshold
	return routingdomain.BreakEvenFare{Fare: threshold.Mul(hundred).Div(commissionPct)}
}

func (e *Engine) GetRoutingSummary(offers []routingdomain.EnrichedFlightOffer) routingdomain.RoutingSummary {
	summary := routingdomain.RoutingSummary{
		Total:                  len(offers),
		ConsolidatorPct:        decimal.Zero,
		DuffelPct:              decimal.Zero,
		TotalEstimatedProfit:   decimal.Zero,
		AverageEstimatedProfit: decimal.Zero,
	}
	if len(offers) == 0 {
		return summary
	}

	for _, offer := range offers {
		switch offer.Routing.Channel {
		case routingdomain.ChannelConsolidator:
			summary.ConsolidatorCount++
		default:
			summary.DuffelCount++
		}
		if offer.Routing.IsExcluded {
			summary.ExcludedCount++
		}
		summary.TotalEstimatedProfit = summary.TotalEstimatedProfit.Add(offer.EstimatedProfit)
	}

	total := decimal.NewFromInt(int64(summary.Total))
	summary.ConsolidatorPct = decimal.NewFromInt(int64(summary.ConsolidatorCount)).Mul(hundred).Div(total).Round(2)
	summary.DuffelPct = decimal.NewFromInt(int64(summary.DuffelCount)).Mul(hundred).Div(total).Round(2)
	summary.AverageEstimatedProfit = summary.TotalEstimatedProfit.Div(total).Round(2)
	return summary
}

var hundred = decimal.NewFromInt(100)

func compareProfit(result routingdomain.CommissionResult) routingdomain.ProfitComparison {
	more := routingdomain.ChannelDuffel
	if result.ConsolidatorProfit.GreaterThan(result.DuffelProfit) {
		more = routingdomain.ChannelConsolidator
	}
	return routingdomain.ProfitComparison{
		ConsolidatorProfit: result.ConsolidatorProfit,
		DuffelProfit:       result.DuffelProfit,
		Difference:         result.ConsolidatorProfit.Sub(result.DuffelProfit),
		MoreProfitable:     more,
	}
}
