package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/farerouter/internal/observability/metrics"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cache   routingdomain.SessionCache
	Metrics *metrics.Metrics `optional:"true"`
}

// Router answers booking-time channel lookups. Every failure resolves to DUFFEL.
type Router struct {
	log     *zap.Logger
	cache   routingdomain.SessionCache
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewRouter(p Params) routingdomain.BookingRouter {
	return &Router{
		log:     p.Log.Named("booking.router"),
		cache:   p.Cache,
		metrics: p.Metrics,
		tracer:  otel.Tracer("farerouter/booking"),
	}
}

func (r *Router) GetFlightRoutingDecision(ctx context.Context, sessionID, offerID string) routingdomain.RoutingDecision {
	sessionID = strings.TrimSpace(sessionID)
	offerID = strings.TrimSpace(offerID)

	ctx, span := r.tracer.Start(ctx, "booking.GetFlightRoutingDecision")
	defer span.End()
	span.SetAttributes(
		attribute.String("routing.session_id", sessionID),
		attribute.String("routing.offer_id", offerID),
	)

	decision := r.resolve(ctx, sessionID, offerID)

	span.SetAttributes(
		attribute.String("routing.channel", decision.Channel.String()),
		attribute.String("routing.reason", decision.Reason),
		attribute.Bool("routing.fallback", decision.Fallback),
	)
	if decision.Reason == routingdomain.ReasonRoutingLookupError {
		span.SetStatus(codes.Error, "routing lookup failed")
	}
	r.metrics.RecordBookingLookup(ctx, decision.Channel.String(), decision.Reason)
	return decision
}

func (r *Router) resolve(ctx context.Context, sessionID, offerID string) routingdomain.RoutingDecision {
	if sessionID == "" || offerID == "" {
		return fallback(routingdomain.ReasonFallbackNoRoutingData)
	}

	doc, err := r.cache.GetSessionRoutingData(ctx, sessionID)
	if err != nil {
		r.log.Warn("routing lookup failed, falling back to duffel",
			zap.String("session_id", sessionID),
			zap.String("offer_id", offerID),
			zap.Error(err),
		)
		return fallback(routingdomain.ReasonRoutingLookupError)
	}
	if doc == nil {
		return fallback(routingdomain.ReasonRoutingSessionExpired)
	}

	info, ok := doc.Offers[offerID]
	if !ok {
		return fallback(routingdomain.ReasonFlightNotInSession)
	}
	if !info.Channel.Valid() {
		r.log.Warn("cached routing info has unknown channel",
			zap.String("session_id", sessionID),
			zap.String("offer_id", offerID),
		)
		return fallback(routingdomain.ReasonRoutingLookupError)
	}

	return routingdomain.RoutingDecision{
		Channel:     info.Channel,
		RoutingInfo: &info,
		Reason:      info.DecisionReason,
	}
}

func (r *Router) ShouldUseConsolidator(ctx context.Context, sessionID, offerID string) bool {
	return r.GetFlightRoutingDecision(ctx, sessionID, offerID).Channel == routingdomain.ChannelConsolidator
}

// GetSessionRoutingSummary returns nil when the session is absent, expired or
// unreadable.
func (r *Router) GetSessionRoutingSummary(ctx context.Context, sessionID string) (*routingdomain.SessionStats, error) {
	doc, err := r.GetSessionRoutingData(ctx, sessionID)
	if err != nil || doc == nil {
		return nil, err
	}
	stats := doc.Stats
	return &stats, nil
}

func (r *Router) GetSessionRoutingData(ctx context.Context, sessionID string) (*routingdomain.CachedRoutingData, error) {
	return r.cache.GetSessionRoutingData(ctx, sessionID)
}

func fallback(reason string) routingdomain.RoutingDecision {
	return routingdomain.RoutingDecision{
		Channel:  routingdomain.ChannelDuffel,
		Reason:   reason,
		Fallback: true,
	}
}
