package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/config"
)

// Calculator turns a commission input into a channel decision.
type Calculator interface {
	CalculateCommission(input CommissionInput) (CommissionResult, error)
	CalculateCommissionBatch(inputs []CommissionInput) []CommissionOutcome
	// Evaluate decides input under an explicit rule snapshot.
	Evaluate(rules config.RoutingRules, input CommissionInput) (Evaluation, error)
}

// Evaluation pairs a result with the normalized input it was computed from.
type Evaluation struct {
	Input  CommissionInput
	Result CommissionResult
}

// CommissionOutcome is one element of a batch calculation.
type CommissionOutcome struct {
	Result *CommissionResult
	Err    error
}

// Service is the search-time routing engine.
type Service interface {
	EnrichOffer(ctx context.Context, req OfferRequest) (EnrichedFlightOffer, error)
	EnrichOffers(ctx context.Context, reqs []OfferRequest) []EnrichResult
	GetRoutingRecommendation(ctx context.Context, req RecommendationRequest) (CommissionResult, error)
	IsConsolidatorEligible(ctx context.Context, airline string) bool
	CalculateBreakEvenFare(commissionPct decimal.Decimal) BreakEvenFare
	GetRoutingSummary(offers []EnrichedFlightOffer) RoutingSummary
}

// DecisionRecorder receives every enriched offer for audit. Implementations
// must not block the caller.
type DecisionRecorder interface {
	Record(ctx context.Context, offer EnrichedFlightOffer, opts OfferOptions)
}

// SessionCache stores the decisions shown to one search session.
type SessionCache interface {
	CacheRoutingDecisions(ctx context.Context, sessionID, searchID string, offers []EnrichedFlightOffer) error
	GetSessionRoutingData(ctx context.Context, sessionID string) (*CachedRoutingData, error)
}

// BookingRouter is the booking-time read path.
type BookingRouter interface {
	GetFlightRoutingDecision(ctx context.Context, sessionID, offerID string) RoutingDecision
	ShouldUseConsolidator(ctx context.Context, sessionID, offerID string) bool
	GetSessionRoutingSummary(ctx context.Context, sessionID string) (*SessionStats, error)
	GetSessionRoutingData(ctx context.Context, sessionID string) (*CachedRoutingData, error)
}

var (
	ErrInvalidCommissionInput = errors.New("invalid_commission_input")
	ErrNoSegments             = errors.New("no_segments")
	ErrMissingAirline         = errors.New("missing_airline")
	ErrNonPositiveFare        = errors.New("non_positive_fare")
	ErrFareMismatch           = errors.New("total_fare_below_base_fare")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrMissingOfferID         = errors.New("missing_offer_id")
	ErrDuplicateOfferID       = errors.New("duplicate_offer_id")
	ErrMissingSessionID       = errors.New("missing_session_id")
	ErrUnknownChannel         = errors.New("unknown_channel")
	ErrSessionNotFound        = errors.New("routing_session_not_found")
)

// IsValidationError reports whether err was caused by malformed input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCommissionInput) ||
		errors.Is(err, ErrMissingOfferID) ||
		errors.Is(err, ErrDuplicateOfferID) ||
		errors.Is(err, ErrMissingSessionID)
}
