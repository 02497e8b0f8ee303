// Package domain holds the routing decision model shared by the commission
// calculator, the routing engine, the session cache and the booking router.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Decision reason codes.
const (
	ReasonLCCAirline               = "lcc_airline"
	ReasonCommissionAboveThreshold = "commission_above_threshold"
	ReasonCommissionBelowThreshold = "commission_below_threshold"
	ReasonNoCommission             = "no_commission"
)

// Booking-time fallback reason codes.
const (
	ReasonFallbackNoRoutingData = "fallback_no_routing_data"
	ReasonRoutingSessionExpired = "routing_session_expired"
	ReasonFlightNotInSession    = "flight_not_in_session"
	ReasonRoutingLookupError    = "routing_lookup_error"
)

// FlightSegment is one leg of an itinerary as supplied by the offer source.
type FlightSegment struct {
	Airline          string    `json:"airline"`
	OperatingAirline string    `json:"operating_airline,omitempty"`
	FlightNumber     string    `json:"flight_number,omitempty"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	DepartureAt      time.Time `json:"departure_at"`
	CabinClass       string    `json:"cabin_class,omitempty"`
	FareClass        string    `json:"fare_class,omitempty"`
	FareBasis        string    `json:"fare_basis,omitempty"`
}

// PassengerContext describes who is travelling and where the booking originates.
type PassengerContext struct {
	Type                string `json:"type,omitempty"`
	Count               int    `json:"count,omitempty"`
	IsGroupBooking      bool   `json:"is_group_booking,omitempty"`
	DistributionChannel string `json:"distribution_channel,omitempty"`
}

// CommissionInput is the full input of a single commission calculation.
type CommissionInput struct {
	Segments  []FlightSegment
	BaseFare  decimal.Decimal
	TotalFare decimal.Decimal
	Currency  string
	Passenger PassengerContext
}

// Ticketing carries consolidator-specific ticketing instructions.
type Ticketing struct {
	TourCode         string `json:"tour_code,omitempty"`
	TicketDesignator string `json:"ticket_designator,omitempty"`
}

// CommissionResult is the immutable output of the commission calculator.
type CommissionResult struct {
	CommissionPct      decimal.Decimal `json:"commission_pct"`
	CommissionAmount   decimal.Decimal `json:"commission_amount"`
	ConsolidatorProfit decimal.Decimal `json:"consolidator_profit"`
	DuffelProfit       decimal.Decimal `json:"duffel_profit"`
	Channel            Channel         `json:"channel"`
	DecisionReason     string          `json:"decision_reason"`
	IsExcluded         bool            `json:"is_excluded"`
	ExclusionReason    string          `json:"exclusion_reason,omitempty"`
	ValidatingCarrier  string          `json:"validating_carrier"`
	Currency           string          `json:"currency"`
	Ticketing          *Ticketing      `json:"ticketing,omitempty"`
}

// EstimatedProfit returns the profit under the chosen channel.
func (r CommissionResult) EstimatedProfit() decimal.Decimal {
	if r.Channel == ChannelConsolidator {
		return r.ConsolidatorProfit
	}
	return r.DuffelProfit
}

// ProfitComparison explains a decision in money terms.
type ProfitComparison struct {
	ConsolidatorProfit decimal.Decimal `json:"consolidator_profit"`
	DuffelProfit       decimal.Decimal `json:"duffel_profit"`
	Difference         decimal.Decimal `json:"difference"`
	MoreProfitable     Channel         `json:"more_profitable"`
}

// EnrichedFlightOffer is a search offer decorated with its routing decision.
type EnrichedFlightOffer struct {
	OfferID         string           `json:"offer_id"`
	Source          string           `json:"source"`
	RawOffer        json.RawMessage  `json:"raw_offer,omitempty"`
	Segments        []FlightSegment  `json:"segments"`
	BaseFare        decimal.Decimal  `json:"base_fare"`
	TotalFare       decimal.Decimal  `json:"total_fare"`
	Currency        string           `json:"currency"`
	Routing         CommissionResult `json:"routing"`
	Profit          ProfitComparison `json:"profit"`
	EstimatedProfit decimal.Decimal  `json:"estimated_profit"`
	EnrichedAt      time.Time        `json:"enriched_at"`
}

// OfferOptions carries request context that does not affect the decision.
type OfferOptions struct {
	SearchID  string           `json:"search_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Passenger PassengerContext `json:"passenger"`
}

// OfferRequest is one offer handed to the routing engine.
type OfferRequest struct {
	OfferID   string          `json:"offer_id"`
	Source    string          `json:"source"`
	RawOffer  json.RawMessage `json:"raw_offer,omitempty"`
	Segments  []FlightSegment `json:"segments"`
	BaseFare  decimal.Decimal `json:"base_fare"`
	TotalFare decimal.Decimal `json:"total_fare"`
	Currency  string          `json:"currency"`
	Options   OfferOptions    `json:"options"`
}

// EnrichResult pairs one input offer with its outcome. Exactly one of Offer
// and Err is set.
type EnrichResult struct {
	OfferID string
	Offer   *EnrichedFlightOffer
	Err     error
}

// RecommendationRequest is a single-segment eligibility check.
type RecommendationRequest struct {
	Airline       string
	Origin        string
	Destination   string
	DepartureDate time.Time
	CabinClass    string
	FareClass     string
	BaseFare      decimal.Decimal
	Currency      string
	Passenger     PassengerContext
}

// BreakEvenFare is the base fare at which commission equals the threshold.
// Infinite is set when no fare can reach the threshold.
type BreakEvenFare struct {
	Fare     decimal.Decimal `json:"fare"`
	Infinite bool            `json:"infinite"`
}

// RoutingSummary aggregates a batch of decisions.
type RoutingSummary struct {
	Total                  int             `json:"total"`
	ConsolidatorCount      int             `json:"consolidator_count"`
	DuffelCount            int             `json:"duffel_count"`
	ExcludedCount          int             `json:"excluded_count"`
	ConsolidatorPct        decimal.Decimal `json:"consolidator_pct"`
	DuffelPct              decimal.Decimal `json:"duffel_pct"`
	TotalEstimatedProfit   decimal.Decimal `json:"total_estimated_profit"`
	AverageEstimatedProfit decimal.Decimal `json:"average_estimated_profit"`
}

// CachedRoutingInfo is the durable projection of one offer's decision.
type CachedRoutingInfo struct {
	OfferID            string          `json:"offer_id"`
	Channel            Channel         `json:"channel"`
	DecisionReason     string          `json:"decision_reason"`
	IsExcluded         bool            `json:"is_excluded"`
	ExclusionReason    string          `json:"exclusion_reason,omitempty"`
	CommissionPct      decimal.Decimal `json:"commission_pct"`
	CommissionAmount   decimal.Decimal `json:"commission_amount"`
	ConsolidatorProfit decimal.Decimal `json:"consolidator_profit"`
	DuffelProfit       decimal.Decimal `json:"duffel_profit"`
	EstimatedProfit    decimal.Decimal `json:"estimated_profit"`
	Currency           string          `json:"currency"`
	ValidatingCarrier  string          `json:"validating_carrier"`
	TourCode           string          `json:"tour_code,omitempty"`
	TicketDesignator   string          `json:"ticket_designator,omitempty"`
	ComputedAt         time.Time       `json:"computed_at"`
}

// SessionStats is the rollup stored alongside a session's offers.
type SessionStats struct {
	Total                  int             `json:"total"`
	ConsolidatorCount      int             `json:"consolidator_count"`
	DuffelCount            int             `json:"duffel_count"`
	ExcludedCount          int             `json:"excluded_count"`
	TotalEstimatedProfit   decimal.Decimal `json:"total_estimated_profit"`
	AverageEstimatedProfit decimal.Decimal `json:"average_estimated_profit"`
}

// CachedRoutingData is the per-session document. Each search replaces it whole.
type CachedRoutingData struct {
	SessionID string                       `json:"session_id"`
	SearchID  string                       `json:"search_id,omitempty"`
	Offers    map[string]CachedRoutingInfo `json:"offers"`
	Stats     SessionStats                 `json:"stats"`
	CreatedAt time.Time                    `json:"created_at"`
	ExpiresAt time.Time                    `json:"expires_at"`
}

// RoutingDecision is what the booking pipeline branches on.
type RoutingDecision struct {
	Channel     Channel            `json:"channel"`
	RoutingInfo *CachedRoutingInfo `json:"routing_info"`
	Reason      string             `json:"reason"`
	Fallback    bool               `json:"fallback"`
}
