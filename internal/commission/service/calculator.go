package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/config"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
)

var hundred = decimal.NewFromInt(100)

// Calculator evaluates commission inputs against the routing rules in effect.
// It holds no per-call state and is safe for concurrent use.
type Calculator struct {
	rules config.RoutingRulesSource
}

func NewCalculator(rules config.RoutingRulesSource) routingdomain.Calculator {
	return &Calculator{rules: rules}
}

func (c *Calculator) CalculateCommission(input routingdomain.CommissionInput) (routingdomain.CommissionResult, error) {
	ev, err := c.Evaluate(c.rules.Rules(), input)
	if err != nil {
		return routingdomain.CommissionResult{}, err
	}
	return ev.Result, nil
}

func (c *Calculator) Evaluate(rules config.RoutingRules, input routingdomain.CommissionInput) (routingdomain.Evaluation, error) {
	normalized, err := normalizeInput(input, rules.DefaultCurrency)
	if err != nil {
		return routingdomain.Evaluation{}, err
	}
	return routingdomain.Evaluation{Input: normalized, Result: evaluate(rules, normalized)}, nil
}

func (c *Calculator) CalculateCommissionBatch(inputs []routingdomain.CommissionInput) []routingdomain.CommissionOutcome {
	rules := c.rules.Rules()

	out := make([]routingdomain.CommissionOutcome, len(inputs))
	for i, input := range inputs {
		normalized, err := normalizeInput(input, rules.DefaultCurrency)
		if err != nil {
			out[i] = routingdomain.CommissionOutcome{Err: err}
			continue
		}
		result := evaluate(rules, normalized)
		out[i] = routingdomain.CommissionOutcome{Result: &result}
	}
	return out
}

func evaluate(rules config.RoutingRules, input routingdomain.CommissionInput) routingdomain.CommissionResult {
	validating := input.Segments[0].Airline
	duffelProfit := round2(input.BaseFare.Mul(rules.DuffelMarkupPct).Div(hundred))

	result := routingdomain.CommissionResult{
		CommissionPct:      decimal.Zero,
		CommissionAmount:   decimal.Zero,
		ConsolidatorProfit: decimal.Zero,
		DuffelProfit:       duffelProfit,
		ValidatingCarrier:  validating,
		Currency:           input.Currency,
	}

	for _, seg := range input.Segments {
		if rules.IsLCC(seg.Airline) || (seg.OperatingAirline != "" && rules.IsLCC(seg.OperatingAirline)) {
			result.Channel = routingdomain.ChannelDuffel
			result.IsExcluded = true
			result.ExclusionReason = routingdomain.ReasonLCCAirline
			result.DecisionReason = routingdomain.ReasonLCCAirline
			return result
		}
	}

	pct, lead := commissionPct(rules, input)
	// The threshold is compared against the unrounded amount.
	raw := input.BaseFare.Mul(pct).Div(hundred)

	result.CommissionPct = pct
	result.CommissionAmount = round2(raw)
	result.ConsolidatorProfit = round2(raw.Sub(rules.ConsolidatorOverhead))

	switch {
	case raw.GreaterThan(rules.Threshold):
		result.Channel = routingdomain.ChannelConsolidator
		result.DecisionReason = routingdomain.ReasonCommissionAboveThreshold
		if lead != nil && (lead.TourCode != "" || lead.TicketDesignator != "") {
			result.Ticketing = &routingdomain.Ticketing{
				TourCode:         lead.TourCode,
				TicketDesignator: lead.TicketDesignator,
			}
		}
	case pct.Sign() <= 0:
		result.Channel = routingdomain.ChannelDuffel
		result.DecisionReason = routingdomain.ReasonNoCommission
	default:
		result.Channel = routingdomain.ChannelDuffel
		result.DecisionReason = routingdomain.ReasonCommissionBelowThreshold
	}

	return result
}

// commissionPct returns the lowest segment percentage of the itinerary and the
// rule matched on the first segment.
func commissionPct(rules config.RoutingRules, input routingdomain.CommissionInput) (decimal.Decimal, *config.CommissionRule) {
	var (
		lowest decimal.Decimal
		lead   *config.CommissionRule
	)
	for i, seg := range input.Segments {
		pct := rules.DefaultCommissionPct
		if rule, ok := matchRule(rules.Rules, seg, input.Passenger.Type); ok {
			pct = rule.CommissionPct
			if i == 0 {
				lead = &rule
			}
		}
		if i == 0 || pct.LessThan(lowest) {
			lowest = pct
		}
	}
	return lowest, lead
}

func matchRule(rules []config.CommissionRule, seg routingdomain.FlightSegment, passengerType string) (config.CommissionRule, bool) {
	best := -1
	bestScore := -1
	for i, rule := range rules {
		if rule.Airline != seg.Airline {
			continue
		}
		if !allows(rule.Cabins, seg.CabinClass) ||
			!allows(rule.FareClasses, seg.FareClass) ||
			!allows(rule.Origins, seg.Origin) ||
			!allows(rule.Destinations, seg.Destination) ||
			!allows(rule.PassengerTypes, passengerType) {
			continue
		}
		if score := rule.Specificity(); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return config.CommissionRule{}, false
	}
	return rules[best], true
}

func allows(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func normalizeInput(input routingdomain.CommissionInput, defaultCurrency string) (routingdomain.CommissionInput, error) {
	if len(input.Segments) == 0 {
		return input, invalid(routingdomain.ErrNoSegments)
	}
	if input.BaseFare.Sign() <= 0 || input.TotalFare.Sign() <= 0 {
		return input, invalid(routingdomain.ErrNonPositiveFare)
	}
	if input.TotalFare.LessThan(input.BaseFare) {
		return input, invalid(routingdomain.ErrFareMismatch)
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !isCurrencyCode(currency) {
		return input, invalid(routingdomain.ErrInvalidCurrency)
	}

	segments := make([]routingdomain.FlightSegment, len(input.Segments))
	for i, seg := range input.Segments {
		seg.Airline = strings.ToUpper(strings.TrimSpace(seg.Airline))
		seg.OperatingAirline = strings.ToUpper(strings.TrimSpace(seg.OperatingAirline))
		seg.Origin = strings.ToUpper(strings.TrimSpace(seg.Origin))
		seg.Destination = strings.ToUpper(strings.TrimSpace(seg.Destination))
		seg.CabinClass = strings.ToLower(strings.TrimSpace(seg.CabinClass))
		seg.FareClass = strings.ToUpper(strings.TrimSpace(seg.FareClass))
		seg.FareBasis = strings.ToUpper(strings.TrimSpace(seg.FareBasis))
		if seg.Airline == "" {
			return input, fmt.Errorf("%w: segment %d: %w", routingdomain.ErrInvalidCommissionInput, i, routingdomain.ErrMissingAirline)
		}
		segments[i] = seg
	}

	input.Segments = segments
	input.Currency = currency
	input.Passenger.Type = strings.ToUpper(strings.TrimSpace(input.Passenger.Type))
	return input, nil
}

func invalid(cause error) error {
	return fmt.Errorf("%w: %w", routingdomain.ErrInvalidCommissionInput, cause)
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
