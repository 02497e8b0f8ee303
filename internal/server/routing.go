package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	obscontext "github.com/smallbiznis/farerouter/internal/observability/context"
	obslogger "github.com/smallbiznis/farerouter/internal/observability/logger"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.uber.org/zap"
)

type enrichOfferInput struct {
	OfferID   string                        `json:"offer_id"`
	Source    string                        `json:"source"`
	RawOffer  json.RawMessage               `json:"raw_offer,omitempty"`
	Segments  []routingdomain.FlightSegment `json:"segments"`
	BaseFare  decimal.Decimal               `json:"base_fare"`
	TotalFare decimal.Decimal               `json:"total_fare"`
	Currency  string                        `json:"currency"`
}

type enrichOffersRequest struct {
	SessionID string                         `json:"session_id"`
	SearchID  string                         `json:"search_id"`
	Passenger routingdomain.PassengerContext `json:"passenger"`
	Offers    []enrichOfferInput             `json:"offers"`
}

type offerError struct {
	OfferID string `json:"offer_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type enrichOffersResponse struct {
	SessionID string                              `json:"session_id"`
	SearchID  string                              `json:"search_id,omitempty"`
	Offers    []routingdomain.EnrichedFlightOffer `json:"offers"`
	Errors    []offerError                        `json:"errors"`
	Summary   routingdomain.RoutingSummary        `json:"summary"`
}

func (s *Server) EnrichOffers(c *gin.Context) {
	var req enrichOffersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Offers) > maxOffersPerRequest {
		AbortWithError(c, newValidationError("offers", "too_many_offers", "too many offers in one request"))
		return
	}
	c.Set(contextOfferCountKey, len(req.Offers))

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	searchID := strings.TrimSpace(req.SearchID)

	ctx := obscontext.WithSession(c.Request.Context(), sessionID, searchID)
	c.Request = c.Request.WithContext(ctx)

	opts := routingdomain.OfferOptions{
		SearchID:  searchID,
		SessionID: sessionID,
		Passenger: req.Passenger,
	}
	reqs := make([]routingdomain.OfferRequest, 0, len(req.Offers))
	for _, offer := range req.Offers {
		reqs = append(reqs, routingdomain.OfferRequest{
			OfferID:   offer.OfferID,
			Source:    offer.Source,
			RawOffer:  offer.RawOffer,
			Segments:  offer.Segments,
			BaseFare:  offer.BaseFare,
			TotalFare: offer.TotalFare,
			Currency:  offer.Currency,
			Options:   opts,
		})
	}

	results := s.routingSvc.EnrichOffers(ctx, reqs)

	resp := enrichOffersResponse{
		SessionID: sessionID,
		SearchID:  searchID,
		Offers:    make([]routingdomain.EnrichedFlightOffer, 0, len(results)),
		Errors:    []offerError{},
	}
	for _, r := range results {
		if r.Err != nil {
			resp.Errors = append(resp.Errors, toOfferError(r.OfferID, r.Err))
			continue
		}
		resp.Offers = append(resp.Offers, *r.Offer)
	}
	resp.Summary = s.routingSvc.GetRoutingSummary(resp.Offers)

	if err := s.sessions.CacheRoutingDecisions(ctx, sessionID, searchID, resp.Offers); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("failed to cache routing decisions",
			zap.Int("offers", len(resp.Offers)),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func toOfferError(offerID string, err error) offerError {
	if isValidationError(err) {
		code := validationErrorCode(err)
		return offerError{OfferID: offerID, Code: code, Message: validationErrorMessage(code)}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return offerError{OfferID: offerID, Code: "cancelled", Message: "request cancelled"}
	}
	return offerError{OfferID: offerID, Code: "internal_error", Message: "offer could not be routed"}
}

type recommendationQuery struct {
	Airline       string `form:"airline"`
	Origin        string `form:"origin"`
	Destination   string `form:"destination"`
	DepartureDate string `form:"departure_date"`
	CabinClass    string `form:"cabin_class"`
	FareClass     string `form:"fare_class"`
	BaseFare      string `form:"base_fare"`
	Currency      string `form:"currency"`
}

func (s *Server) GetRoutingRecommendation(c *gin.Context) {
	var query recommendationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	baseFare, err := parseOptionalDecimal(query.BaseFare)
	if err != nil || baseFare == nil {
		AbortWithError(c, newValidationError("base_fare", "invalid_base_fare", "invalid base_fare"))
		return
	}
	departure, err := parseOptionalTime(query.DepartureDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("departure_date", "invalid_departure_date", "invalid departure_date"))
		return
	}

	req := routingdomain.RecommendationRequest{
		Airline:     query.Airline,
		Origin:      query.Origin,
		Destination: query.Destination,
		CabinClass:  query.CabinClass,
		FareClass:   query.FareClass,
		BaseFare:    *baseFare,
		Currency:    query.Currency,
	}
	if departure != nil {
		req.DepartureDate = *departure
	}

	result, err := s.routingSvc.GetRoutingRecommendation(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetAirlineEligibility(c *gin.Context) {
	airline := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if airline == "" {
		AbortWithError(c, newValidationError("code", "invalid_code", "invalid airline code"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"airline":  airline,
		"eligible": s.routingSvc.IsConsolidatorEligible(c.Request.Context(), airline),
	}})
}

func (s *Server) GetBreakEvenFare(c *gin.Context) {
	pct, err := parseOptionalDecimal(c.Query("commission_pct"))
	if err != nil || pct == nil {
		AbortWithError(c, newValidationError("commission_pct", "invalid_commission_pct", "invalid commission_pct"))
		return
	}

	be := s.routingSvc.CalculateBreakEvenFare(*pct)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"commission_pct": *pct,
		"fare":           breakEvenFare(be),
		"infinite":       be.Infinite,
	}})
}

func breakEvenFare(be routingdomain.BreakEvenFare) *decimal.Decimal {
	if be.Infinite {
		return nil
	}
	fare := be.Fare
	return &fare
}
