package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

// Most specific first; a wrapped calculator error matches several.
var validationSentinels = []error{
	routingdomain.ErrNoSegments,
	routingdomain.ErrMissingAirline,
	routingdomain.ErrNonPositiveFare,
	routingdomain.ErrFareMismatch,
	routingdomain.ErrInvalidCurrency,
	routingdomain.ErrMissingOfferID,
	routingdomain.ErrDuplicateOfferID,
	routingdomain.ErrMissingSessionID,
	routingdomain.ErrUnknownChannel,
	decisiondomain.ErrInvalidPageToken,
	decisiondomain.ErrInvalidTimeRange,
	decisiondomain.ErrInvalidChannel,
	routingdomain.ErrInvalidCommissionInput,
	ErrInvalidRequest,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, decisiondomain.ErrLogDisabled):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, routingdomain.ErrSessionNotFound)
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request", "invalid_commission_input":
		return "request"
	case "no_segments":
		return "segments"
	case "non_positive_fare":
		return "base_fare"
	case "total_fare_below_base_fare":
		return "total_fare"
	case "unknown_channel":
		return "channel"
	case "duplicate_offer_id":
		return "offer_id"
	}
	for _, prefix := range []string{"invalid_", "missing_"} {
		if strings.HasPrefix(code, prefix) {
			return strings.TrimPrefix(code, prefix)
		}
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "no_segments":
		return "at least one segment is required"
	case "missing_airline":
		return "segment airline is required"
	case "non_positive_fare":
		return "base fare must be positive"
	case "total_fare_below_base_fare":
		return "total fare cannot be below base fare"
	case "missing_offer_id":
		return "offer id is required"
	case "duplicate_offer_id":
		return "offer id already used in this request"
	case "missing_session_id":
		return "session id is required"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog reports the response type and code for access logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
