package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/farerouter/pkg/db/pagination"
)

// Repository persists decision logs. List returns up to Limit+1 rows, newest
// first, so callers can detect another page.
type Repository interface {
	Insert(ctx context.Context, entry *DecisionLog) error
	List(ctx context.Context, filter ListFilter) ([]*DecisionLog, error)
}

type ListDecisionLogRequest struct {
	pagination.Pagination
	SearchID  string     `form:"search_id"`
	SessionID string     `form:"session_id"`
	OfferID   string     `form:"offer_id"`
	Channel   string     `form:"channel"`
	StartAt   *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt     *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListDecisionLogResponse struct {
	pagination.PageInfo
	Decisions []DecisionLog `json:"decisions"`
}

type Service interface {
	List(ctx context.Context, req ListDecisionLogRequest) (ListDecisionLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidChannel   = errors.New("invalid_channel")
	ErrLogDisabled      = errors.New("decision_log_disabled")
)
