package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DecisionLog is one audited routing decision. Rows are append-only.
type DecisionLog struct {
	ID                 snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SearchID           string            `gorm:"size:128;index" json:"search_id,omitempty"`
	SessionID          string            `gorm:"size:128;index" json:"session_id,omitempty"`
	OfferID            string            `gorm:"size:128;not null" json:"offer_id"`
	Source             string            `gorm:"size:64" json:"source,omitempty"`
	Channel            string            `gorm:"size:16;not null" json:"channel"`
	DecisionReason     string            `gorm:"size:64;not null" json:"decision_reason"`
	IsExcluded         bool              `gorm:"not null;default:false" json:"is_excluded"`
	ExclusionReason    string            `gorm:"size:64" json:"exclusion_reason,omitempty"`
	CommissionPct      decimal.Decimal   `gorm:"type:numeric(7,4);not null" json:"commission_pct"`
	CommissionAmount   decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"commission_amount"`
	ConsolidatorProfit decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"consolidator_profit"`
	DuffelProfit       decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"duffel_profit"`
	EstimatedProfit    decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"estimated_profit"`
	Currency           string            `gorm:"size:3;not null" json:"currency"`
	ValidatingCarrier  string            `gorm:"size:3" json:"validating_carrier,omitempty"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;index" json:"created_at"`
}

func (DecisionLog) TableName() string { return "routing_decision_logs" }

// Cursor points at the last row of a page in (created_at, id) order.
type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	SearchID  string
	SessionID string
	OfferID   string
	Channel   string
	StartAt   *time.Time
	EndAt     *time.Time
	Cursor    *Cursor
	Limit     int
}
