package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"github.com/smallbiznis/farerouter/pkg/db"
	"gorm.io/gorm"
)

type gormRepo struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) domain.Repository {
	return &gormRepo{db: db}
}

func (r *gormRepo) Insert(ctx context.Context, entry *domain.DecisionLog) error {
	if entry == nil {
		return nil
	}
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO routing_decision_logs (
			id, search_id, session_id, offer_id, source, channel, decision_reason,
			is_excluded, exclusion_reason, commission_pct, commission_amount,
			consolidator_profit, duffel_profit, estimated_profit, currency,
			validating_carrier, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SearchID,
		entry.SessionID,
		entry.OfferID,
		entry.Source,
		entry.Channel,
		entry.DecisionReason,
		entry.IsExcluded,
		entry.ExclusionReason,
		entry.CommissionPct,
		entry.CommissionAmount,
		entry.ConsolidatorProfit,
		entry.DuffelProfit,
		entry.EstimatedProfit,
		entry.Currency,
		entry.ValidatingCarrier,
		entry.Metadata,
		entry.CreatedAt,
	).Error
	// Ids are unique per decision, so a duplicate is a replay of a stored row.
	if db.IsDuplicateKeyErr(err) {
		return nil
	}
	return err
}

func (r *gormRepo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.DecisionLog, error) {
	var logs []*domain.DecisionLog
	stmt := r.db.WithContext(ctx).Model(&domain.DecisionLog{})

	if searchID := strings.TrimSpace(filter.SearchID); searchID != "" {
		stmt = stmt.Where("search_id = ?", searchID)
	}
	if sessionID := strings.TrimSpace(filter.SessionID); sessionID != "" {
		stmt = stmt.Where("session_id = ?", sessionID)
	}
	if offerID := strings.TrimSpace(filter.OfferID); offerID != "" {
		stmt = stmt.Where("offer_id = ?", offerID)
	}
	if channel := strings.TrimSpace(filter.Channel); channel != "" {
		stmt = stmt.Where("channel = ?", channel)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
