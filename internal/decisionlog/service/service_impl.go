package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"github.com/smallbiznis/farerouter/pkg/db/pagination"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Service struct {
	repo decisiondomain.Repository
	log  *zap.Logger
}

func NewService(repo decisiondomain.Repository, log *zap.Logger) decisiondomain.Service {
	return &Service{repo: repo, log: log.Named("decisionlog.service")}
}

func (s *Service) List(ctx context.Context, req decisiondomain.ListDecisionLogRequest) (decisiondomain.ListDecisionLogResponse, error) {
	if s.repo == nil {
		return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrLogDisabled
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrInvalidTimeRange
	}

	channel := ""
	if raw := strings.TrimSpace(req.Channel); raw != "" {
		parsed, err := routingdomain.ParseChannel(raw)
		if err != nil {
			return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrInvalidChannel
		}
		channel = parsed.String()
	}

	var cursor *decisiondomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return decisiondomain.ListDecisionLogResponse{}, decisiondomain.ErrInvalidPageToken
		}
		cursor = &decisiondomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.repo.List(ctx, decisiondomain.ListFilter{
		SearchID:  req.SearchID,
		SessionID: req.SessionID,
		OfferID:   req.OfferID,
		Channel:   channel,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		s.log.Warn("failed to list decision logs", zap.Error(err))
		return decisiondomain.ListDecisionLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *decisiondomain.DecisionLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}
	if pageInfo != nil && !pageInfo.HasMore {
		pageInfo.NextPageToken = ""
	}

	decisions := make([]decisiondomain.DecisionLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		decisions = append(decisions, *item)
	}

	resp := decisiondomain.ListDecisionLogResponse{Decisions: decisions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
