package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"github.com/smallbiznis/farerouter/pkg/db/pagination"
)

type listDecisionsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	SearchID  string `form:"search_id"`
	SessionID string `form:"session_id"`
	OfferID   string `form:"offer_id"`
	Channel   string `form:"channel"`
	StartAt   string `form:"start_at"`
	EndAt     string `form:"end_at"`
}

func (s *Server) ListDecisions(c *gin.Context) {
	if s.decisions == nil {
		AbortWithError(c, decisiondomain.ErrLogDisabled)
		return
	}

	var query listDecisionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.decisions.List(c.Request.Context(), decisiondomain.ListDecisionLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		SearchID:  strings.TrimSpace(query.SearchID),
		SessionID: strings.TrimSpace(query.SessionID),
		OfferID:   strings.TrimSpace(query.OfferID),
		Channel:   strings.TrimSpace(query.Channel),
		StartAt:   startAt,
		EndAt:     endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Decisions, "page_info": resp.PageInfo})
}
