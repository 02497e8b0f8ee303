package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
)

func (s *Server) GetFlightRoutingDecision(c *gin.Context) {
	decision := s.booking.GetFlightRoutingDecision(c.Request.Context(), c.Param("session_id"), c.Param("offer_id"))
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) GetSessionRoutingData(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	doc, err := s.booking.GetSessionRoutingData(c.Request.Context(), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if doc == nil {
		AbortWithError(c, routingdomain.ErrSessionNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (s *Server) GetSessionRoutingSummary(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	stats, err := s.booking.GetSessionRoutingSummary(c.Request.Context(), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if stats == nil {
		AbortWithError(c, routingdomain.ErrSessionNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
