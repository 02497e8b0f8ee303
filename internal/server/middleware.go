package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const contextOfferCountKey = "offer_count"

// BodyLimit caps the request body read by downstream handlers.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
