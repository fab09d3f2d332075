package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/usagebill/backend/internal/infrastructure/logger"
	"github.com/usagebill/backend/internal/interfaces/http/dto"
)

// DefaultBodyLimit caps operator request bodies
const DefaultBodyLimit int64 = 64 << 10

// BodyLimit returns a middleware that limits request body size
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponse(
				"ERR_REQUEST_TOO_LARGE",
				"Request body exceeds maximum allowed size",
				logger.GetRequestID(c.Request.Context()),
			))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
