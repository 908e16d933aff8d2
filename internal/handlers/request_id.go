package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-client/internal/logging"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// requestLogger tags each request with an id and writes one access log line.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFromContext(c)
		c.Header("X-Request-ID", requestID)

		reqLog := log.With().Str(logging.FieldRequestID, requestID).Logger()
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLog))
		c.Next()

		reqLog.Debug().
			Str(logging.FieldMethod, c.Request.Method).
			Str(logging.FieldPath, c.Request.URL.Path).
			Int(logging.FieldStatus, c.Writer.Status()).
			Int64(logging.FieldLatency, time.Since(start).Milliseconds()).
			Msg("debug api request")
	}
}
