package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-Id"
	sessionIDHeader = "X-Session-Id"
	userIDHeader    = "X-User-Id"
)

// RequestContext tags every request with an ID and attaches a logger carrying
// the request, session and user identifiers to the request context. Handlers
// read it back with zerolog.Ctx.
func RequestContext(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDHeader, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		lc := log.With().Str("request_id", requestID)
		if sid := c.GetHeader(sessionIDHeader); sid != "" {
			lc = lc.Str("session_id", sid)
		}
		if uid := c.GetHeader(userIDHeader); uid != "" {
			lc = lc.Str("user_id", uid)
		}
		reqLog := lc.Logger()
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))

		c.Next()
	}
}

// Recovery turns a handler panic into the API error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				zerolog.Ctx(c.Request.Context()).Error().
					Interface("panic", r).
					Str("route", c.FullPath()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status":  "error",
					"message": "internal server error",
					"code":    "internal_error",
				})
			}
		}()
		c.Next()
	}
}
