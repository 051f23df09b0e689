// Package http provides the operations HTTP surface: compliance reports,
// rotation status, and health endpoints. PHI never crosses this boundary.
package http

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
)

// LoggerMiddleware logs each request through the structured logger.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestid.Get(c)),
			slog.String("remote_addr", c.ClientIP()),
		)
	}
}

// CorrelationMiddleware turns the request id into the audit correlation id so
// every audit event emitted while serving a request carries the same id the
// client saw in the X-Request-Id header.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(requestid.Get(c))
		if err != nil {
			id = uuid.Must(uuid.NewV7())
		}
		ctx := auditDomain.ContextWithCorrelationID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
