// Package httpmiddleware holds the gin middleware shared by every route.
package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattendance/internal/logging"
)

const HeaderRequestID = "X-Request-ID"

// RequestID assigns each request an id, or keeps the caller's, and attaches a
// logger carrying it to the request context.
func RequestID(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		reqLogger := logger.With(zap.String("request_id", rid))
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLogger))
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// AccessLog writes one line per request once the handler chain is done.
func AccessLog(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.FullPath()]; ok {
			return
		}
		log := logging.FromContext(c.Request.Context(), logger)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Info("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
