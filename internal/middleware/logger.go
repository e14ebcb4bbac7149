package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger returns a zap-based request logging middleware. Server errors log at Error,
// rejected requests at Warn, everything else at Info.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, "request"); ce != nil {
			ce.Write(
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("route", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
				zap.String("participant_id", c.GetString(ContextParticipantID)),
			)
		}
	}
}
