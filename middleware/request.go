package middleware

import (
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ClientContext copies the client IP and User-Agent into the request
// context, where the engine reads them for rate limiting and audit events.
// The IP comes from gin's ClientIP, which honours the router's trusted
// proxies.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := linkAuth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = linkAuth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger logs one line per request after the handler chain has run.
func Logger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Info()
		switch {
		case status >= 500:
			ev = logger.Error()
		case status >= 400:
			ev = logger.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("error", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
