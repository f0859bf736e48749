package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// newLogger creates the service logger. format is json (default) or console.
func newLogger(level string, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// requestLogger tags each request with an id (reusing the caller's
// X-Request-ID if sent) and stores a logger carrying it in the gin context
func (svc *ServiceContext) requestLogger(c *gin.Context) {
	reqID := c.GetHeader(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Header(requestIDHeader, reqID)
	l := svc.Log.With().Str("request_id", reqID).Logger()
	c.Set("logger", l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	c.Next()
}

// logger returns the request scoped logger, falling back to the service logger
func (svc *ServiceContext) logger(c *gin.Context) zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(zerolog.Logger); ok {
			return l
		}
	}
	return svc.Log
}
