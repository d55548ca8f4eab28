// Package logging provides structured logging utilities.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewLogger creates a new zerolog logger configured for the service.
// Output goes to stderr so it never mixes with the output of a wrapped command.
func NewLogger(serviceName string, level string) zerolog.Logger {
	return newLogger(os.Stderr, serviceName, level)
}

// NewPrettyLogger creates a logger with pretty console output (for development).
func NewPrettyLogger(serviceName string, level string) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return newLogger(consoleWriter, serviceName, level)
}

// NewFromFormat picks NewPrettyLogger for "pretty" and NewLogger otherwise.
func NewFromFormat(serviceName, level, format string) zerolog.Logger {
	if format == "pretty" {
		return NewPrettyLogger(serviceName, level)
	}
	return NewLogger(serviceName, level)
}

func newLogger(w io.Writer, serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// RequestLogger returns a Gin middleware for HTTP request logging.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		event := logger.Debug()
		if statusCode >= 400 && statusCode < 500 {
			event = logger.Warn()
		} else if statusCode >= 500 {
			event = logger.Error()
		}

		event.
			Str("type", "http_request").
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", statusCode).
			Str("clientIp", c.ClientIP()).
			Dur("latency", latency)

		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg("HTTP request")
	}
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LoggerFromContext extracts the logger from context.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// LockLogger creates a logger for a single lock acquisition.
func LockLogger(logger zerolog.Logger, lockID int64, acquisitionID string) zerolog.Logger {
	return logger.With().
		Int64("lockId", lockID).
		Str("acquisitionId", acquisitionID).
		Logger()
}

// TargetLogger creates a logger carrying the database target a session talks to.
func TargetLogger(logger zerolog.Logger, host string, port uint16, database string) zerolog.Logger {
	return logger.With().
		Str("host", host).
		Uint16("port", port).
		Str("database", database).
		Logger()
}
