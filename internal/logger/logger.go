// Package logger sets up structured JSON logging with zerolog and carries
// trace IDs through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init builds the process logger for the given service and installs it as
// the zerolog global, so log.Info() etc. share the same output.
func Init(service string, level zerolog.Level) zerolog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit sink.
func InitWriter(w io.Writer, service string, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(level)

	l := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = l
	return l
}

// ParseLevel maps a config string to a level. Unknown values fall back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a prefix and timestamp.
// Format: "{prefix}-{unixNano}".
func GenerateTraceID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}

// Ctx returns the global logger, enriched with the context's trace ID when
// one is set.
// Usage: logger.Ctx(ctx).Info().Msg("...")
func Ctx(ctx context.Context) *zerolog.Logger {
	tid := TraceID(ctx)
	if tid == "" {
		l := log.Logger
		return &l
	}
	l := log.Logger.With().Str("trace_id", tid).Logger()
	return &l
}
