package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base enriched with whatever request identifiers
// the context carries.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	c := base.With()
	if id := GetTraceID(ctx); id != "" {
		c = c.Str("trace_id", id)
	}
	if id, ok := GetUserID(ctx); ok {
		c = c.Int64("user_id", id)
	}
	if id := GetThreadID(ctx); id != "" {
		c = c.Str("thread_id", id)
	}
	if id, ok := GetUpdateID(ctx); ok {
		c = c.Int("update_id", id)
	}
	return c.Logger()
}
