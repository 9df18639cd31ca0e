package logging

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const correlationKey ctxKey = "correlation_id"

// Setup builds the root logger. Dev gets a console writer, everything else
// emits JSON lines.
func Setup(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

// WithCorrelationID returns a context whose logger tags every line with the
// attempt's correlation id. The id is threaded through the context rather
// than any package-level state, so in-process engine instances cannot corrupt
// each other's traces.
func WithCorrelationID(ctx context.Context, logger zerolog.Logger, id string) context.Context {
	l := logger.With().Str("correlation_id", id).Logger()
	ctx = context.WithValue(ctx, correlationKey, id)
	return l.WithContext(ctx)
}

// CorrelationID extracts the attempt correlation id, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// FromContext returns the context logger, falling back to a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
