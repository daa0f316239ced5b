// Package logx wraps the process-wide zerolog logger.
package logx

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/BTreeMap/FlowPipe/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerOpts controls Init.
type LoggerOpts struct {
	Environment config.Environment
	Level       string
	Output      io.Writer
}

var DefaultLoggerOpts = &LoggerOpts{
	Environment: config.Development,
	Level:       "info",
}

func safe(opts ...LoggerOpts) *LoggerOpts {
	if len(opts) == 0 {
		return DefaultLoggerOpts
	}
	return &opts[0]
}

// Init configures the global logger. Production emits JSON lines, everything
// else goes through the console writer.
func Init(opts ...LoggerOpts) {
	o := safe(opts...)
	out := o.Output
	if out == nil {
		out = os.Stdout
	}

	if o.Environment.IsProduction() {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Caller().Logger()
	}
	log.Logger = log.Logger.Level(ParseLevel(o.Level))
	zerolog.DefaultContextLogger = &log.Logger
}

// ParseLevel maps LOG_LEVEL values to zerolog levels. Unknown values mean info.
func ParseLevel(v string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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

// With returns a child logger context of the global logger.
func With() zerolog.Context {
	return log.Logger.With()
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}

// Ctx returns the logger attached to ctx, falling back to the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// WithFields attaches a child logger carrying the request fields to ctx.
func WithFields(ctx context.Context, correlationID, userID, instance string) context.Context {
	l := Ctx(ctx).With().
		Str("correlation_id", correlationID).
		Str("user_id", userID).
		Str("instance", instance).
		Logger()
	return l.WithContext(ctx)
}
