// Package obs builds the daemon's structured logger.
package obs

import (
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/masq"

	"github.com/btu-sched/daemon/internal/config"
)

// GlobalLevel is shared so tracing_level can, in principle, be adjusted
// at runtime without re-reading the config file.
var GlobalLevel = &slog.LevelVar{}

// levelTrace is lower than slog.LevelDebug; slog has no native TRACE.
const levelTrace = slog.LevelDebug - 4

// NewLogger builds the process-wide slog.Logger from the logging section
// of Config. Attributes named password, Password, mysql_password, token,
// Token or webserver_token are redacted via masq; values under any other
// key, such as a redis URL carrying credentials, are logged as given.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter is NewLogger with an explicit writer, used by tests.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	GlobalLevel.Set(parseLevel(cfg.TracingLevel))

	redactor := masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("mysql_password"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("webserver_token"),
	)

	opts := &slog.HandlerOptions{
		Level:       GlobalLevel,
		ReplaceAttr: redactor,
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "TRACE":
		return levelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger annotated with the emitting subsystem's name,
// so interleaved worker-thread output can be told apart (C7 through C10
// each run on their own goroutine).
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.String("component", name))
}
