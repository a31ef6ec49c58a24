// Package log configures the process-wide slog logger. Output goes to
// stderr so command output on stdout stays parseable.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var (
	defaultLogger *slog.Logger
	levelVar      *slog.LevelVar
)

func init() {
	levelVar = &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelVar,
	})
	defaultLogger = slog.New(handler)
}

// SetLevelName maps the config LOG_LEVEL names onto slog levels.
// WARNING and CRITICAL are aliases for Warn and Error.
func SetLevelName(name string) error {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		levelVar.Set(slog.LevelDebug)
	case "INFO":
		levelVar.Set(slog.LevelInfo)
	case "WARNING", "WARN":
		levelVar.Set(slog.LevelWarn)
	case "ERROR", "CRITICAL":
		levelVar.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// SetDebug forces debug logging on, or restores the info default.
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// WithModule returns a logger tagged with the subsystem name.
func WithModule(module string) *slog.Logger {
	return defaultLogger.With(slog.String("module", module))
}
