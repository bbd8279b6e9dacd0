package config

import (
	"io"
	"log/slog"
	"strings"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, gferrors.NewValidationError("config", "logging.level", s, "unknown level").
		WithHint("use debug, info, warn or error")
}

// NewLogger builds a text or JSON logger writing to w. Debug level adds
// source locations.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, gferrors.NewValidationError("config", "logging.format", format, "unknown format").
			WithHint("use text or json")
	}
	return slog.New(handler), nil
}

// Logger builds the logger described by the logging section.
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	return NewLogger(w, l.Level, l.Format)
}
