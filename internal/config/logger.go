package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger builds the structured logger from configuration and installs it
// as the process default
func InitLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Logger initialized",
		"level", cfg.LogLevel,
		"format", cfg.LogFormat,
	)
	return logger
}

// NewLogger creates a JSON or text slog logger writing to w
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
