package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enabled slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"uppercase accepted", "WARN", slog.LevelWarn},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level)

			logger := slog.Default()
			assert.True(t, logger.Enabled(context.Background(), tt.enabled))
			if tt.enabled > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.enabled-4))
			}
		})
	}
}
