package notify

import (
	"context"
	"log/slog"
)

// LogSink writes every notification to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs notifications through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs ev at info level, or error level for error notifications.
func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	if ev.Error {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "notification",
		"event", ev.Name,
		"id", ev.ID,
		"message", ev.Message,
		"explorer_url", ev.ExplorerURL,
	)
	return nil
}
