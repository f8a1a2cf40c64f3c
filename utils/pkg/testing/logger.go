package bondstesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger for tests. Output is suppressed below error level unless
// DEBUG is set (1 = info, 2 = debug).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
