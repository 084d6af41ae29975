package main

import (
	"log/slog"
	"os"
)

func main() {
	// Structured JSON logging to stdout; the level is raised once the
	// config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// setupLogger replaces the default logger with one at the configured level.
func setupLogger(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
