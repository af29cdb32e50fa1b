package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

var level = new(slog.LevelVar) // dynamic level, LOG_LEVEL can change it at Init

func init() {
	Logger = slog.New(newHandler())
}

func newHandler() slog.Handler {
	if os.Getenv("LOG_FORMAT") == "text" {
		return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
}

// Init re-reads LOG_FORMAT and LOG_LEVEL. Call it after the environment is loaded.
func Init() {
	level.Set(ParseLevel(os.Getenv("LOG_LEVEL")))
	Logger = slog.New(newHandler())
	slog.SetDefault(Logger)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Shortcut helpers
func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

// With returns a child logger, e.g. one per device.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// WrapSlog adapts the structured logger to the *log.Logger the modbus handlers expect.
func WrapSlog(key, value string) *log.Logger {
	return slog.NewLogLogger(Logger.With(key, value).Handler(), slog.LevelDebug)
}
