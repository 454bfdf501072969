package logger

import (
	"io"
	"log/slog"
	"os"
)

var Logger = slog.Default()

// Init installs the process logger: text to stdout, JSON when LOG_FORMAT=json,
// debug level when DEBUG=true.
func Init() {
	Logger = New(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("DEBUG") == "true")
	slog.SetDefault(Logger)
}

func New(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}
