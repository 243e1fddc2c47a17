package logger

import (
	"log/slog"
	"time"
)

// LogOperation logs the outcome of a public engine call.
func LogOperation(op string, duration time.Duration, err error, attrs ...any) {
	base := []any{
		slog.String("type", "op"),
		slog.String("op", op),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Warn("Operation failed", append(append(base, attrs...), slog.Any("error", err))...)
		return
	}
	slog.Debug("Operation completed", append(base, attrs...)...)
}

// LogSystem logs lifecycle events of the process.
func LogSystem(msg string, attrs ...any) {
	slog.Info(msg, append([]any{slog.String("type", "sys")}, attrs...)...)
}

// LogError logs failures that need an operator's attention.
func LogError(msg string, err error, attrs ...any) {
	base := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(base, attrs...)...)
}
