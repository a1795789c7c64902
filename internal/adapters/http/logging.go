package http

import (
	"context"
	"log/slog"
	"net/http"
)

// adapterLog scopes the default logger to the HTTP adapter and stamps the
// request id when the context carries one.
func adapterLog(ctx context.Context) *slog.Logger {
	logger := slog.Default().With(
		"service", "license-activation-service",
		"module", "http",
		"layer", "adapter",
	)
	if id := requestIDFromContext(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	return logger
}

// logRejection records a request the licensing API refused. The cause stays
// in the log; clients only see the public error code.
func logRejection(ctx context.Context, operation string, status int, code string, cause error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("outcome", "rejected"),
		slog.Int("status_code", status),
		slog.String("error_code", code),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	adapterLog(ctx).LogAttrs(ctx, level, "licensing request rejected", attrs...)
}
