package slogx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext stores a logger on the context. Handlers down the chain pull it
// back out with FromContext, so request-scoped attributes follow the request.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the contextual logger, or the process default when the
// context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithRequestID derives a context whose logger tags every record with the
// request id.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("req_id", reqID))
}
