package logging

import (
	"context"
	"log/slog"
)

// Standard attribute keys shared by every qrun component.
const (
	FieldComponent = "component"
	FieldQueue     = "queue"
	FieldJobID     = "job_id"
	// FieldCorrelationID ties the log lines of one client connection together.
	FieldCorrelationID = "correlation_id"
	// FieldSessionID identifies one daemon run across its log lines.
	FieldSessionID = "session_id"
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact states what the user loses because of a warning.
	FieldImpact = "impact"
)

type requestIDKey struct{}

// WithRequestID stores the correlation id of one client connection.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// WithContext returns logger tagged with the correlation id carried by ctx,
// or logger unchanged when there is none.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		return logger.With(String(FieldCorrelationID, id))
	}
	return logger
}
