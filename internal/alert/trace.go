package alert

import (
	"context"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// WithTraceID attaches a trace ID to ctx, generating one if id is empty.
// Every request entering the broker client, fetcher, or scheduler starts a
// trace here so logs and alerts across goroutines can be correlated.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceID returns the trace ID carried by ctx, or "" if none was attached.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// EnsureTraceID returns ctx unchanged if it already carries a trace ID,
// otherwise attaches a freshly generated one.
func EnsureTraceID(ctx context.Context) context.Context {
	if TraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, "")
}
