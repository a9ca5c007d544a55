package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request carries the per-request identity attached to every log line.
// It mirrors the resolved tenant context without importing it.
type Request struct {
	TenantID   string
	TenantSlug string
	CallerID   string
	Role       string
}

type requestCtxKey struct{}
type requestIDCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if r := RequestFromContext(ctx); r != nil {
		if r.TenantID != "" {
			fields = append(fields, zap.String("tenant_id", r.TenantID))
		}
		if r.TenantSlug != "" {
			fields = append(fields, zap.String("tenant_slug", r.TenantSlug))
		}
		if r.CallerID != "" {
			fields = append(fields, zap.String("caller_id", r.CallerID))
		}
		if r.Role != "" {
			fields = append(fields, zap.String("role", r.Role))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

// WithRequest attaches request identity to ctx.
func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, &r)
}

// RequestFromContext returns the identity attached by WithRequest, or nil.
func RequestFromContext(ctx context.Context) *Request {
	if r, ok := ctx.Value(requestCtxKey{}).(*Request); ok {
		return r
	}
	return nil
}

// WithRequestID adds a request ID to ctx. IDs that are empty, too long or
// contain unexpected characters are dropped rather than logged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" || len(requestID) > maxIDLen || !idPattern.MatchString(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestIDCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
