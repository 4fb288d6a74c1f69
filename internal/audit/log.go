// Package audit emits structured audit events for security-relevant
// actions: logins, token rotations, role mutations.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext extracts the audit request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record enriched with request and identity
// context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := make([]any, 0, 2*(len(fields)+3))
	attrs = append(attrs, "type", "audit", "event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if id, ok := authz.IdentityFromContext(ctx); ok {
		attrs = append(attrs, "subject", id.Subject)
	}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	obs.Logger().Log(ctx, slog.LevelInfo, event, attrs...)
	return nil
}
