package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// added to every record logged with the context.
const (
	// ContextKeySessionID identifies the inspection session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyComponent identifies the emitting component (relay, gemini, session).
	ContextKeyComponent contextKey = "component"

	// ContextKeyRemoteAddr is the client address of a relay connection.
	ContextKeyRemoteAddr contextKey = "remote_addr"

	// ContextKeyRequestID identifies the HTTP upgrade request.
	ContextKeyRequestID contextKey = "request_id"
)

var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyComponent,
	ContextKeyRemoteAddr,
	ContextKeyRequestID,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithComponent returns a new context with the component name set.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// WithRemoteAddr returns a new context with the client address set.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ContextKeyRemoteAddr, addr)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// SessionID returns the session ID stored in ctx, if any.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeySessionID).(string)
	return v
}

// ContextHandler is a slog.Handler that extracts logging fields from the
// context and adds them to each record before delegating to inner.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler creates a new ContextHandler wrapping the given handler.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds context fields to the record and delegates to the inner handler.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, key := range allContextKeys {
			if s, ok := ctx.Value(key).(string); ok && s != "" {
				r.AddAttrs(slog.String(string(key), s))
			}
		}
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

var _ slog.Handler = (*ContextHandler)(nil)
