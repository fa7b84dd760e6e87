package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/LiveInspect/runtime/events"
)

// SessionTracer turns relay lifecycle events into one span per session.
// The relay starts the span with the request context so it nests under the
// HTTP server span; session.closed ends it, or EndSession when the event
// could not be delivered. Safe for concurrent use.
type SessionTracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewSessionTracer creates a tracer listener.
func NewSessionTracer(tracer trace.Tracer) *SessionTracer {
	return &SessionTracer{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// StartSession opens the session span and returns a context carrying it, so
// upstream dials can propagate the trace.
func (t *SessionTracer) StartSession(parent context.Context, sessionID, remoteAddr string) context.Context {
	ctx, span := t.tracer.Start(parent, "liveinspect.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("client.address", remoteAddr),
		),
	)
	t.mu.Lock()
	t.spans[sessionID] = span
	t.mu.Unlock()
	return ctx
}

// Active returns the number of open session spans.
func (t *SessionTracer) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// OnEvent records an event on its session span. It can be passed to
// EventBus.SubscribeAll.
func (t *SessionTracer) OnEvent(evt *events.Event) {
	//nolint:exhaustive // chunk events are aggregated in session.closed
	switch evt.Type {
	case events.EventSessionReady:
		span := t.span(evt.SessionID)
		if data, ok := evt.Data.(*events.SessionReadyData); ok && span != nil {
			span.AddEvent("upstream.ready", trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(
				attribute.Float64("connect.duration_ms", float64(data.ConnectDuration.Microseconds())/1000),
			))
		}
	case events.EventSessionFailed:
		span := t.span(evt.SessionID)
		if data, ok := evt.Data.(*events.SessionFailedData); ok && span != nil {
			span.AddEvent("session.error", trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(
				attribute.String("error.code", string(data.Code)),
				attribute.String("error.reason", data.Reason),
			))
			span.SetStatus(codes.Error, string(data.Code))
		}
	case events.EventSessionClosed:
		data, _ := evt.Data.(*events.SessionClosedData)
		t.end(evt.SessionID, data, evt.Timestamp)
	}
}

func (t *SessionTracer) span(sessionID string) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[sessionID]
}

// EndSession ends the session span directly. Calling it for a session whose
// span has already ended is a no-op.
func (t *SessionTracer) EndSession(sessionID string, data *events.SessionClosedData) {
	t.end(sessionID, data, time.Now())
}

func (t *SessionTracer) end(sessionID string, data *events.SessionClosedData, at time.Time) {
	t.mu.Lock()
	span, ok := t.spans[sessionID]
	delete(t.spans, sessionID)
	t.mu.Unlock()
	if !ok {
		return
	}

	if data != nil {
		span.SetAttributes(
			attribute.String("session.outcome", string(data.Outcome)),
			attribute.Int("session.chunks_forwarded", data.ChunksForwarded),
			attribute.Int("session.results", data.Results),
		)
		if data.Code != "" {
			span.SetAttributes(attribute.String("error.code", string(data.Code)))
		}
	}
	span.End(trace.WithTimestamp(at))
}
