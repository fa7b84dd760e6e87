package prometheus

import (
	"github.com/AltairaLabs/LiveInspect/runtime/events"
)

// MetricsListener records relay events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventSessionOpened:
		RecordSessionStart()
	case events.EventSessionReady:
		if data, ok := event.Data.(*events.SessionReadyData); ok {
			RecordUpstreamConnect(data.ConnectDuration.Seconds())
		}
	case events.EventSessionResult:
		RecordResult()
	case events.EventSessionFailed:
		if data, ok := event.Data.(*events.SessionFailedData); ok {
			RecordSessionError(string(data.Code))
		}
	case events.EventSessionClosed:
		if data, ok := event.Data.(*events.SessionClosedData); ok {
			RecordSessionEnd(string(data.Outcome), data.Duration.Seconds())
		}
	case events.EventChunkForwarded:
		if data, ok := event.Data.(*events.ChunkForwardedData); ok {
			RecordChunkForwarded(data.Mime, data.Bytes)
		}
	case events.EventChunkDropped:
		if data, ok := event.Data.(*events.ChunkDroppedData); ok {
			RecordChunkDropped(data.Mime)
		}
	default:
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
