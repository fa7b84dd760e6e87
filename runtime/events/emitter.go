package events

import (
	"time"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// Emitter provides helpers for publishing events of one session.
// A nil Emitter, or one without a bus, discards everything.
type Emitter struct {
	bus       *EventBus
	sessionID string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) bool {
	if e == nil || e.bus == nil {
		return false
	}
	return e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	})
}

// SessionOpened emits the session.opened event.
func (e *Emitter) SessionOpened(remoteAddr string) {
	e.emit(EventSessionOpened, &SessionOpenedData{RemoteAddr: remoteAddr})
}

// SessionReady emits the session.ready event.
func (e *Emitter) SessionReady(connectDuration time.Duration) {
	e.emit(EventSessionReady, &SessionReadyData{ConnectDuration: connectDuration})
}

// SessionResult emits the session.result event.
func (e *Emitter) SessionResult(bytes int) {
	e.emit(EventSessionResult, &SessionResultData{Bytes: bytes})
}

// SessionFailed emits the session.failed event.
func (e *Emitter) SessionFailed(code pkgerrors.Code, reason string) {
	e.emit(EventSessionFailed, &SessionFailedData{Code: code, Reason: reason})
}

// SessionClosed emits the session.closed event and reports whether the bus
// accepted it.
func (e *Emitter) SessionClosed(data *SessionClosedData) bool {
	return e.emit(EventSessionClosed, data)
}

// ChunkForwarded emits the chunk.forwarded event.
func (e *Emitter) ChunkForwarded(mime string, bytes int) {
	e.emit(EventChunkForwarded, &ChunkForwardedData{Mime: mime, Bytes: bytes})
}

// ChunkDropped emits the chunk.dropped event.
func (e *Emitter) ChunkDropped(mime, reason string) {
	e.emit(EventChunkDropped, &ChunkDroppedData{Mime: mime, Reason: reason})
}
