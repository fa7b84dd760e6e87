package events

import (
	"time"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// EventType identifies the type of event emitted by the relay.
type EventType string

const (
	// EventSessionOpened marks an accepted client connection.
	EventSessionOpened EventType = "session.opened"
	// EventSessionReady marks an established upstream session.
	EventSessionReady EventType = "session.ready"
	// EventSessionResult marks a result forwarded to the client.
	EventSessionResult EventType = "session.result"
	// EventSessionFailed marks an error reported to the client.
	EventSessionFailed EventType = "session.failed"
	// EventSessionClosed marks the end of a relay session.
	EventSessionClosed EventType = "session.closed"
	// EventChunkForwarded marks a chunk delivered upstream.
	EventChunkForwarded EventType = "chunk.forwarded"
	// EventChunkDropped marks a chunk that could not be delivered.
	EventChunkDropped EventType = "chunk.dropped"
)

// Outcome summarizes how a relay session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeDisconnected Outcome = "disconnected"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a relay event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// SessionOpenedData contains data for session opened events.
type SessionOpenedData struct {
	baseEventData
	RemoteAddr string
}

// SessionReadyData contains data for session ready events.
type SessionReadyData struct {
	baseEventData
	ConnectDuration time.Duration
}

// SessionResultData contains data for session result events.
type SessionResultData struct {
	baseEventData
	Bytes int
}

// SessionFailedData contains data for session failed events. Reason is the
// server-side classification and is never sent to clients.
type SessionFailedData struct {
	baseEventData
	Code   pkgerrors.Code
	Reason string
}

// SessionClosedData contains data for session closed events.
type SessionClosedData struct {
	baseEventData
	Outcome         Outcome
	Code            pkgerrors.Code
	Duration        time.Duration
	ChunksForwarded int
	Results         int
}

// ChunkForwardedData contains data for chunk forwarded events.
type ChunkForwardedData struct {
	baseEventData
	Mime  string
	Bytes int
}

// ChunkDroppedData contains data for chunk dropped events.
type ChunkDroppedData struct {
	baseEventData
	Mime   string
	Reason string
}
