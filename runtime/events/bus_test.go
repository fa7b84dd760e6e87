package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) listen(e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestEventBus_SpecificAndGlobalListeners(t *testing.T) {
	bus := NewEventBus()

	var specific, global recorder
	bus.Subscribe(EventSessionOpened, specific.listen)
	bus.SubscribeAll(global.listen)

	bus.Publish(&Event{Type: EventSessionOpened})
	bus.Publish(&Event{Type: EventSessionClosed})
	bus.Close()

	assert.Equal(t, []EventType{EventSessionOpened}, specific.types())
	assert.Equal(t, []EventType{EventSessionOpened, EventSessionClosed}, global.types())
}

func TestEventBus_PreservesOrder(t *testing.T) {
	bus := NewEventBus()
	var rec recorder
	bus.SubscribeAll(rec.listen)

	em := NewEmitter(bus, "s-1")
	em.SessionOpened("10.0.0.1:5000")
	em.SessionReady(20 * time.Millisecond)
	for i := 0; i < 100; i++ {
		em.ChunkForwarded("audio/pcm", 320)
	}
	em.SessionResult(12)
	em.SessionFailed(pkgerrors.CodeUpstreamRejected, "quota")
	em.ChunkDropped("image/jpeg", "upstream closed")
	em.SessionClosed(&SessionClosedData{Outcome: OutcomeFailed})
	bus.Close()

	types := rec.types()
	require.Len(t, types, 106)
	assert.Equal(t, EventSessionOpened, types[0])
	assert.Equal(t, EventSessionReady, types[1])
	assert.Equal(t, EventSessionClosed, types[len(types)-1])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "s-1", rec.events[0].SessionID)
	assert.Equal(t, "10.0.0.1:5000", rec.events[0].Data.(*SessionOpenedData).RemoteAddr)
	assert.Equal(t, "quota", rec.events[103].Data.(*SessionFailedData).Reason)
}

func TestEventBus_RecoversFromPanic(t *testing.T) {
	bus := NewEventBus()
	var rec recorder

	bus.Subscribe(EventSessionFailed, func(*Event) { panic("listener panic") })
	bus.Subscribe(EventSessionFailed, rec.listen)

	bus.Publish(&Event{Type: EventSessionFailed})
	bus.Close()

	assert.Len(t, rec.types(), 1)
}

func TestEventBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewEventBus()
	bus.Close()
	bus.Close()

	bus.Publish(&Event{Type: EventSessionOpened})
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestEventBus_Clear(t *testing.T) {
	bus := NewEventBus()
	var rec recorder
	bus.SubscribeAll(rec.listen)
	bus.Clear()

	bus.Publish(&Event{Type: EventSessionOpened})
	bus.Close()
	assert.Empty(t, rec.types())
}

func TestEmitter_NilIsSafe(t *testing.T) {
	var em *Emitter
	em.SessionOpened("x")
	NewEmitter(nil, "s").SessionClosed(&SessionClosedData{})
}
