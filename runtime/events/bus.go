// Package events provides a lightweight pub/sub event bus for relay session
// lifecycle observability.
package events

import (
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 1024

// Listener is a function that handles events.
type Listener func(*Event)

// EventBus manages event distribution to listeners. Publish never blocks the
// caller; a single dispatcher delivers events in publish order, so a
// listener sees session.opened before session.closed for the same session.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]Listener
	globalListeners []Listener

	queue     chan *Event
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
}

// NewEventBus creates a new event bus and starts its dispatcher.
func NewEventBus() *EventBus {
	eb := &EventBus{
		listeners: make(map[EventType][]Listener),
		queue:     make(chan *Event, defaultQueueSize),
		done:      make(chan struct{}),
	}
	go eb.dispatch()
	return eb
}

// Subscribe registers a listener for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners[eventType] = append(eb.listeners[eventType], listener)
}

// SubscribeAll registers a listener for all event types.
func (eb *EventBus) SubscribeAll(listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.globalListeners = append(eb.globalListeners, listener)
}

// Publish queues an event for delivery and reports whether it was accepted.
// Events published while the queue is full, or after Close, are dropped and
// counted.
func (eb *EventBus) Publish(event *Event) bool {
	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		eb.dropped.Add(1)
		return false
	}
	select {
	case eb.queue <- event:
		return true
	default:
		eb.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events that were not delivered.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closeMu.Lock()
		eb.closed = true
		close(eb.queue)
		eb.closeMu.Unlock()
	})
	<-eb.done
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]Listener)
	eb.globalListeners = nil
}

func (eb *EventBus) dispatch() {
	defer close(eb.done)
	for event := range eb.queue {
		eb.mu.RLock()
		specific := append([]Listener(nil), eb.listeners[event.Type]...)
		global := append([]Listener(nil), eb.globalListeners...)
		eb.mu.RUnlock()

		for _, listener := range specific {
			safeInvoke(listener, event)
		}
		for _, listener := range global {
			safeInvoke(listener, event)
		}
	}
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
