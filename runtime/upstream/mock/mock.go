// Package mock provides a scriptable in-process upstream for tests and for
// running the relay without a backend.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/LiveInspect/runtime/credentials"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
)

// resultBuffer bounds queued echoes; echoes beyond it are dropped.
const resultBuffer = 1024

// Dialer is a scriptable upstream.Dialer. The zero value accepts every dial
// and echoes one result per chunk.
type Dialer struct {
	// Reject, when set, is returned by every Dial.
	Reject *upstream.Rejected
	// DialDelay is waited before Dial returns; ctx cancellation aborts it.
	DialDelay time.Duration
	// NoEcho disables the per-chunk echo result.
	NoEcho bool
	// EndAfter terminates a session after that many chunks; zero never ends.
	EndAfter int
	// EndWith is the termination error after EndAfter chunks; nil ends cleanly.
	EndWith error
	// Greeting, when set, is emitted as the first result of every session.
	Greeting json.RawMessage

	mu       sync.Mutex
	dials    int
	sessions []*Session
}

// Dial implements upstream.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ credentials.Credential) (upstream.Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	if d.DialDelay > 0 {
		select {
		case <-time.After(d.DialDelay):
		case <-ctx.Done():
			return nil, &upstream.Rejected{Reason: upstream.ReasonUnavailable, Cause: ctx.Err()}
		}
	}
	if d.Reject != nil {
		return nil, d.Reject
	}

	s := &Session{
		results:  make(chan json.RawMessage, resultBuffer),
		echo:     !d.NoEcho,
		endAfter: d.EndAfter,
		endWith:  d.EndWith,
	}
	if d.Greeting != nil {
		s.results <- d.Greeting
	}

	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Sessions returns the sessions opened so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Session records chunks in arrival order.
type Session struct {
	results  chan json.RawMessage
	echo     bool
	endAfter int
	endWith  error

	mu       sync.Mutex
	chunks   []protocol.Chunk
	ended    bool
	err      error
	closedBy string
}

// EchoResult is the payload emitted for each received chunk.
type EchoResult struct {
	Kind string `json:"kind"`
	Seq  int    `json:"seq"`
	Mime string `json:"mime"`
	TS   int64  `json:"ts"`
}

// Send records c and emits its echo.
func (s *Session) Send(_ context.Context, c protocol.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return upstream.ErrSessionClosed
	}

	s.chunks = append(s.chunks, c)
	seq := len(s.chunks)

	if s.echo {
		payload, err := json.Marshal(EchoResult{Kind: "echo", Seq: seq, Mime: c.Mime, TS: c.TS})
		if err != nil {
			return fmt.Errorf("failed to encode echo: %w", err)
		}
		select {
		case s.results <- payload:
		default:
		}
	}

	if s.endAfter > 0 && seq >= s.endAfter {
		s.endLocked(s.endWith, "remote")
	}
	return nil
}

// Results implements upstream.Session.
func (s *Session) Results() <-chan json.RawMessage {
	return s.results
}

// Err implements upstream.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(nil, "local")
	return nil
}

// Terminate ends the session from the backend side; a nil err is a clean end.
func (s *Session) Terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err, "remote")
}

// Emit pushes a result as if the backend produced it.
func (s *Session) Emit(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- payload
}

func (s *Session) endLocked(err error, by string) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	s.closedBy = by
	close(s.results)
}

// Chunks returns the chunks received so far, in order.
func (s *Session) Chunks() []protocol.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Ended reports whether the session has ended and who ended it ("local" or
// "remote").
func (s *Session) Ended() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.closedBy
}
