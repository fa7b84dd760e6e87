package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
	"github.com/AltairaLabs/LiveInspect/runtime/capture"
	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
)

// DefaultConnectTimeout bounds the wait for the server's ready message.
const DefaultConnectTimeout = 5 * time.Second

const inboxSize = 64

// StatusEvent is emitted once per state transition. Code and Message are set
// only for the Error state.
type StatusEvent struct {
	SessionID string
	State     State
	Label     string
	Code      pkgerrors.Code
	Message   string
}

// StatusSink receives status events on the machine's loop goroutine. It must
// not block and must not call Start, Stop or Close synchronously.
type StatusSink func(StatusEvent)

// ResultSink receives result payloads unchanged, on the loop goroutine.
type ResultSink func(sessionID string, payload json.RawMessage)

// Config configures a Machine.
type Config struct {
	Constraints    capture.Constraints
	ConnectTimeout time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

// WithStatusSink sets the receiver for status events.
func WithStatusSink(sink StatusSink) Option {
	return func(m *Machine) { m.statusSink = sink }
}

// WithResultSink sets the receiver for result payloads.
func WithResultSink(sink ResultSink) Option {
	return func(m *Machine) { m.resultSink = sink }
}

// WithConnectTimeout overrides Config.ConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Machine) { m.cfg.ConnectTimeout = d }
}

// Machine drives one inspection session at a time. Every transition runs on a
// single loop goroutine; capture and transport callbacks are posted to its
// inbox, so transitions never re-enter. Callbacks that belong to an earlier
// session are discarded.
type Machine struct {
	cfg        Config
	adapter    capture.Adapter
	dialer     Dialer
	statusSink StatusSink
	resultSink ResultSink

	inbox     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Guarded by mu for readers; written only on the loop goroutine.
	mu        sync.RWMutex
	state     State
	sessionID string
	createdAt time.Time
	lastError *pkgerrors.ContextualError

	// Loop-owned.
	gen    uint64
	cancel context.CancelFunc
	timer  *time.Timer
	stream capture.Stream
	link   Link
}

// New creates a Machine in the Idle state and starts its loop.
func New(cfg Config, adapter capture.Adapter, dialer Dialer, opts ...Option) *Machine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	m := &Machine{
		cfg:        cfg,
		adapter:    adapter,
		dialer:     dialer,
		statusSink: func(StatusEvent) {},
		resultSink: func(string, json.RawMessage) {},
		inbox:      make(chan func(), inboxSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		state:      Idle,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Start begins a new session with a fresh session id. It is accepted from
// Idle, Error and Closed and ignored otherwise. Start returns once the
// transition has been applied; capture and connection continue asynchronously.
func (m *Machine) Start() {
	m.call(m.handleStart)
}

// Stop ends the current session: end is sent if a channel is open, then the
// channel and capture are released.
func (m *Machine) Stop() {
	m.call(m.handleStop)
}

// Close stops the session without a status event and shuts the loop down.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.call(m.teardown)
		close(m.done)
		<-m.stopped
	})
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the id of the current or most recent session, empty
// before the first Start.
func (m *Machine) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// CreatedAt returns when the current session started.
func (m *Machine) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// LastError returns the failure that moved the session to Error, or nil.
func (m *Machine) LastError() *pkgerrors.ContextualError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Status returns the event describing the current state.
func (m *Machine) Status() StatusEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() StatusEvent {
	ev := StatusEvent{SessionID: m.sessionID, State: m.state, Label: m.state.Label()}
	if m.state == Error && m.lastError != nil {
		ev.Code = m.lastError.Code
		ev.Message = ErrorMessage(m.lastError.Code)
	}
	return ev
}

func (m *Machine) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Machine) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (m *Machine) call(fn func()) {
	finished := make(chan struct{})
	if !m.post(func() { fn(); close(finished) }) {
		return
	}
	select {
	case <-finished:
	case <-m.stopped:
	}
}

// fire applies e and emits the resulting status event.
func (m *Machine) fire(e Event, failure *pkgerrors.ContextualError) bool {
	next, ok := Next(m.state, e)
	if !ok {
		return false
	}

	m.mu.Lock()
	m.state = next
	if next == Error {
		m.lastError = failure
	}
	ev := m.statusLocked()
	m.mu.Unlock()

	logger.Debug("session transition", "session_id", ev.SessionID, "event", e.String(), "state", next.String())
	m.statusSink(ev)
	return true
}

func (m *Machine) handleStart() {
	if _, ok := Next(m.state, EventStart); !ok {
		return
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.mu.Lock()
	m.sessionID = uuid.NewString()
	m.createdAt = time.Now()
	m.lastError = nil
	m.mu.Unlock()

	m.fire(EventStart, nil)

	go func() {
		st, err := m.adapter.Open(ctx, m.cfg.Constraints)
		if !m.post(func() { m.onCaptureOpened(gen, st, err) }) && st != nil {
			_ = st.Close()
		}
	}()
}

func (m *Machine) onCaptureOpened(gen uint64, st capture.Stream, err error) {
	if gen != m.gen {
		if st != nil {
			_ = st.Close()
		}
		return
	}
	if err != nil {
		if !errors.Is(err, capture.ErrPermissionDenied) {
			logger.Warn("capture open failed", "error", err)
		}
		m.fail(pkgerrors.CodePermissionDenied, "OpenCapture", err)
		return
	}

	m.stream = st
	if !m.fire(EventPermissionGranted, nil) {
		return
	}

	m.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.post(func() { m.onConnectTimeout(gen) })
	})

	ctx := m.sessionContext()
	go func() {
		link, err := m.dialer.Dial(ctx)
		if !m.post(func() { m.onDialed(gen, link, err) }) && link != nil {
			_ = link.Close()
		}
	}()
}

func (m *Machine) sessionContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	prev := m.cancel
	m.cancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	return ctx
}

func (m *Machine) onDialed(gen uint64, link Link, err error) {
	if gen != m.gen {
		if link != nil {
			go func() { _ = link.Close() }()
		}
		return
	}
	if err != nil {
		m.fail(pkgerrors.CodeConnectionLost, "DialChannel", err)
		return
	}

	m.link = link
	go forwardChunks(m.sessionContext(), m.stream, link)
	go m.watch(gen, link)
}

// forwardChunks copies capture output into the link until either ends.
func forwardChunks(ctx context.Context, st capture.Stream, link Link) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-st.Chunks():
			if !ok {
				return
			}
			link.Send(c)
		}
	}
}

func (m *Machine) watch(gen uint64, link Link) {
	for msg := range link.Messages() {
		if !m.post(func() { m.onMessage(gen, msg) }) {
			return
		}
	}
	info := <-link.Closed()
	m.post(func() { m.onLinkClosed(gen, info) })
}

func (m *Machine) onMessage(gen uint64, msg protocol.Message) {
	if gen != m.gen {
		return
	}
	switch msg.Type {
	case protocol.TypeReady:
		if m.state == Connecting {
			m.stopTimer()
			m.fire(EventChannelOpen, nil)
		}
	case protocol.TypeError:
		code := msg.Code
		if !code.Known() {
			code = pkgerrors.CodeUpstreamRejected
		}
		m.fail(code, "Receive", errors.New(msg.Message))
	case protocol.TypeResult:
		m.resultSink(m.sessionID, msg.Payload)
	}
}

func (m *Machine) onLinkClosed(gen uint64, info transport.CloseInfo) {
	if gen != m.gen {
		return
	}
	switch m.state {
	case RequestingPermissions, Connecting, Streaming:
		cause := info.Err
		if cause == nil {
			cause = errors.New("channel closed")
		}
		m.fail(pkgerrors.CodeConnectionLost, "Receive", cause)
	}
}

func (m *Machine) onConnectTimeout(gen uint64) {
	if gen != m.gen || m.state != Connecting {
		return
	}
	m.fail(pkgerrors.CodeConnectTimeout, "AwaitReady", context.DeadlineExceeded)
}

func (m *Machine) fail(code pkgerrors.Code, op string, cause error) {
	failure := pkgerrors.Coded("session", op, code, cause)
	if _, ok := Next(m.state, eventFor(code)); !ok {
		return
	}
	m.teardown()
	m.fire(eventFor(code), failure)
}

func (m *Machine) handleStop() {
	if _, ok := Next(m.state, EventUserStop); !ok {
		return
	}
	if m.link != nil {
		m.link.SendEnd()
	}
	m.teardown()
	m.fire(EventUserStop, nil)
}

// teardown releases the session's resources and invalidates its callbacks.
func (m *Machine) teardown() {
	m.gen++
	m.stopTimer()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
	if m.link != nil {
		link := m.link
		m.link = nil
		// Close flushes queued messages, keep it off the loop.
		go func() { _ = link.Close() }()
	}
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
