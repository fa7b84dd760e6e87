// Package relay bridges client inspection sessions to the AI backend.
//
// Each accepted client connection gets its own relay session: it is checked
// for a configured credential, dialed upstream, and then pumped in both
// directions until either side ends. Sessions share nothing but the registry.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/LiveInspect/runtime/credentials"
	"github.com/AltairaLabs/LiveInspect/runtime/events"
	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/registry"
	"github.com/AltairaLabs/LiveInspect/runtime/telemetry"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
)

// ErrServiceClosed is returned by ServeConn once Shutdown has started.
var ErrServiceClosed = errors.New("relay service is shutting down")

const (
	// DefaultDialTimeout bounds the upstream dial and setup handshake.
	DefaultDialTimeout = 15 * time.Second

	// defaultInboundBuffer is how many client messages wait for the upstream
	// pump before the client reader blocks.
	defaultInboundBuffer = 64

	// DefaultProviderName labels upstream failures in the log.
	DefaultProviderName = "gemini"
)

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithCredential sets the upstream credential. Without one, or with one that
// fails validation, every session is refused with NoCredential.
func WithCredential(cred credentials.Credential) ServiceOption {
	return func(s *Service) { s.cred = cred }
}

// WithRegistry sets the live-session registry. Defaults to an in-memory store.
func WithRegistry(store registry.Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithEventBus publishes session lifecycle events on bus.
func WithEventBus(bus *events.EventBus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// WithSessionTracer opens a trace span per session.
func WithSessionTracer(t *telemetry.SessionTracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithDialTimeout bounds each upstream dial. Default: 15s.
func WithDialTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.dialTimeout = d }
}

// WithHeartbeat pings clients at the given interval. Zero disables pings.
func WithHeartbeat(d time.Duration) ServiceOption {
	return func(s *Service) { s.heartbeat = d }
}

// WithProviderName sets the provider label used when logging upstream failures.
func WithProviderName(name string) ServiceOption {
	return func(s *Service) { s.provider = name }
}

// WithIDGenerator replaces the session ID generator (uuid v4).
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// Service runs relay sessions. It holds only read-only configuration, so one
// Service serves any number of concurrent sessions.
type Service struct {
	dialer      upstream.Dialer
	cred        credentials.Credential
	store       registry.Store
	bus         *events.EventBus
	tracer      *telemetry.SessionTracer
	dialTimeout time.Duration
	heartbeat   time.Duration
	provider    string
	newID       func() string

	// base is canceled by Shutdown and parents every session context.
	base   context.Context //nolint:containedctx // lifetime of the service
	cancel context.CancelFunc

	// mu orders wg.Add against Shutdown.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewService creates a relay service that opens upstream sessions with dialer.
func NewService(dialer upstream.Dialer, opts ...ServiceOption) *Service {
	s := &Service{
		dialer:      dialer,
		dialTimeout: DefaultDialTimeout,
		provider:    DefaultProviderName,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = registry.NewMemoryStore()
	}
	s.base, s.cancel = context.WithCancel(context.Background())

	if s.cred == nil || s.cred.Validate() != nil {
		logger.Warn("upstream credential is not configured; sessions will be refused",
			"provider", s.provider)
	}
	return s
}

// Registry returns the live-session registry.
func (s *Service) Registry() registry.Store {
	return s.store
}

// ServeConn runs one relay session over an accepted client connection and
// returns when the session has ended and the connection is closed. After
// Shutdown has started the connection is closed with 1001 and
// ErrServiceClosed is returned.
func (s *Service) ServeConn(ctx context.Context, conn *transport.Conn, remoteAddr string) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.CloseWithStatus(websocket.CloseGoingAway, "")
		return ErrServiceClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	id := s.newID()
	ctx = logger.WithSessionID(ctx, id)
	ctx = logger.WithComponent(ctx, "relay")
	ctx = logger.WithRemoteAddr(ctx, remoteAddr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	if s.tracer != nil {
		ctx = s.tracer.StartSession(ctx, id, remoteAddr)
	}

	rs := newSession(s, id, conn, remoteAddr)
	rs.run(ctx)
	return nil
}

// Shutdown cancels every running session and waits for them to finish or for
// ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
