package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
)

const (
	// DefaultLivePath is where clients open relay sessions.
	DefaultLivePath = "/live"

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultMaxMessageSize caps a single client frame (4 MB).
	defaultMaxMessageSize int64 = 4 << 20

	// defaultIdleTimeout applies to the plain HTTP endpoints.
	defaultIdleTimeout = 120 * time.Second
)

// Option configures a [Server].
type Option func(*Server)

// WithLivePath sets the WebSocket endpoint path. Default: /live.
func WithLivePath(path string) Option {
	return func(s *Server) { s.livePath = path }
}

// WithAllowedOrigins restricts browser origins allowed to connect. An empty
// list allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithMaxMessageSize caps the size of a single client frame.
func WithMaxMessageSize(n int64) Option {
	return func(s *Server) { s.maxMessageSize = n }
}

// WithReadHeaderTimeout sets the HTTP read header timeout. Default: 10s.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.readHeaderTimeout = d }
}

// Server exposes a [Service] over HTTP: the WebSocket relay endpoint, a
// health probe and the live-session list.
type Server struct {
	svc               *Service
	livePath          string
	allowedOrigins    []string
	maxMessageSize    int64
	readHeaderTimeout time.Duration
	upgrader          websocket.Upgrader

	httpSrv   *http.Server
	httpSrvMu sync.Mutex
}

// NewServer creates a relay HTTP server for svc.
func NewServer(svc *Service, opts ...Option) *Server {
	s := &Server{
		svc:               svc,
		livePath:          DefaultLivePath,
		maxMessageSize:    defaultMaxMessageSize,
		readHeaderTimeout: defaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the server's routes wrapped with OpenTelemetry HTTP
// instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.livePath, s.handleLive)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	return otelhttp.NewHandler(mux, "liveinspect-relay")
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve starts the HTTP server on the given listener. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.Serve(ln)
}

// Shutdown stops accepting connections, then ends every running session and
// waits for them until ctx expires. Hijacked WebSocket connections are not
// tracked by http.Server, so the service drains them.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	if srv != nil {
		firstErr = srv.Shutdown(ctx)
	}
	if err := s.svc.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := transport.Accept(ws, &transport.ConnConfig{MaxMessageSize: s.maxMessageSize})
	// The request context is canceled when the handler returns; keep its
	// values (trace span) but not its lifetime.
	if err := s.svc.ServeConn(context.WithoutCancel(r.Context()), conn, r.RemoteAddr); err != nil {
		logger.DebugContext(r.Context(), "connection refused", "error", err, "remote_addr", r.RemoteAddr)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.Registry().List(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "listing sessions failed", "error", err)
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":    len(recs),
		"sessions": recs,
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
