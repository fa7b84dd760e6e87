package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultReadHeaderTimeout = 10 * time.Second

// Exporter serves relay metrics on /metrics and a liveness probe on /health.
type Exporter struct {
	addr     string
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithRegistry replaces the default registry. Relay metrics are not
// registered automatically on a custom registry.
func WithRegistry(reg *prometheus.Registry) ExporterOption {
	return func(e *Exporter) {
		e.registry = reg
	}
}

// NewExporter creates an exporter for addr. By default it registers the relay
// metrics plus the Go runtime and process collectors.
func NewExporter(addr string, opts ...ExporterOption) *Exporter {
	e := &Exporter{addr: addr}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(allMetrics...)
		e.registry.MustRegister(collectors.NewGoCollector())
		e.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return e
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the exporter's routes for mounting on another server.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (e *Exporter) ListenAndServe() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Serve serves metrics on ln until Shutdown.
func (e *Exporter) Serve(ln net.Listener) error {
	e.mu.Lock()
	if e.server != nil {
		e.mu.Unlock()
		_ = ln.Close()
		return errors.New("metrics exporter already serving")
	}
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	srv := e.server
	e.mu.Unlock()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.server
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
