package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/LiveInspect/pkg/config"
	"github.com/AltairaLabs/LiveInspect/runtime/credentials"
	"github.com/AltairaLabs/LiveInspect/runtime/events"
	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/metrics/prometheus"
	"github.com/AltairaLabs/LiveInspect/runtime/registry"
	"github.com/AltairaLabs/LiveInspect/runtime/relay"
	"github.com/AltairaLabs/LiveInspect/runtime/telemetry"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream/gemini"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream/mock"
)

const (
	shutdownTimeout = 10 * time.Second

	// mockCredential stands in for an API key when the mock upstream is used.
	mockCredential = "mock-upstream-credential"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live inspection relay",
	Long: `Run the relay server. Clients connect over WebSocket, the relay opens one
Gemini Live session per client and forwards media and results in both
directions. The API key is read from GEMINI_API_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "Configuration file path (YAML)")
	serveCmd.Flags().String("env-file", "", "Dotenv file to load before reading the environment")
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("mock-upstream", false, "Use the in-process mock upstream instead of Gemini Live")
}

func runServe(cmd *cobra.Command) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	useMock, _ := cmd.Flags().GetBool("mock-upstream")

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	if cmd.Flags().Changed("verbose") {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger.SetVerbose(verbose)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, useMock)
	if err != nil {
		return err
	}
	defer app.close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return app.run(ctx, ln)
}

// app wires the relay with its registry, event listeners and exporters.
type app struct {
	cfg      *config.Config
	server   *relay.Server
	exporter *prometheus.Exporter
	bus      *events.EventBus
	closers  []func() error
	tracing  func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, useMock bool) (*app, error) {
	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}

	store, closeStore, err := registry.Open(ctx, cfg.Registry)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	bus := events.NewEventBus()
	bus.SubscribeAll(prometheus.NewMetricsListener().Listener())
	tracer := telemetry.NewSessionTracer(telemetry.Tracer(tp))
	bus.SubscribeAll(tracer.OnEvent)

	var (
		dialer   upstream.Dialer
		provider = relay.DefaultProviderName
		key      = cfg.APIKey
	)
	if useMock {
		dialer = &mock.Dialer{}
		provider = "mock"
		if key == "" {
			key = mockCredential
		}
	} else {
		dialer = gemini.NewDialer(gemini.Config{
			URL:               cfg.Upstream.URL,
			Model:             cfg.Upstream.Model,
			Voice:             cfg.Upstream.Voice,
			SystemInstruction: cfg.Upstream.SystemInstruction,
			Greeting:          cfg.Upstream.Greeting,
			DialTimeout:       cfg.Upstream.DialTimeout,
			SetupTimeout:      cfg.Upstream.SetupTimeout,
			MaxMessageSize:    cfg.Server.MaxMessageSize,
		})
	}

	svc := relay.NewService(dialer,
		relay.WithCredential(credentials.NewAPIKey(key)),
		relay.WithRegistry(store),
		relay.WithEventBus(bus),
		relay.WithSessionTracer(tracer),
		relay.WithDialTimeout(cfg.Upstream.DialTimeout+cfg.Upstream.SetupTimeout),
		relay.WithProviderName(provider),
	)
	server := relay.NewServer(svc,
		relay.WithLivePath(cfg.Server.LivePath),
		relay.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		relay.WithMaxMessageSize(cfg.Server.MaxMessageSize),
		relay.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
	)

	a := &app{
		cfg:     cfg,
		server:  server,
		bus:     bus,
		closers: []func() error{closeStore},
		tracing: shutdownTracing,
	}
	if cfg.Metrics.Addr != "" {
		a.exporter = prometheus.NewExporter(cfg.Metrics.Addr)
	}
	return a, nil
}

// run serves on ln until ctx is canceled, then shuts everything down.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	logger.Info("relay listening",
		"addr", ln.Addr().String(),
		"path", a.cfg.Server.LivePath,
		"registry", a.cfg.Registry.Backend,
	)
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.exporter != nil {
		logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
		g.Go(a.exporter.ListenAndServe)
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		logger.Info("shutting down relay")
		err := a.server.Shutdown(shutdownCtx)
		if a.exporter != nil {
			if mErr := a.exporter.Shutdown(shutdownCtx); mErr != nil && err == nil {
				err = mErr
			}
		}
		return err
	})
	return g.Wait()
}

func (a *app) close() {
	a.bus.Close()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tracing(ctx); err != nil {
		logger.Warn("trace provider shutdown failed", "error", err)
	}
}
