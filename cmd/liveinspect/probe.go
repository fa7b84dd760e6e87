package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/LiveInspect/pkg/config"
	"github.com/AltairaLabs/LiveInspect/runtime/capture"
	"github.com/AltairaLabs/LiveInspect/runtime/session"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a synthetic client session against a relay",
	Long: `Run one client session with a synthetic camera and microphone against a
running relay. Every status change and every result is printed. The command
fails if the session ends in the error state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		duration, _ := cmd.Flags().GetDuration("duration")
		connectTimeout, _ := cmd.Flags().GetDuration("connect-timeout")

		clientCfg := config.Default().Client
		if connectTimeout > 0 {
			clientCfg.ConnectTimeout = connectTimeout
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runProbe(ctx, cmd.OutOrStdout(), url, duration, clientCfg)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("url", "ws://localhost:3000/live", "Relay WebSocket URL")
	probeCmd.Flags().Duration("duration", 10*time.Second, "How long to stream before stopping")
	probeCmd.Flags().Duration("connect-timeout", 0, "Override the client connect timeout")
}

// lockedWriter serializes output from the session's sinks and the probe loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runProbe(ctx context.Context, w io.Writer, url string, duration time.Duration, cfg config.ClientConfig) error {
	out := &lockedWriter{w: w}
	statuses := make(chan session.StatusEvent, 16)

	m := session.New(
		session.Config{
			Constraints: capture.Constraints{
				Audio:         true,
				Video:         true,
				AudioInterval: cfg.AudioInterval,
				VideoInterval: cfg.VideoInterval,
				MaxChunkRate:  cfg.MaxChunkRate,
			},
			ConnectTimeout: cfg.ConnectTimeout,
		},
		&capture.Synthetic{},
		&session.ChannelDialer{URL: url, Config: transport.ChannelConfig{
			OutboundBuffer: cfg.OutboundBuffer,
			PreReadyBuffer: cfg.PreReadyBuffer,
		}},
		session.WithStatusSink(func(e session.StatusEvent) {
			if e.Message != "" {
				out.printf("[%s] %s: %s\n", e.State, e.Label, e.Message)
			} else {
				out.printf("[%s] %s\n", e.State, e.Label)
			}
			select {
			case statuses <- e:
			default:
			}
		}),
		session.WithResultSink(func(_ string, payload json.RawMessage) {
			out.printf("result %s\n", payload)
		}),
	)
	defer m.Close()

	m.Start()
	out.printf("session %s\n", m.SessionID())

	timer := time.NewTimer(duration)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return stopProbe(m)
		case <-timer.C:
			return stopProbe(m)
		case e := <-statuses:
			if e.State == session.Error {
				return fmt.Errorf("session failed with %s", e.Code)
			}
		}
	}
}

func stopProbe(m *session.Machine) error {
	if st := m.Status(); st.State == session.Error {
		return fmt.Errorf("session failed with %s", st.Code)
	}
	m.Stop()
	return nil
}
