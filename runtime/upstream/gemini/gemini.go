// Package gemini implements the upstream Dialer for the Gemini Live
// BidiGenerateContent WebSocket API.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/LiveInspect/runtime/credentials"
	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
	"github.com/AltairaLabs/LiveInspect/runtime/telemetry"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
)

// Defaults.
const (
	DefaultURL               = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	DefaultModel             = "models/gemini-2.0-flash-exp"
	DefaultVoice             = "Kore"
	DefaultDialTimeout       = 15 * time.Second
	DefaultSetupTimeout      = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	resultBuffer             = 32
)

// Config configures the Gemini Live dialer.
type Config struct {
	URL               string
	Model             string
	Voice             string
	SystemInstruction string

	// Greeting is sent as a user turn once setup completes; empty skips it.
	Greeting string

	DialTimeout       time.Duration
	SetupTimeout      time.Duration
	HeartbeatInterval time.Duration

	// MaxRetries bounds handshake attempts. Defaults to one attempt.
	MaxRetries int

	MaxMessageSize int64
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.SetupTimeout == 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
}

// Dialer opens Gemini Live sessions.
type Dialer struct {
	cfg Config
}

// NewDialer creates a Dialer.
func NewDialer(cfg Config) *Dialer {
	cfg.defaults()
	return &Dialer{cfg: cfg}
}

// Dial connects, sends the setup message, waits for setupComplete and sends
// the greeting. Failures are returned as *upstream.Rejected.
func (d *Dialer) Dial(ctx context.Context, cred credentials.Credential) (upstream.Session, error) {
	if cred == nil {
		return nil, &upstream.Rejected{Reason: upstream.ReasonAuth, Cause: credentials.ErrMissing}
	}
	if err := cred.Validate(); err != nil {
		return nil, &upstream.Rejected{Reason: upstream.ReasonAuth, Cause: err}
	}

	headers := http.Header{}
	cred.Apply(headers)
	telemetry.InjectHeaders(ctx, headers)

	conn := transport.NewConn(&transport.ConnConfig{
		URL:            d.cfg.URL,
		Headers:        headers,
		DialTimeout:    d.cfg.DialTimeout,
		MaxRetries:     d.cfg.MaxRetries,
		MaxMessageSize: d.cfg.MaxMessageSize,
	})
	if err := conn.ConnectWithRetry(ctx); err != nil {
		return nil, dialRejection(err)
	}

	if err := conn.SendJSON(d.setupMessage()); err != nil {
		_ = conn.Close()
		return nil, upstream.Reject(0, "failed to send setup", err)
	}
	if err := awaitSetup(ctx, conn, d.cfg.SetupTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if d.cfg.Greeting != "" {
		greeting := clientContentMessage{ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []textPart{{Text: d.cfg.Greeting}}}},
			TurnComplete: true,
		}}
		if err := conn.SendJSON(greeting); err != nil {
			_ = conn.Close()
			return nil, upstream.Reject(0, "failed to send greeting", err)
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:    conn,
		cancel:  cancel,
		results: make(chan json.RawMessage, resultBuffer),
		done:    make(chan struct{}),
	}
	conn.StartHeartbeat(sessCtx, d.cfg.HeartbeatInterval)
	go s.receiveLoop(sessCtx)

	return s, nil
}

func (d *Dialer) setupMessage() setupMessage {
	msg := setupMessage{Setup: setup{
		Model: d.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			}},
		},
		Tools: []tool{{FunctionDeclarations: []functionDeclaration{{
			Name:        ReportFunction,
			Description: "Submits the final inspection report.",
			Parameters:  json.RawMessage(reportParameters),
		}}}},
	}}
	if d.cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []textPart{{Text: d.cfg.SystemInstruction}}}
	}
	return msg
}

func dialRejection(err error) *upstream.Rejected {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &upstream.Rejected{Reason: upstream.ReasonUnavailable, Cause: err}
	}
	var dialErr *transport.DialError
	if errors.As(err, &dialErr) && dialErr.StatusCode != 0 {
		return upstream.Reject(dialErr.StatusCode, http.StatusText(dialErr.StatusCode), err)
	}
	return &upstream.Rejected{Reason: upstream.ReasonUnavailable, Cause: err}
}

// closeRejection classifies a read error that ended a session or setup.
func closeRejection(err error) *upstream.Rejected {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return upstream.Reject(ce.Code, ce.Text, err)
	}
	return &upstream.Rejected{Reason: upstream.ReasonUnavailable, StatusCode: transport.CloseCode(err), Cause: err}
}

// awaitSetup reads until setupComplete arrives or timeout elapses. Closing
// the connection unblocks the pending read.
func awaitSetup(ctx context.Context, conn *transport.Conn, timeout time.Duration) error {
	type readResult struct {
		err error
	}
	ch := make(chan readResult, 1)

	go func() {
		for {
			_, data, err := conn.Read()
			if err != nil {
				ch <- readResult{err: closeRejection(err)}
				return
			}
			var msg ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				ch <- readResult{err: upstream.Reject(0, "malformed setup response", err)}
				return
			}
			if msg.SetupComplete != nil {
				ch <- readResult{}
				return
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.err
	case <-timer.C:
		_ = conn.Close()
		return &upstream.Rejected{Reason: upstream.ReasonUnavailable, Detail: "setupComplete not received", Cause: context.DeadlineExceeded}
	case <-ctx.Done():
		_ = conn.Close()
		return &upstream.Rejected{Reason: upstream.ReasonUnavailable, Cause: ctx.Err()}
	}
}

type session struct {
	conn    *transport.Conn
	cancel  context.CancelFunc
	results chan json.RawMessage
	done    chan struct{}

	mu      sync.Mutex
	closing bool
	err     error
}

// Send forwards one chunk as realtime input.
func (s *session) Send(_ context.Context, chunk protocol.Chunk) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return upstream.ErrSessionClosed
	}

	msg := realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []mediaChunk{{
		MimeType: chunk.Mime,
		Data:     base64.StdEncoding.EncodeToString(chunk.Data),
	}}}}
	if err := s.conn.SendJSON(msg); err != nil {
		return fmt.Errorf("failed to send chunk: %w", err)
	}
	return nil
}

func (s *session) Results() <-chan json.RawMessage {
	return s.results
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a normal close frame and waits for the receive loop to exit.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	err := s.conn.Close()
	s.cancel()
	<-s.done
	return err
}

func (s *session) receiveLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.results)

	for {
		_, data, err := s.conn.Read()
		if err != nil {
			s.finish(err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed upstream message", "error", err)
			continue
		}

		if msg.ToolCall != nil {
			s.acknowledgeToolCall(msg.ToolCall)
		}

		for _, r := range resultsFrom(&msg) {
			payload, err := json.Marshal(r)
			if err != nil {
				continue
			}
			select {
			case s.results <- payload:
			case <-ctx.Done():
				s.finish(nil)
				return
			}
		}
	}
}

// acknowledgeToolCall answers report calls so the model can close its turn.
func (s *session) acknowledgeToolCall(tc *ToolCall) {
	var responses []functionResponse
	for _, fc := range tc.FunctionCalls {
		if fc.Name != ReportFunction {
			continue
		}
		responses = append(responses, functionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": "received"},
		})
	}
	if len(responses) == 0 {
		return
	}
	if err := s.conn.SendJSON(toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: responses}}); err != nil {
		logger.Debug("failed to acknowledge tool call", "error", err)
	}
}

// finish records how the session ended: a local close or a normal close
// frame is clean, anything else is a rejection.
func (s *session) finish(readErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || readErr == nil {
		return
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		return
	}
	s.err = closeRejection(readErr)
}
