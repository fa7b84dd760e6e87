// Package transport provides the WebSocket plumbing shared by the inspection
// client, the relay and the Gemini upstream: a Conn with retry, heartbeat and
// graceful shutdown, a drop-oldest Queue, and the client-side Channel.
package transport

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultMaxRetries       = 3
	DefaultRetryBackoffBase = 1 * time.Second
	DefaultRetryBackoffMax  = 30 * time.Second
	DefaultCloseGracePeriod = 5 * time.Second
)

// jitterFactor is the +-25% jitter applied to backoff delays.
const jitterFactor = 0.25

// jitterPrecision is the granularity for crypto/rand jitter generation.
const jitterPrecision = 1000

// jitterHalfPrecision normalizes jitter output to the range [-1, 1].
const jitterHalfPrecision = jitterPrecision / 2

// ErrClosed is returned by operations on a closed or unconnected Conn.
var ErrClosed = errors.New("websocket is not connected")

// ConnConfig configures the WebSocket connection behavior.
type ConnConfig struct {
	// URL is the WebSocket endpoint URL. Unused for accepted connections.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// MaxRetries is the number of connection attempts for ConnectWithRetry.
	// Defaults to DefaultMaxRetries.
	MaxRetries int

	// RetryBackoffBase is the initial backoff delay. Defaults to DefaultRetryBackoffBase.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff delay. Defaults to DefaultRetryBackoffMax.
	RetryBackoffMax time.Duration

	// CloseGracePeriod is the deadline for writing the close frame.
	// Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration

	// Logger defaults to logger.Default().
	Logger *slog.Logger
}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
}

// Conn manages a WebSocket connection with retry, heartbeat, and graceful
// shutdown. It carries both text and binary frames; protocol messages are
// framed by the protocol package.
//
// Any number of goroutines may write. Reads must come from a single goroutine.
type Conn struct {
	cfg ConnConfig

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	closed  bool
	closeCh chan struct{}
}

// NewConn creates a new Conn. Call Connect or ConnectWithRetry to establish the connection.
func NewConn(cfg *ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:     *cfg,
		closeCh: make(chan struct{}),
	}
}

// Accept wraps a server-side connection produced by a websocket.Upgrader.
func Accept(ws *websocket.Conn, cfg *ConnConfig) *Conn {
	c := NewConn(cfg)
	ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn = ws
	return c
}

// Connect establishes a WebSocket connection.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	c.cfg.Logger.Debug("connecting to WebSocket", "url", logger.RedactSensitiveData(c.cfg.URL))

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			c.cfg.Logger.Debug("WebSocket dial failed", "error", err, "status", resp.StatusCode)
			return &DialError{StatusCode: resp.StatusCode, Err: err}
		}
		return &DialError{Err: err}
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.cfg.Logger.Debug("WebSocket connected")

	return nil
}

// DialError reports a failed handshake. StatusCode is the HTTP status of the
// handshake response, zero when no response was received.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to connect (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to connect: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ConnectWithRetry attempts to connect with exponential backoff and jitter.
func (c *Conn) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	backoff := c.cfg.RetryBackoffBase

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		c.cfg.Logger.Warn("connection attempt failed",
			"attempt", attempt, "maxAttempts", c.cfg.MaxRetries, "error", logger.RedactSensitiveData(lastErr.Error()))

		if attempt < c.cfg.MaxRetries {
			delay := calculateBackoff(backoff, c.cfg.RetryBackoffMax)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > c.cfg.RetryBackoffMax {
				backoff = c.cfg.RetryBackoffMax
			}
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Conn) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, ErrClosed
	}
	return c.conn, nil
}

// Write sends one frame of the given type.
func (c *Conn) Write(frameType int, data []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := conn.WriteMessage(frameType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// SendJSON JSON-encodes v and writes it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Write(websocket.TextMessage, data)
}

// WriteMessage frames and writes a protocol message.
func (c *Conn) WriteMessage(m protocol.Message) error {
	frameType, data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.Write(frameType, data)
}

// Read blocks until a data frame arrives, the peer closes, or Close is
// called. Close frames surface as *websocket.CloseError.
func (c *Conn) Read() (int, []byte, error) {
	conn, err := c.current()
	if err != nil {
		return 0, nil, err
	}

	frameType, data, err := conn.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
		return 0, nil, fmt.Errorf("unexpected message type: %d", frameType)
	}
	return frameType, data, nil
}

// ReadMessage reads and decodes the next protocol message. Malformed frames
// return a protocol.ErrMalformed error and leave the connection usable.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	frameType, data, err := c.Read()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Decode(frameType, data)
}

// StartHeartbeat starts a goroutine that sends WebSocket ping frames at the given interval.
func (c *Conn) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go c.heartbeatLoop(ctx, interval)
}

func (c *Conn) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done():
			return
		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Conn) done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCh
}

func (c *Conn) sendPing() bool {
	conn, err := c.current()
	if err != nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.cfg.Logger.Warn("failed to set write deadline for ping", "error", err)
		return true // non-fatal
	}

	if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.cfg.Logger.Warn("ping failed", "error", err)
		return false
	}

	return true
}

// Close sends a normal-closure frame and closes the connection.
func (c *Conn) Close() error {
	return c.CloseWithStatus(websocket.CloseNormalClosure, "")
}

// CloseWithStatus sends a close frame with the given code and reason, then
// closes the connection. Calls after the first are no-ops.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.closeCh)

	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsConnected returns true if the connection has been established and has not been closed.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Reset closes the current connection and prepares for a new one.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.Close()
		c.writeMu.Unlock()
		c.conn = nil
	}

	c.closed = false
	c.closeCh = make(chan struct{})
}

// CloseCode extracts the close status from a Read error. Errors that carry no
// close frame report websocket.CloseAbnormalClosure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// IsNormalClose reports whether err is a close frame with a normal or
// going-away status.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// calculateBackoff computes a backoff duration with +-25% jitter, capped at maxDelay.
func calculateBackoff(base, maxDelay time.Duration) time.Duration {
	delay := float64(base)
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	jitter := delay * jitterFactor * (float64(n.Int64())/jitterHalfPrecision - 1)
	result := delay + jitter
	if result < 0 {
		result = float64(base)
	}
	if result > float64(maxDelay) {
		result = float64(maxDelay)
	}
	return time.Duration(math.Max(result, 0))
}
