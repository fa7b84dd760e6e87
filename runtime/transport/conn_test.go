package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

// wsUpgrader is the test WebSocket upgrader.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// echoServer returns a test server that echoes WebSocket messages back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// wsURL converts an HTTP test server URL to a WebSocket URL.
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_WriteMessageRoundTrip(t *testing.T) {
	srv := echoServer(t)

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	chunk := protocol.Chunk{Mime: "image/jpeg", Data: []byte{1, 2, 3}, TS: 99}
	require.NoError(t, c.WriteMessage(protocol.NewChunk(chunk)))
	require.NoError(t, c.WriteMessage(protocol.Ready()))

	m, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, chunk, m.Chunk())

	m, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeReady, m.Type)
}

func TestConn_SendJSON(t *testing.T) {
	srv := echoServer(t)

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.SendJSON(map[string]string{"hello": "world"}))

	frameType, data, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, frameType)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestConn_ConnectWithRetry_Success(t *testing.T) {
	srv := echoServer(t)

	c := NewConn(&ConnConfig{URL: wsURL(srv), MaxRetries: 3})
	require.NoError(t, c.ConnectWithRetry(context.Background()))
	defer c.Close()
	assert.True(t, c.IsConnected())
}

func TestConn_ConnectWithRetry_Failure(t *testing.T) {
	c := NewConn(&ConnConfig{
		URL:              "ws://localhost:1", // Nothing listening
		MaxRetries:       2,
		RetryBackoffBase: 10 * time.Millisecond,
		RetryBackoffMax:  50 * time.Millisecond,
	})

	err := c.ConnectWithRetry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect after 2 attempts")

	var dialErr *DialError
	assert.ErrorAs(t, err, &dialErr)
}

func TestConn_ConnectWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewConn(&ConnConfig{URL: "ws://localhost:1", MaxRetries: 5})
	err := c.ConnectWithRetry(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_DialErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	err := c.Connect(context.Background())

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, http.StatusForbidden, dialErr.StatusCode)
	assert.Contains(t, dialErr.Error(), "status 403")
}

func TestConn_OperationsOnClosed(t *testing.T) {
	c := NewConn(&ConnConfig{URL: "ws://localhost:1"})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")

	assert.ErrorIs(t, c.Write(websocket.TextMessage, []byte("x")), ErrClosed)
	_, _, err := c.Read()
	assert.ErrorIs(t, err, ErrClosed)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestConn_CloseWithStatus(t *testing.T) {
	got := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, err = conn.ReadMessage()
		got <- CloseCode(err)
	}))
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.CloseWithStatus(websocket.ClosePolicyViolation, "bye"))

	select {
	case code := <-got:
		assert.Equal(t, websocket.ClosePolicyViolation, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestConn_Heartbeat(t *testing.T) {
	var pingReceived sync.WaitGroup
	pingReceived.Add(1)
	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error {
			once.Do(pingReceived.Done)
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	c.StartHeartbeat(ctx, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		pingReceived.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping")
	}
}

func TestConn_Reset(t *testing.T) {
	srv := echoServer(t)

	c := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	c.Reset()
	assert.False(t, c.IsClosed())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	assert.True(t, c.IsConnected())
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, websocket.CloseGoingAway, CloseCode(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.Equal(t, websocket.CloseAbnormalClosure, CloseCode(assert.AnError))
	assert.True(t, IsNormalClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.False(t, IsNormalClose(&websocket.CloseError{Code: websocket.CloseInternalServerErr}))
}

func TestConnConfig_Defaults(t *testing.T) {
	cfg := &ConnConfig{}
	cfg.defaults()

	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultWriteWait, cfg.WriteWait)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultCloseGracePeriod, cfg.CloseGracePeriod)
	assert.NotNil(t, cfg.Logger)
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 500 * time.Millisecond

	for i := 0; i < 100; i++ {
		d := calculateBackoff(base, maxDelay)
		assert.LessOrEqual(t, d, maxDelay)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}

	assert.LessOrEqual(t, calculateBackoff(10*time.Second, time.Second), time.Second)
}
