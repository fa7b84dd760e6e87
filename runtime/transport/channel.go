package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

// Channel defaults.
const (
	DefaultOutboundBuffer = 64
	DefaultPreReadyBuffer = 8
	messageBuffer         = 32
)

// ChannelConfig configures a client Channel.
type ChannelConfig struct {
	// OutboundBuffer bounds chunks waiting to be written once ready.
	OutboundBuffer int
	// PreReadyBuffer bounds chunks held until the server reports ready.
	PreReadyBuffer int
	// HeartbeatInterval enables ping frames when positive.
	HeartbeatInterval time.Duration
	// Conn configures the underlying WebSocket. URL is set by Dial.
	Conn ConnConfig
}

func (c *ChannelConfig) defaults() {
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.PreReadyBuffer <= 0 {
		c.PreReadyBuffer = DefaultPreReadyBuffer
	}
}

// CloseInfo describes how a Channel ended. Normal is true when the close
// followed a sent end, a received error message, or a local Close; any other
// close is a lost connection.
type CloseInfo struct {
	Normal bool
	Code   int
	Err    error
}

// ChannelStats reports channel counters.
type ChannelStats struct {
	Sent            uint64
	Received        uint64
	DroppedOutbound uint64
	DroppedPreReady uint64
}

// Channel is the client end of the transport: chunks go out through a
// drop-oldest queue drained by one writer goroutine, and decoded server
// messages come back on Messages.
type Channel struct {
	cfg  ChannelConfig
	conn *Conn

	mu       sync.Mutex
	ready    bool
	out      *Queue[protocol.Message]
	preReady *Queue[protocol.Chunk]

	endSent     atomic.Bool
	terminalErr atomic.Bool
	localClose  atomic.Bool

	sent     atomic.Uint64
	received atomic.Uint64

	messages  chan protocol.Message
	closed    chan CloseInfo
	closeOnce sync.Once

	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	readerDone chan struct{}
}

// Dial connects to url and starts the channel's reader and writer.
func Dial(ctx context.Context, url string, cfg ChannelConfig) (*Channel, error) {
	cfg.defaults()
	connCfg := cfg.Conn
	connCfg.URL = url

	conn := NewConn(&connCfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return newChannel(conn, cfg), nil
}

func newChannel(conn *Conn, cfg ChannelConfig) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		cfg:        cfg,
		conn:       conn,
		out:        NewQueue[protocol.Message](cfg.OutboundBuffer),
		preReady:   NewQueue[protocol.Chunk](cfg.PreReadyBuffer),
		messages:   make(chan protocol.Message, messageBuffer),
		closed:     make(chan CloseInfo, 1),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go ch.writeLoop()
	go ch.readLoop()
	if cfg.HeartbeatInterval > 0 {
		conn.StartHeartbeat(ctx, cfg.HeartbeatInterval)
	}
	return ch
}

// Send queues a chunk. It never blocks: before ready the chunk is held in the
// pre-ready buffer, afterwards in the outbound queue, and either buffer drops
// its oldest chunk on overflow.
func (c *Channel) Send(chunk protocol.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		c.preReady.Push(chunk)
		return
	}
	c.out.Push(protocol.NewChunk(chunk))
}

// SendEnd queues the graceful shutdown request. A close that follows is
// classified as normal.
func (c *Channel) SendEnd() {
	c.endSent.Store(true)
	c.out.Push(protocol.End())
}

// Messages delivers decoded server messages in arrival order. It is closed
// when the channel ends.
func (c *Channel) Messages() <-chan protocol.Message {
	return c.messages
}

// Closed yields exactly one CloseInfo when the channel ends.
func (c *Channel) Closed() <-chan CloseInfo {
	return c.closed
}

// Ready reports whether the server has sent ready.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Sent:            c.sent.Load(),
		Received:        c.received.Load(),
		DroppedOutbound: c.out.Stats().Dropped,
		DroppedPreReady: c.preReady.Stats().Dropped,
	}
}

// Close flushes queued messages within the close grace period, closes the
// connection and waits for the reader to exit.
func (c *Channel) Close() error {
	c.localClose.Store(true)
	c.out.Close()

	select {
	case <-c.writerDone:
	case <-time.After(c.conn.cfg.CloseGracePeriod):
	}

	err := c.conn.Close()
	c.cancel()
	<-c.readerDone
	return err
}

func (c *Channel) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return
	}
	c.ready = true
	for _, chunk := range c.preReady.Drain() {
		c.out.Push(protocol.NewChunk(chunk))
	}
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for {
		m, ok := c.out.Pop(c.ctx)
		if !ok {
			return
		}
		if err := c.conn.WriteMessage(m); err != nil {
			if !errors.Is(err, ErrClosed) {
				logger.Debug("transport write failed", "error", err)
			}
			c.finish(CloseInfo{Normal: c.normalClose(), Code: websocket.CloseAbnormalClosure, Err: err})
			_ = c.conn.Close()
			return
		}
		c.sent.Add(1)
	}
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	defer close(c.messages)

	for {
		m, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				logger.Debug("ignoring malformed frame", "error", err)
				continue
			}
			c.finish(CloseInfo{Normal: c.normalClose(), Code: CloseCode(err), Err: err})
			c.out.Close()
			return
		}
		if !m.Known() {
			logger.Debug("ignoring unknown message", "type", m.Type)
			continue
		}
		c.received.Add(1)

		switch m.Type {
		case protocol.TypeReady:
			c.markReady()
		case protocol.TypeError:
			c.terminalErr.Store(true)
		}

		select {
		case c.messages <- m:
		case <-c.ctx.Done():
			c.finish(CloseInfo{Normal: true, Code: websocket.CloseNormalClosure})
			return
		}
	}
}

func (c *Channel) normalClose() bool {
	return c.endSent.Load() || c.terminalErr.Load() || c.localClose.Load()
}

func (c *Channel) finish(info CloseInfo) {
	c.closeOnce.Do(func() {
		c.closed <- info
		close(c.closed)
	})
}
