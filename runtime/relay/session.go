package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
	"github.com/AltairaLabs/LiveInspect/runtime/events"
	"github.com/AltairaLabs/LiveInspect/runtime/logger"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
	"github.com/AltairaLabs/LiveInspect/runtime/registry"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
)

// Pump termination causes. Every pump ends with a non-nil error so the
// errgroup cancels its siblings.
var (
	errClientEnded = errors.New("client ended the session")
	errClientGone  = errors.New("client disconnected")
	errShutdown    = errors.New("relay shutting down")
)

// upstreamEnded carries the upstream termination status; err is nil for a
// clean end.
type upstreamEnded struct {
	err error
}

func (e *upstreamEnded) Error() string {
	if e.err == nil {
		return "upstream ended"
	}
	return "upstream ended: " + e.err.Error()
}

// session is one relay session. Only run's goroutine writes control messages
// to the client; the result pump writes results.
type session struct {
	svc        *Service
	id         string
	conn       *transport.Conn
	remoteAddr string
	em         *events.Emitter
	started    time.Time

	in         chan protocol.Message
	readerDone chan struct{}

	chunks  atomic.Int64
	results atomic.Int64
}

func newSession(svc *Service, id string, conn *transport.Conn, remoteAddr string) *session {
	return &session{
		svc:        svc,
		id:         id,
		conn:       conn,
		remoteAddr: remoteAddr,
		em:         events.NewEmitter(svc.bus, id),
		started:    time.Now(),
		in:         make(chan protocol.Message, defaultInboundBuffer),
		readerDone: make(chan struct{}),
	}
}

// outcome is how a session ended.
type outcome struct {
	kind   events.Outcome
	code   pkgerrors.Code
	reason string
}

func (s *session) run(ctx context.Context) {
	s.em.SessionOpened(s.remoteAddr)
	s.register(ctx)
	logger.InfoContext(ctx, "relay session opened")

	// The reader cancels sessionCtx when the client goes away, which aborts
	// an in-flight dial and stops the pumps.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.readClient(sessionCtx, cancel)

	out := s.serve(sessionCtx, ctx)

	s.closeClient(ctx, out)
	cancel()
	<-s.readerDone
	s.finish(ctx, out)
}

func (s *session) serve(sessionCtx, parent context.Context) outcome {
	if s.svc.cred == nil || s.svc.cred.Validate() != nil {
		logger.WarnContext(parent, "refusing session without upstream credential")
		return s.failure(pkgerrors.CodeNoCredential, "credential not configured")
	}

	if s.svc.heartbeat > 0 {
		s.conn.StartHeartbeat(sessionCtx, s.svc.heartbeat)
	}

	up, err := s.dial(sessionCtx)
	if err != nil {
		if gone := interrupted(sessionCtx, parent); gone != nil {
			return *gone
		}
		logger.UpstreamError(parent, s.svc.provider, err, "stage", "dial")
		return s.failure(pkgerrors.CodeUpstreamRejected, string(upstream.ReasonOf(err)))
	}

	if err := s.conn.WriteMessage(protocol.Ready()); err != nil {
		_ = up.Close()
		return outcome{kind: events.OutcomeDisconnected, reason: errClientGone.Error()}
	}
	s.em.SessionReady(time.Since(s.started))
	s.update(parent, registry.StateStreaming, pkgerrors.CodeNone)

	return s.stream(sessionCtx, parent, up)
}

func (s *session) dial(ctx context.Context) (upstream.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.svc.dialTimeout)
	defer cancel()
	return s.svc.dialer.Dial(dialCtx, s.svc.cred)
}

// stream runs both pumps until one side ends.
func (s *session) stream(sessionCtx, parent context.Context, up upstream.Session) outcome {
	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error { return s.forwardChunks(gctx, up) })
	g.Go(func() error { return s.forwardResults(up) })

	// Closing upstream unblocks the result pump once any pump has finished.
	g.Go(func() error {
		<-gctx.Done()
		_ = up.Close()
		return nil
	})

	err := g.Wait()
	_ = up.Close()

	if errors.Is(err, errClientEnded) {
		logger.InfoContext(parent, "client ended session")
		return outcome{kind: events.OutcomeCompleted}
	}
	if gone := interrupted(sessionCtx, parent); gone != nil {
		return *gone
	}

	var ended *upstreamEnded
	switch {
	case errors.As(err, &ended) && ended.err == nil:
		logger.InfoContext(parent, "upstream ended session")
		return outcome{kind: events.OutcomeCompleted}
	case errors.As(err, &ended):
		logger.UpstreamError(parent, s.svc.provider, ended.err, "stage", "stream")
		return s.failure(pkgerrors.CodeUpstreamRejected, string(upstream.ReasonOf(ended.err)))
	default:
		return outcome{kind: events.OutcomeDisconnected, reason: errClientGone.Error()}
	}
}

// interrupted reports an outcome when the session ended because the client
// left or the service is shutting down, rather than because of the upstream.
// Only the client reader cancels sessionCtx on its own.
func interrupted(sessionCtx, parent context.Context) *outcome {
	switch {
	case parent.Err() != nil:
		return &outcome{kind: events.OutcomeDisconnected, reason: errShutdown.Error()}
	case sessionCtx.Err() != nil:
		return &outcome{kind: events.OutcomeDisconnected, reason: errClientGone.Error()}
	default:
		return nil
	}
}

// forwardChunks sends client chunks upstream in arrival order. After a send
// failure it keeps draining so the result pump can report how upstream ended.
func (s *session) forwardChunks(ctx context.Context, up upstream.Session) error {
	sendFailed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.in:
			if !ok {
				return errClientGone
			}
			switch msg.Type {
			case protocol.TypeEnd:
				return errClientEnded
			case protocol.TypeChunk:
				chunk := msg.Chunk()
				if sendFailed {
					s.em.ChunkDropped(chunk.Mime, "upstream unavailable")
					continue
				}
				if err := up.Send(ctx, chunk); err != nil {
					sendFailed = true
					s.em.ChunkDropped(chunk.Mime, "upstream send failed")
					logger.DebugContext(ctx, "upstream send failed", "error", logger.RedactSensitiveData(err.Error()))
					continue
				}
				s.chunks.Add(1)
				s.em.ChunkForwarded(chunk.Mime, len(chunk.Data))
			}
		}
	}
}

// forwardResults relays every upstream result to the client in order.
func (s *session) forwardResults(up upstream.Session) error {
	for payload := range up.Results() {
		if err := s.conn.WriteMessage(protocol.Result(payload)); err != nil {
			return errClientGone
		}
		s.results.Add(1)
		s.em.SessionResult(len(payload))
	}
	return &upstreamEnded{err: up.Err()}
}

// readClient decodes client frames into s.in. Malformed frames are skipped,
// unknown message types are ignored.
func (s *session) readClient(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.readerDone)
	defer close(s.in)

	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				logger.DebugContext(ctx, "skipping malformed client frame", "error", err)
				continue
			}
			if !transport.IsNormalClose(err) {
				logger.DebugContext(ctx, "client read ended", "close_code", transport.CloseCode(err))
			}
			cancel()
			return
		}
		if msg.Type != protocol.TypeChunk && msg.Type != protocol.TypeEnd {
			continue
		}
		select {
		case s.in <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) failure(code pkgerrors.Code, reason string) outcome {
	return outcome{kind: events.OutcomeFailed, code: code, reason: reason}
}

// closeClient sends the terminal error, if any, and closes the connection.
func (s *session) closeClient(ctx context.Context, out outcome) {
	if out.code != pkgerrors.CodeNone {
		s.em.SessionFailed(out.code, out.reason)
		if err := s.conn.WriteMessage(protocol.Error(out.code, "")); err != nil {
			logger.DebugContext(ctx, "failed to send error to client", "error", err)
		}
	}

	status := websocket.CloseNormalClosure
	if out.reason == errShutdown.Error() {
		status = websocket.CloseGoingAway
	}
	_ = s.conn.CloseWithStatus(status, "")
}

func (s *session) finish(ctx context.Context, out outcome) {
	bg := context.WithoutCancel(ctx)
	s.update(bg, registry.StateClosing, out.code)
	if err := s.svc.store.Deregister(bg, s.id); err != nil {
		logger.WarnContext(ctx, "registry deregister failed", "error", err)
	}

	duration := time.Since(s.started)
	closed := &events.SessionClosedData{
		Outcome:         out.kind,
		Code:            out.code,
		Duration:        duration,
		ChunksForwarded: int(s.chunks.Load()),
		Results:         int(s.results.Load()),
	}
	if !s.em.SessionClosed(closed) && s.svc.tracer != nil {
		s.svc.tracer.EndSession(s.id, closed)
	}
	logger.InfoContext(ctx, "relay session closed",
		"outcome", out.kind,
		"code", out.code,
		"duration", duration,
		"chunks", s.chunks.Load(),
		"results", s.results.Load(),
	)
}

func (s *session) register(ctx context.Context) {
	rec := &registry.Record{
		ID:         s.id,
		State:      registry.StateConnecting,
		RemoteAddr: s.remoteAddr,
		CreatedAt:  s.started,
	}
	if err := s.svc.store.Register(ctx, rec); err != nil {
		logger.WarnContext(ctx, "registry register failed", "error", err)
	}
}

func (s *session) update(ctx context.Context, state registry.State, code pkgerrors.Code) {
	if err := s.svc.store.Update(ctx, s.id, state, code); err != nil {
		logger.WarnContext(ctx, "registry update failed", "state", state, "error", err)
	}
}
