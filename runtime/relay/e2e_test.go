package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
	"github.com/AltairaLabs/LiveInspect/runtime/capture"
	clientsession "github.com/AltairaLabs/LiveInspect/runtime/session"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream"
	"github.com/AltairaLabs/LiveInspect/runtime/upstream/mock"
)

type statusLog struct {
	mu     sync.Mutex
	events []clientsession.StatusEvent
}

func (l *statusLog) sink(e clientsession.StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *statusLog) states() []clientsession.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]clientsession.State, len(l.events))
	for i, e := range l.events {
		out[i] = e.State
	}
	return out
}

func (l *statusLog) last() clientsession.StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return clientsession.StatusEvent{}
	}
	return l.events[len(l.events)-1]
}

func fastConstraints() capture.Constraints {
	c := capture.DefaultConstraints()
	c.AudioInterval = 20 * time.Millisecond
	c.VideoInterval = 50 * time.Millisecond
	c.MaxChunkRate = 100
	return c
}

func newMachine(h *harness, adapter capture.Adapter, log *statusLog, results *atomicCount) *clientsession.Machine {
	return clientsession.New(
		clientsession.Config{Constraints: fastConstraints(), ConnectTimeout: 2 * time.Second},
		adapter,
		&clientsession.ChannelDialer{URL: h.url},
		clientsession.WithStatusSink(log.sink),
		clientsession.WithResultSink(func(string, json.RawMessage) { results.inc() }),
	)
}

type atomicCount struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCount) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCount) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestEndToEnd_StreamingAndStop(t *testing.T) {
	dialer := &mock.Dialer{}
	h := newHarness(t, dialer, withKey())
	adapter := &capture.Synthetic{}
	log := &statusLog{}
	results := &atomicCount{}

	m := newMachine(h, adapter, log, results)
	t.Cleanup(m.Close)

	m.Start()
	require.Eventually(t, func() bool { return m.State() == clientsession.Streaming }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return results.get() >= 5 }, waitFor, 10*time.Millisecond)

	m.Stop()
	assert.Equal(t, clientsession.Closed, m.State())
	assert.Equal(t, []clientsession.State{
		clientsession.RequestingPermissions,
		clientsession.Connecting,
		clientsession.Streaming,
		clientsession.Closed,
	}, log.states())

	require.Eventually(t, func() bool { return adapter.OpenStreams() == 0 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		sessions := dialer.Sessions()
		if len(sessions) != 1 {
			return false
		}
		ended, _ := sessions[0].Ended()
		return ended
	}, waitFor, 10*time.Millisecond)

	// Chunks reached the upstream in capture order per track.
	var lastAudio, lastVideo int64
	for _, ch := range dialer.Sessions()[0].Chunks() {
		switch ch.Mime {
		case capture.MimeAudioPCM16k:
			assert.GreaterOrEqual(t, ch.TS, lastAudio)
			lastAudio = ch.TS
		case capture.MimeJPEG:
			assert.GreaterOrEqual(t, ch.TS, lastVideo)
			lastVideo = ch.TS
		}
	}
}

func TestEndToEnd_NoCredential(t *testing.T) {
	dialer := &mock.Dialer{}
	h := newHarness(t, dialer)
	log := &statusLog{}

	m := newMachine(h, &capture.Synthetic{}, log, &atomicCount{})
	t.Cleanup(m.Close)

	m.Start()
	require.Eventually(t, func() bool { return m.State() == clientsession.Error }, waitFor, 10*time.Millisecond)

	last := log.last()
	assert.Equal(t, pkgerrors.CodeNoCredential, last.Code)
	assert.Equal(t, clientsession.ErrorMessage(pkgerrors.CodeNoCredential), last.Message)
	assert.Zero(t, dialer.Dials())
}

func TestEndToEnd_UpstreamRejected(t *testing.T) {
	dialer := &mock.Dialer{Reject: upstream.Reject(401, "bad key", nil)}
	h := newHarness(t, dialer, withKey())
	log := &statusLog{}

	m := newMachine(h, &capture.Synthetic{}, log, &atomicCount{})
	t.Cleanup(m.Close)

	m.Start()
	require.Eventually(t, func() bool { return m.State() == clientsession.Error }, waitFor, 10*time.Millisecond)
	assert.Equal(t, pkgerrors.CodeUpstreamRejected, log.last().Code)
}

func TestEndToEnd_UpstreamFailureMidStream(t *testing.T) {
	dialer := &mock.Dialer{NoEcho: true}
	h := newHarness(t, dialer, withKey())
	log := &statusLog{}

	m := newMachine(h, &capture.Synthetic{}, log, &atomicCount{})
	t.Cleanup(m.Close)

	m.Start()
	require.Eventually(t, func() bool { return m.State() == clientsession.Streaming }, waitFor, 10*time.Millisecond)

	sessions := dialer.Sessions()
	require.Len(t, sessions, 1)
	sessions[0].Terminate(upstream.Reject(1011, "backend crashed", nil))

	require.Eventually(t, func() bool { return m.State() == clientsession.Error }, waitFor, 10*time.Millisecond)
	assert.Equal(t, pkgerrors.CodeUpstreamRejected, log.last().Code)

	// A restart after an error gets a fresh session id.
	first := log.last().SessionID
	m.Start()
	require.Eventually(t, func() bool { return m.State() == clientsession.Streaming }, waitFor, 10*time.Millisecond)
	assert.NotEqual(t, first, m.SessionID())
}
