package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

func TestNext_Table(t *testing.T) {
	want := map[State]map[Event]State{
		Idle:                  {EventStart: RequestingPermissions},
		RequestingPermissions: {EventPermissionGranted: Connecting, EventPermissionDenied: Error, EventUserStop: Closed, EventChannelClosed: Error},
		Connecting:            {EventChannelOpen: Streaming, EventConnectTimeout: Error, EventUpstreamError: Error, EventUserStop: Closed, EventChannelClosed: Error},
		Streaming:             {EventUpstreamError: Error, EventUserStop: Closed, EventChannelClosed: Error},
		Error:                 {EventStart: RequestingPermissions},
		Closed:                {EventStart: RequestingPermissions},
	}

	// Every (state, event) pair is either an expected transition or rejected
	// without changing state.
	for _, s := range States {
		for _, e := range Events {
			next, ok := Next(s, e)
			if expected, accepted := want[s][e]; accepted {
				assert.True(t, ok, "%s --%s--> should be accepted", s, e)
				assert.Equal(t, expected, next, "%s --%s-->", s, e)
			} else {
				assert.False(t, ok, "%s --%s--> should be rejected", s, e)
				assert.Equal(t, s, next)
			}
		}
	}
}

func TestNext_ErrorAndClosedAreTerminalExceptStart(t *testing.T) {
	for _, s := range []State{Error, Closed} {
		for _, e := range Events {
			if e == EventStart {
				continue
			}
			_, ok := Next(s, e)
			assert.False(t, ok, "%s accepts %s", s, e)
		}
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Статус: Ожидание", Idle.Label())
	assert.Equal(t, "Статус: Подключение к ИИ...", Connecting.Label())
	assert.Equal(t, "Статус: ИИ слушает...", Streaming.Label())
	for _, s := range States {
		assert.NotEmpty(t, s.Label(), s)
		assert.NotEqual(t, "unknown", s.String())
	}
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "unknown", Event(99).String())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Не удалось получить доступ к камере или микрофону.", ErrorMessage(pkgerrors.CodePermissionDenied))
	for _, code := range pkgerrors.Codes {
		assert.NotEmpty(t, ErrorMessage(code))
	}
	assert.Equal(t, ErrorMessage(pkgerrors.CodeUpstreamRejected), ErrorMessage("Unexpected"))
}

func TestEventFor(t *testing.T) {
	assert.Equal(t, EventPermissionDenied, eventFor(pkgerrors.CodePermissionDenied))
	assert.Equal(t, EventConnectTimeout, eventFor(pkgerrors.CodeConnectTimeout))
	assert.Equal(t, EventChannelClosed, eventFor(pkgerrors.CodeConnectionLost))
	assert.Equal(t, EventUpstreamError, eventFor(pkgerrors.CodeNoCredential))
	assert.Equal(t, EventUpstreamError, eventFor(pkgerrors.CodeUpstreamRejected))
}
