// Package session implements the client side of a live inspection: a state
// machine that opens media capture, connects the transport channel, forwards
// chunks while streaming and reports every transition as a StatusEvent.
package session

import (
	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// State is a session lifecycle state.
type State int

// Session states. Error and Closed are terminal for a session; Start from
// either begins a new one.
const (
	Idle State = iota
	RequestingPermissions
	Connecting
	Streaming
	Error
	Closed
)

// States lists every state in declaration order.
var States = []State{Idle, RequestingPermissions, Connecting, Streaming, Error, Closed}

var stateNames = map[State]string{
	Idle:                  "idle",
	RequestingPermissions: "requesting_permissions",
	Connecting:            "connecting",
	Streaming:             "streaming",
	Error:                 "error",
	Closed:                "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Status labels shown by the presentation layer. The texts are an external
// contract and must not change.
var labels = map[State]string{
	Idle:                  "Статус: Ожидание",
	RequestingPermissions: "Статус: Запрос доступа к камере...",
	Connecting:            "Статус: Подключение к ИИ...",
	Streaming:             "Статус: ИИ слушает...",
	Error:                 "Статус: Ошибка",
	Closed:                "Статус: Осмотр завершен",
}

// Label returns the fixed status text for s.
func (s State) Label() string {
	return labels[s]
}

var errorMessages = map[pkgerrors.Code]string{
	pkgerrors.CodePermissionDenied: "Не удалось получить доступ к камере или микрофону.",
	pkgerrors.CodeConnectTimeout:   "Сервер ИИ не ответил вовремя.",
	pkgerrors.CodeConnectionLost:   "Соединение с сервером потеряно.",
	pkgerrors.CodeNoCredential:     "Сервер не настроен: нет ключа доступа к ИИ.",
	pkgerrors.CodeUpstreamRejected: "Сервис ИИ отклонил подключение.",
}

// ErrorMessage returns the user-facing text for code. Unknown codes share the
// UpstreamRejected text.
func ErrorMessage(code pkgerrors.Code) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return errorMessages[pkgerrors.CodeUpstreamRejected]
}

// Event is an input to the transition table.
type Event int

// Transition events.
const (
	EventStart Event = iota
	EventPermissionGranted
	EventPermissionDenied
	EventChannelOpen
	EventConnectTimeout
	EventUpstreamError
	EventUserStop
	EventChannelClosed
)

// Events lists every event in declaration order.
var Events = []Event{
	EventStart, EventPermissionGranted, EventPermissionDenied, EventChannelOpen,
	EventConnectTimeout, EventUpstreamError, EventUserStop, EventChannelClosed,
}

var eventNames = map[Event]string{
	EventStart:             "start",
	EventPermissionGranted: "permission_granted",
	EventPermissionDenied:  "permission_denied",
	EventChannelOpen:       "channel_open",
	EventConnectTimeout:    "connect_timeout",
	EventUpstreamError:     "upstream_error",
	EventUserStop:          "user_stop",
	EventChannelClosed:     "channel_closed",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

var transitions = map[State]map[Event]State{
	Idle: {
		EventStart: RequestingPermissions,
	},
	RequestingPermissions: {
		EventPermissionGranted: Connecting,
		EventPermissionDenied:  Error,
		EventUserStop:          Closed,
		EventChannelClosed:     Error,
	},
	Connecting: {
		EventChannelOpen:    Streaming,
		EventConnectTimeout: Error,
		EventUpstreamError:  Error,
		EventUserStop:       Closed,
		EventChannelClosed:  Error,
	},
	Streaming: {
		EventUpstreamError: Error,
		EventUserStop:      Closed,
		EventChannelClosed: Error,
	},
	Error: {
		EventStart: RequestingPermissions,
	},
	Closed: {
		EventStart: RequestingPermissions,
	},
}

// Next returns the state reached from s on e. The boolean is false when e is
// not accepted in s, in which case s is returned unchanged.
func Next(s State, e Event) (State, bool) {
	next, ok := transitions[s][e]
	if !ok {
		return s, false
	}
	return next, true
}

// eventFor maps a failure code to the event that reports it.
func eventFor(code pkgerrors.Code) Event {
	switch code {
	case pkgerrors.CodePermissionDenied:
		return EventPermissionDenied
	case pkgerrors.CodeConnectTimeout:
		return EventConnectTimeout
	case pkgerrors.CodeConnectionLost:
		return EventChannelClosed
	default:
		return EventUpstreamError
	}
}
