// Package protocol defines the messages exchanged between an inspection
// client and the relay over the transport channel, and their wire framing.
//
// Control, result and error messages travel as JSON text frames. Media chunks
// travel as binary frames with a small header (see EncodeChunkFrame); a JSON
// text form of a chunk is also accepted for clients that cannot send binary.
package protocol

import (
	"encoding/json"

	"github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// Type tags a Message.
type Type string

// Message types.
const (
	TypeChunk  Type = "chunk"
	TypeResult Type = "result"
	TypeError  Type = "error"
	TypeReady  Type = "ready"
	TypeEnd    Type = "end"
)

// Known reports whether t is one of the protocol's message types.
func (t Type) Known() bool {
	switch t {
	case TypeChunk, TypeResult, TypeError, TypeReady, TypeEnd:
		return true
	default:
		return false
	}
}

// Chunk is one unit of captured media.
type Chunk struct {
	// Mime is the encoding tag, e.g. "audio/pcm;rate=16000" or "image/jpeg".
	Mime string `json:"mime"`
	// Data is the raw payload.
	Data []byte `json:"data"`
	// TS is the capture time in unix milliseconds.
	TS int64 `json:"ts"`
}

// Message is the unit exchanged over the transport channel. Exactly one Type
// is set; the remaining fields are meaningful only for that type.
type Message struct {
	Type Type `json:"type"`

	// chunk
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"data,omitempty"`
	TS   int64  `json:"ts,omitempty"`

	// result
	Payload json.RawMessage `json:"payload,omitempty"`

	// error
	Code    errors.Code `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Known reports whether the message has a recognized type. Receivers ignore
// messages that are not known.
func (m *Message) Known() bool {
	return m.Type.Known()
}

// Chunk returns the media chunk carried by a chunk message.
func (m *Message) Chunk() Chunk {
	return Chunk{Mime: m.Mime, Data: m.Data, TS: m.TS}
}

// NewChunk wraps c in a chunk message.
func NewChunk(c Chunk) Message {
	return Message{Type: TypeChunk, Mime: c.Mime, Data: c.Data, TS: c.TS}
}

// Ready tells the client the upstream session is established.
func Ready() Message {
	return Message{Type: TypeReady}
}

// End is the client's graceful shutdown request.
func End() Message {
	return Message{Type: TypeEnd}
}

// Result wraps an opaque result payload.
func Result(payload json.RawMessage) Message {
	return Message{Type: TypeResult, Payload: payload}
}

// Error builds an error message. An empty message is replaced by the generic
// text for code.
func Error(code errors.Code, message string) Message {
	if message == "" {
		message = GenericErrorText(code)
	}
	return Message{Type: TypeError, Code: code, Message: message}
}

var genericErrorText = map[errors.Code]string{
	errors.CodeNoCredential:     "AI service credential is not configured on the server",
	errors.CodeUpstreamRejected: "AI service rejected the session",
	errors.CodeConnectionLost:   "connection to the AI service was lost",
	errors.CodeConnectTimeout:   "AI service did not respond in time",
	errors.CodePermissionDenied: "camera or microphone access was denied",
}

// GenericErrorText is the client-safe description of code. It never contains
// upstream diagnostics.
func GenericErrorText(code errors.Code) string {
	if text, ok := genericErrorText[code]; ok {
		return text
	}
	return "session failed"
}
