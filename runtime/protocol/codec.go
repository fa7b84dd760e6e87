package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types, equal to the RFC 6455 opcodes used by gorilla/websocket.
const (
	FrameText   = 1
	FrameBinary = 2
)

// DefaultRawMime is assumed for binary frames that carry no chunk header.
const DefaultRawMime = "audio/pcm;rate=16000"

// chunkMagic prefixes binary chunk frames.
var chunkMagic = []byte("LIC1")

const (
	maxMimeLength = 255
	tsLength      = 8
)

// Codec errors.
var (
	ErrMalformed    = errors.New("malformed protocol frame")
	ErrMimeTooLong  = errors.New("mime type longer than 255 bytes")
	ErrUnknownFrame = errors.New("unsupported frame type")
)

// now stamps raw binary frames; replaced in tests.
var now = time.Now

// EncodeText serializes a message as a JSON text frame.
func EncodeText(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: message has no type", ErrMalformed)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// EncodeChunkFrame serializes a chunk as a binary frame:
//
//	"LIC1" | uint8 mime length | mime | int64 big-endian ts (ms) | data
func EncodeChunkFrame(c Chunk) ([]byte, error) {
	if len(c.Mime) > maxMimeLength {
		return nil, ErrMimeTooLong
	}
	buf := make([]byte, 0, len(chunkMagic)+1+len(c.Mime)+tsLength+len(c.Data))
	buf = append(buf, chunkMagic...)
	buf = append(buf, byte(len(c.Mime)))
	buf = append(buf, c.Mime...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.TS)) //nolint:gosec // ms timestamps are positive
	buf = append(buf, c.Data...)
	return buf, nil
}

// Encode returns the frame type and payload for m: chunks as binary frames,
// everything else as JSON text.
func Encode(m Message) (int, []byte, error) {
	if m.Type == TypeChunk {
		data, err := EncodeChunkFrame(m.Chunk())
		return FrameBinary, data, err
	}
	data, err := EncodeText(m)
	return FrameText, data, err
}

// Decode parses a received frame. Text frames with an unrecognized type
// decode without error; callers check Known and ignore them.
func Decode(frameType int, data []byte) (Message, error) {
	switch frameType {
	case FrameText:
		return decodeText(data)
	case FrameBinary:
		return decodeBinary(data)
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownFrame, frameType)
	}
}

func decodeText(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

func decodeBinary(data []byte) (Message, error) {
	if !bytes.HasPrefix(data, chunkMagic) {
		// Raw media without a header.
		return NewChunk(Chunk{Mime: DefaultRawMime, Data: data, TS: now().UnixMilli()}), nil
	}

	rest := data[len(chunkMagic):]
	if len(rest) < 1 {
		return Message{}, fmt.Errorf("%w: truncated chunk header", ErrMalformed)
	}
	mimeLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < mimeLen+tsLength {
		return Message{}, fmt.Errorf("%w: truncated chunk header", ErrMalformed)
	}

	mime := string(rest[:mimeLen])
	ts := int64(binary.BigEndian.Uint64(rest[mimeLen : mimeLen+tsLength])) //nolint:gosec // round-trips EncodeChunkFrame
	payload := rest[mimeLen+tsLength:]

	return NewChunk(Chunk{Mime: mime, Data: payload, TS: ts}), nil
}
