// Package capture defines the media capture adapter used by an inspection
// session and provides a synthetic source for headless clients and tests.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

// Mime tags produced by capture sources.
const (
	MimeAudioPCM16k = "audio/pcm;rate=16000"
	MimeJPEG        = "image/jpeg"
)

// ErrPermissionDenied is returned by Open when the user or platform refuses
// camera or microphone access.
var ErrPermissionDenied = errors.New("camera or microphone access denied")

// Constraints describe the media a session asks for.
type Constraints struct {
	Audio bool
	Video bool

	// AudioInterval is the duration of audio carried by one chunk.
	AudioInterval time.Duration
	// VideoInterval is the spacing between video frames.
	VideoInterval time.Duration
	// MaxChunkRate caps chunks per second across tracks; zero disables the cap.
	MaxChunkRate int
}

// DefaultConstraints requests both tracks at the usual cadence.
func DefaultConstraints() Constraints {
	return Constraints{
		Audio:         true,
		Video:         true,
		AudioInterval: 128 * time.Millisecond,
		VideoInterval: time.Second,
		MaxChunkRate:  20,
	}
}

// Adapter opens capture streams. Open may block while access is negotiated
// and must honor ctx.
type Adapter interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture. Chunks is closed after Close; Close releases
// every device handle and is idempotent.
type Stream interface {
	Chunks() <-chan protocol.Chunk
	Close() error
}

// StreamStats reports production counters of a stream.
type StreamStats struct {
	Produced uint64
	// Throttled counts chunks skipped by the rate cap.
	Throttled uint64
	// Dropped counts chunks discarded because the consumer fell behind.
	Dropped uint64
}
