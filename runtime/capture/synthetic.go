package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

const (
	toneFrequency = 440.0
	chunkBuffer   = 16
)

// placeholderFrame is a minimal JPEG byte sequence (SOI, APP0, EOI) standing in
// for a camera frame.
var placeholderFrame = []byte{
	0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
	0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xff, 0xd9,
}

// Synthetic is an Adapter that produces a test tone and placeholder frames.
// It tracks open streams so callers can verify device handles are released.
type Synthetic struct {
	// Deny makes Open fail with ErrPermissionDenied, as a refused prompt would.
	Deny bool
	// OpenDelay simulates the time a permission prompt stays open.
	OpenDelay time.Duration
	// Frame overrides the placeholder video frame.
	Frame []byte

	open atomic.Int64
}

// Open starts producing chunks for the requested tracks.
func (s *Synthetic) Open(ctx context.Context, c Constraints) (Stream, error) {
	if s.OpenDelay > 0 {
		select {
		case <-time.After(s.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Deny {
		return nil, ErrPermissionDenied
	}

	frame := s.Frame
	if frame == nil {
		frame = placeholderFrame
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &syntheticStream{
		chunks:  make(chan protocol.Chunk, chunkBuffer),
		cancel:  cancel,
		release: func() { s.open.Add(-1) },
	}
	if c.MaxChunkRate > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(c.MaxChunkRate), c.MaxChunkRate)
	}
	s.open.Add(1)

	if c.Audio && c.AudioInterval > 0 {
		st.wg.Add(1)
		go st.produceAudio(streamCtx, c.AudioInterval)
	}
	if c.Video && c.VideoInterval > 0 {
		st.wg.Add(1)
		go st.produceVideo(streamCtx, c.VideoInterval, frame)
	}
	go func() {
		st.wg.Wait()
		close(st.chunks)
	}()

	return st, nil
}

// OpenStreams returns the number of streams not yet closed.
func (s *Synthetic) OpenStreams() int {
	return int(s.open.Load())
}

type syntheticStream struct {
	chunks  chan protocol.Chunk
	limiter *rate.Limiter
	cancel  context.CancelFunc
	release func()
	wg      sync.WaitGroup
	once    sync.Once

	produced  atomic.Uint64
	throttled atomic.Uint64
	dropped   atomic.Uint64
}

func (st *syntheticStream) Chunks() <-chan protocol.Chunk {
	return st.chunks
}

func (st *syntheticStream) Close() error {
	st.once.Do(func() {
		st.cancel()
		st.release()
	})
	return nil
}

// Stats returns the stream's production counters.
func (st *syntheticStream) Stats() StreamStats {
	return StreamStats{
		Produced:  st.produced.Load(),
		Throttled: st.throttled.Load(),
		Dropped:   st.dropped.Load(),
	}
}

func (st *syntheticStream) produceAudio(ctx context.Context, interval time.Duration) {
	defer st.wg.Done()
	samples := int(interval.Seconds() * SampleRate16kHz)
	phase := 0

	st.tick(ctx, interval, func(now time.Time) protocol.Chunk {
		data := Tone(toneFrequency, SampleRate16kHz, samples, phase)
		phase += samples
		return protocol.Chunk{Mime: MimeAudioPCM16k, Data: data, TS: now.UnixMilli()}
	})
}

func (st *syntheticStream) produceVideo(ctx context.Context, interval time.Duration, frame []byte) {
	defer st.wg.Done()
	st.tick(ctx, interval, func(now time.Time) protocol.Chunk {
		data := make([]byte, len(frame))
		copy(data, frame)
		return protocol.Chunk{Mime: MimeJPEG, Data: data, TS: now.UnixMilli()}
	})
}

func (st *syntheticStream) tick(ctx context.Context, interval time.Duration, next func(time.Time) protocol.Chunk) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if st.limiter != nil && !st.limiter.Allow() {
				st.throttled.Add(1)
				continue
			}
			st.emit(ctx, next(now))
		}
	}
}

// emit never blocks the producer; a chunk the consumer has no room for is
// dropped.
func (st *syntheticStream) emit(ctx context.Context, c protocol.Chunk) {
	if ctx.Err() != nil {
		return
	}
	select {
	case st.chunks <- c:
		st.produced.Add(1)
	default:
		st.dropped.Add(1)
	}
}
