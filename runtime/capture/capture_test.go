package capture

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConstraints() Constraints {
	return Constraints{
		Audio:         true,
		Video:         true,
		AudioInterval: 5 * time.Millisecond,
		VideoInterval: 10 * time.Millisecond,
	}
}

func TestSynthetic_ProducesBothTracks(t *testing.T) {
	src := &Synthetic{}
	st, err := src.Open(context.Background(), fastConstraints())
	require.NoError(t, err)
	defer st.Close()

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[MimeAudioPCM16k] || !seen[MimeJPEG] {
		select {
		case c := <-st.Chunks():
			seen[c.Mime] = true
			assert.NotEmpty(t, c.Data)
			assert.NotZero(t, c.TS)
		case <-deadline:
			t.Fatalf("missing tracks: %v", seen)
		}
	}
}

func TestSynthetic_AudioChunkSize(t *testing.T) {
	src := &Synthetic{}
	st, err := src.Open(context.Background(), Constraints{Audio: true, AudioInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer st.Close()

	c := <-st.Chunks()
	assert.Equal(t, MimeAudioPCM16k, c.Mime)
	// 10ms at 16kHz is 160 samples of 2 bytes.
	assert.Len(t, c.Data, 320)
}

func TestSynthetic_Deny(t *testing.T) {
	src := &Synthetic{Deny: true}
	_, err := src.Open(context.Background(), fastConstraints())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, src.OpenStreams())
}

func TestSynthetic_OpenHonorsContext(t *testing.T) {
	src := &Synthetic{OpenDelay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Open(ctx, fastConstraints())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthetic_CloseReleasesHandles(t *testing.T) {
	src := &Synthetic{}
	st, err := src.Open(context.Background(), fastConstraints())
	require.NoError(t, err)
	assert.Equal(t, 1, src.OpenStreams())

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.Equal(t, 0, src.OpenStreams())

	// Chunks is closed once producers exit.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-st.Chunks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chunks channel not closed")
		}
	}
}

func TestSynthetic_RateCap(t *testing.T) {
	src := &Synthetic{}
	st, err := src.Open(context.Background(), Constraints{
		Audio:         true,
		AudioInterval: time.Millisecond,
		MaxChunkRate:  5,
	})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, st.Close())

	stats := st.(*syntheticStream).Stats()
	// A burst of 5 plus roughly 5/s afterwards.
	assert.LessOrEqual(t, stats.Produced+stats.Dropped, uint64(8))
	assert.Positive(t, stats.Throttled)
}

func TestResamplePCM16(t *testing.T) {
	in := make([]byte, 48*bytesPerSample)
	for i := 0; i < 48; i++ {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(i*100)) //nolint:gosec // test data
	}

	out, err := ResamplePCM16(in, SampleRate48kHz, SampleRate16kHz)
	require.NoError(t, err)
	assert.Len(t, out, 16*bytesPerSample)
	assert.Equal(t, uint16(300), binary.LittleEndian.Uint16(out[2:]))

	same, err := ResamplePCM16(in, SampleRate16kHz, SampleRate16kHz)
	require.NoError(t, err)
	assert.Equal(t, in, same)

	_, err = ResamplePCM16(in, 0, SampleRate16kHz)
	assert.Error(t, err)
	_, err = ResamplePCM16([]byte{1, 2, 3}, SampleRate48kHz, SampleRate16kHz)
	assert.Error(t, err)

	empty, err := ResamplePCM16(nil, SampleRate48kHz, SampleRate16kHz)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFloatToPCM16(t *testing.T) {
	out, err := FloatToPCM16([]float32{0, 1, -1, 2}, SampleRate16kHz, SampleRate16kHz)
	require.NoError(t, err)
	require.Len(t, out, 8)

	sample := func(i int) int16 { return int16(binary.LittleEndian.Uint16(out[i*2:])) } //nolint:gosec // test data
	assert.Equal(t, int16(0), sample(0))
	assert.Equal(t, int16(32767), sample(1))
	assert.Equal(t, int16(-32768), sample(2))
	assert.Equal(t, int16(32767), sample(3), "clipped")

	down, err := FloatToPCM16(make([]float32, 4800), SampleRate48kHz, SampleRate16kHz)
	require.NoError(t, err)
	assert.Len(t, down, 1600*bytesPerSample)
}

func TestDefaultConstraints(t *testing.T) {
	c := DefaultConstraints()
	assert.True(t, c.Audio)
	assert.True(t, c.Video)
	assert.Equal(t, time.Second, c.VideoInterval)
}
