package capture

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Standard sample rates.
const (
	SampleRate48kHz = 48000
	SampleRate24kHz = 24000
	SampleRate16kHz = 16000
)

const bytesPerSample = 2

// FloatToPCM16 converts float samples in [-1, 1] captured at fromRate into
// little-endian 16-bit PCM at toRate. Values outside the range are clipped.
func FloatToPCM16(samples []float32, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(floatToInt16(s))) //nolint:gosec // PCM16 encoding
	}
	return ResamplePCM16(pcm, fromRate, toRate)
}

func floatToInt16(s float32) int16 {
	v := math.Max(-1, math.Min(1, float64(s)))
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7fff)
}

// ResamplePCM16 resamples little-endian PCM16 audio from one sample rate to
// another using linear interpolation.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	if fromRate == toRate {
		result := make([]byte, len(input))
		copy(result, input)
		return result, nil
	}

	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}

	numIn := len(input) / bytesPerSample
	numOut := int(float64(numIn) * float64(toRate) / float64(fromRate))
	if numIn == 0 || numOut == 0 {
		return []byte{}, nil
	}

	in := make([]int16, numIn)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(input[i*bytesPerSample:])) //nolint:gosec // PCM16 decoding
	}

	output := make([]byte, numOut*bytesPerSample)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < numOut; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		var sample int16
		if srcIdx >= numIn-1 {
			sample = in[numIn-1]
		} else {
			s0 := float64(in[srcIdx])
			s1 := float64(in[srcIdx+1])
			sample = int16(s0 + frac*(s1-s0))
		}
		binary.LittleEndian.PutUint16(output[i*bytesPerSample:], uint16(sample)) //nolint:gosec // PCM16 encoding
	}

	return output, nil
}

// Tone generates a sine wave of the given frequency as PCM16 at rate.
func Tone(freq float64, rate int, samples int, phase int) []byte {
	out := make([]byte, samples*bytesPerSample)
	const amplitude = 0.2
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(phase+i)/float64(rate))
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(floatToInt16(float32(v)))) //nolint:gosec // PCM16 encoding
	}
	return out
}
