package audio

import (
	"fmt"
	"math"
)

// DownmixMono averages all channels of each interleaved frame into a single
// mono sample. If channels is 1 the input is returned unchanged. A trailing
// partial frame is ignored.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	inv := 1 / float32(channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum * inv
	}
	return out
}

// Remix converts an interleaved block from one channel count to another.
//
//   - to == from: the input is returned unchanged.
//   - to == 1: channels are averaged (see [DownmixMono]).
//   - from == 1: the mono sample is copied into every output channel.
//   - otherwise: the first min(from, to) channels are kept and any extra
//     output channels are left silent.
func Remix(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("audio: remix %d -> %d channels: %w", from, to, ErrResampling)
	}
	if len(samples)%from != 0 {
		return nil, fmt.Errorf("audio: remix: %d samples not divisible by %d channels: %w", len(samples), from, ErrResampling)
	}
	if from == to {
		return samples, nil
	}
	if to == 1 {
		return DownmixMono(samples, from), nil
	}

	frames := len(samples) / from
	out := make([]float32, frames*to)
	for i := range frames {
		src := samples[i*from : (i+1)*from]
		dst := out[i*to : (i+1)*to]
		if from == 1 {
			for ch := range dst {
				dst[ch] = src[0]
			}
			continue
		}
		copy(dst, src)
	}
	return out, nil
}

// Float32ToInt16 converts normalised float samples in [-1, 1] to 16-bit PCM.
// Out-of-range values are clamped.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToFloat32 converts 16-bit PCM samples to floats normalised to [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples. An empty block has
// an RMS of zero.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
