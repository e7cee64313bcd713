package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrResampling is wrapped by every error returned from the resamplers and
// channel converters in this package.
var ErrResampling = errors.New("resampling error")

// rateTolerance is the maximum difference, in Hz, for two rates to be treated
// as equal.
const rateTolerance = 0.01

// ResampleLinear converts an interleaved block from fromRate to toRate using
// per-channel linear interpolation.
//
// If the rates are equal the input slice is returned as is. Otherwise the
// output holds round(inFrames / (fromRate/toRate)) frames. Interpolation
// never extrapolates past the end of the input: the last frame is repeated
// for trailing positions.
func ResampleLinear(samples []float32, channels, fromRate, toRate int) ([]float32, error) {
	if err := checkBlock(samples, channels); err != nil {
		return nil, err
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: linear resample %d -> %d Hz: %w", fromRate, toRate, ErrResampling)
	}
	if fromRate == toRate {
		return samples, nil
	}

	ratio := float64(fromRate) / float64(toRate)
	inFrames := len(samples) / channels
	if inFrames == 0 {
		return []float32{}, nil
	}
	outFrames := int(math.Round(float64(inFrames) / ratio))
	out := make([]float32, outFrames*channels)
	last := inFrames - 1

	for i := range outFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx > last {
			idx = last
			frac = 0
		}
		next := idx + 1
		if next > last {
			next = last
		}
		for ch := range channels {
			s0 := samples[idx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out, nil
}

// ResampleSinc converts an interleaved block from fromRate to toRate in one
// shot using a [SincResampler] with [DefaultSincParams].
//
// The block is zero-padded up to the number of input frames the filter needs
// to produce round(inFrames * toRate/fromRate) output frames. The output
// carries the filter's lookahead; see [SincResampler.OutputDelay].
func ResampleSinc(samples []float32, channels int, fromRate, toRate float64) ([]float32, error) {
	if err := checkBlock(samples, channels); err != nil {
		return nil, err
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: sinc resample %.1f -> %.1f Hz: %w", fromRate, toRate, ErrResampling)
	}
	if math.Abs(fromRate-toRate) < rateTolerance {
		return samples, nil
	}

	ratio := toRate / fromRate
	waves := deinterleave(samples, channels)
	outFrames := int(math.Round(float64(len(waves[0])) * ratio))
	if outFrames == 0 {
		return []float32{}, nil
	}

	r, err := NewSincResampler(ratio, DefaultSincParams(), outFrames, channels)
	if err != nil {
		return nil, err
	}
	need := r.InputFramesNext()
	for ch := range waves {
		waves[ch] = padTo(waves[ch], need)
	}

	outWaves, err := r.Process(waves)
	if err != nil {
		return nil, err
	}
	return interleave(outWaves, outFrames), nil
}

// checkBlock validates the channel count and interleaving of a block.
func checkBlock(samples []float32, channels int) error {
	if channels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d: %w", channels, ErrResampling)
	}
	if len(samples)%channels != 0 {
		return fmt.Errorf("audio: %d samples not divisible by %d channels: %w", len(samples), channels, ErrResampling)
	}
	return nil
}

// deinterleave splits an interleaved block into one float64 slice per channel.
func deinterleave(samples []float32, channels int) [][]float64 {
	frames := len(samples) / channels
	waves := make([][]float64, channels)
	for ch := range waves {
		waves[ch] = make([]float64, frames)
	}
	for i := range frames {
		for ch := range channels {
			waves[ch][i] = float64(samples[i*channels+ch])
		}
	}
	return waves
}

// interleave merges per-channel slices back into a single block of frames
// frames.
func interleave(waves [][]float64, frames int) []float32 {
	channels := len(waves)
	out := make([]float32, frames*channels)
	for i := range frames {
		for ch := range channels {
			out[i*channels+ch] = float32(waves[ch][i])
		}
	}
	return out
}

// padTo extends s with trailing zeros up to n elements, or truncates it to n.
func padTo(s []float64, n int) []float64 {
	if len(s) >= n {
		return s[:n]
	}
	return append(s, make([]float64, n-len(s))...)
}
