package audio

import (
	"fmt"
	"math"
)

// WindowFunction selects the window applied to the sinc kernel.
type WindowFunction int

const (
	// WindowBlackmanHarris2 is the squared Blackman-Harris window. It gives the
	// strongest stop-band attenuation and is the default.
	WindowBlackmanHarris2 WindowFunction = iota

	// WindowBlackmanHarris is the plain four-term Blackman-Harris window.
	WindowBlackmanHarris

	// WindowHann is the raised-cosine window.
	WindowHann
)

// String returns the human-readable name of the window.
func (w WindowFunction) String() string {
	switch w {
	case WindowBlackmanHarris2:
		return "blackman-harris2"
	case WindowBlackmanHarris:
		return "blackman-harris"
	case WindowHann:
		return "hann"
	default:
		return "unknown"
	}
}

// SincParams configures the interpolation filter of a [SincResampler]. The
// parameters are fixed for the lifetime of the resampler.
type SincParams struct {
	// Length is the number of filter taps. Rounded up to an even number.
	Length int

	// Cutoff is the low-pass cutoff relative to the Nyquist frequency of the
	// lower of the two rates. Range (0, 1].
	Cutoff float64

	// Oversampling is the number of kernel table entries per input sample.
	// Kernel values between entries are linearly interpolated.
	Oversampling int

	// Window is applied to the truncated sinc kernel.
	Window WindowFunction
}

// DefaultSincParams returns a high-quality filter configuration: 256 taps,
// 0.95 cutoff, 256x oversampling, squared Blackman-Harris window.
func DefaultSincParams() SincParams {
	return SincParams{
		Length:       256,
		Cutoff:       0.95,
		Oversampling: 256,
		Window:       WindowBlackmanHarris2,
	}
}

// SincResampler is a fixed-output windowed-sinc resampler. Every call to
// [SincResampler.Process] produces exactly the configured number of output
// frames and consumes exactly [SincResampler.InputFramesNext] input frames
// per channel. The last Length input frames are kept between calls so that
// consecutive chunks form a continuous signal.
//
// The filter is centred Length/2 input frames behind the newest sample, so the
// output lags the input by [SincResampler.OutputDelay] frames. Callers
// measuring end-to-end latency must account for it.
//
// A SincResampler is not safe for concurrent use.
type SincResampler struct {
	ratio        float64 // output rate / input rate
	step         float64 // input frames advanced per output frame
	channels     int
	chunk        int
	length       int
	half         int
	oversampling int
	table        []float64

	history [][]float64
	pos     float64
}

// NewSincResampler creates a resampler that converts by ratio
// (output rate / input rate) and emits chunkFrames frames per channel on each
// Process call.
func NewSincResampler(ratio float64, params SincParams, chunkFrames, channels int) (*SincResampler, error) {
	switch {
	case ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0):
		return nil, fmt.Errorf("audio: sinc resampler ratio %v: %w", ratio, ErrResampling)
	case channels <= 0:
		return nil, fmt.Errorf("audio: sinc resampler channels %d: %w", channels, ErrResampling)
	case chunkFrames <= 0:
		return nil, fmt.Errorf("audio: sinc resampler chunk size %d: %w", chunkFrames, ErrResampling)
	case params.Length < 2:
		return nil, fmt.Errorf("audio: sinc length %d: %w", params.Length, ErrResampling)
	case params.Cutoff <= 0 || params.Cutoff > 1:
		return nil, fmt.Errorf("audio: sinc cutoff %v: %w", params.Cutoff, ErrResampling)
	case params.Oversampling < 1:
		return nil, fmt.Errorf("audio: sinc oversampling %d: %w", params.Oversampling, ErrResampling)
	}

	length := params.Length
	if length%2 != 0 {
		length++
	}

	r := &SincResampler{
		ratio:        ratio,
		step:         1 / ratio,
		channels:     channels,
		chunk:        chunkFrames,
		length:       length,
		half:         length / 2,
		oversampling: params.Oversampling,
		history:      make([][]float64, channels),
	}
	for ch := range r.history {
		r.history[ch] = make([]float64, length)
	}
	r.pos = float64(length - r.half)
	r.table = buildSincTable(length, params.Oversampling, params.Cutoff*math.Min(1, ratio), params.Window)
	return r, nil
}

// InputFramesNext returns the number of input frames per channel the next
// Process call requires.
func (r *SincResampler) InputFramesNext() int {
	last := r.pos + float64(r.chunk-1)*r.step
	need := int(math.Floor(last)) + r.half + 1 - r.length
	if need < 0 {
		return 0
	}
	return need
}

// OutputFrames returns the fixed number of frames per channel produced by
// each Process call.
func (r *SincResampler) OutputFrames() int { return r.chunk }

// OutputDelay returns the filter lookahead expressed in output frames.
func (r *SincResampler) OutputDelay() int {
	return int(math.Round(float64(r.half) * r.ratio))
}

// Process resamples one chunk. in must hold one slice per channel, each
// exactly InputFramesNext() frames long. The returned slices hold
// OutputFrames() frames each.
func (r *SincResampler) Process(in [][]float64) ([][]float64, error) {
	if len(in) != r.channels {
		return nil, fmt.Errorf("audio: sinc process: got %d channels, want %d: %w", len(in), r.channels, ErrResampling)
	}
	need := r.InputFramesNext()
	for ch, wave := range in {
		if len(wave) != need {
			return nil, fmt.Errorf("audio: sinc process: channel %d has %d frames, want %d: %w", ch, len(wave), need, ErrResampling)
		}
	}

	out := make([][]float64, r.channels)
	for ch := range r.channels {
		buf := make([]float64, 0, r.length+need)
		buf = append(buf, r.history[ch]...)
		buf = append(buf, in[ch]...)

		wave := make([]float64, r.chunk)
		for i := range r.chunk {
			wave[i] = r.interpolate(buf, r.pos+float64(i)*r.step)
		}
		out[ch] = wave

		copy(r.history[ch], buf[len(buf)-r.length:])
	}

	r.pos += float64(r.chunk)*r.step - float64(need)
	return out, nil
}

// Reset clears the filter history and read position.
func (r *SincResampler) Reset() {
	for ch := range r.history {
		clear(r.history[ch])
	}
	r.pos = float64(r.length - r.half)
}

// interpolate evaluates the filter centred at fractional buffer position t.
func (r *SincResampler) interpolate(buf []float64, t float64) float64 {
	base := int(math.Floor(t))
	var acc float64
	for m := base - r.half + 1; m <= base+r.half; m++ {
		if m < 0 || m >= len(buf) {
			continue
		}
		acc += buf[m] * r.kernel(float64(m)-t)
	}
	return acc
}

// kernel looks up the windowed sinc at offset x in [-half, half] input frames.
func (r *SincResampler) kernel(x float64) float64 {
	f := (x + float64(r.half)) * float64(r.oversampling)
	i := int(math.Floor(f))
	if i < 0 || i >= len(r.table)-1 {
		return 0
	}
	frac := f - float64(i)
	return r.table[i]*(1-frac) + r.table[i+1]*frac
}

// buildSincTable samples the windowed sinc kernel at oversampling points per
// tap and normalises it to unity DC gain.
func buildSincTable(length, oversampling int, cutoff float64, window WindowFunction) []float64 {
	n := length*oversampling + 1
	half := float64(length / 2)
	table := make([]float64, n)
	for i := range n {
		x := float64(i)/float64(oversampling) - half
		w := windowValue(window, float64(i)/float64(n-1))
		table[i] = cutoff * sinc(cutoff*x) * w
	}

	var gain float64
	for i := 0; i < n; i += oversampling {
		gain += table[i]
	}
	if gain != 0 {
		for i := range table {
			table[i] /= gain
		}
	}
	return table
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// windowValue evaluates window at normalised position p in [0, 1].
func windowValue(window WindowFunction, p float64) float64 {
	switch window {
	case WindowHann:
		return 0.5 - 0.5*math.Cos(2*math.Pi*p)
	case WindowBlackmanHarris:
		return blackmanHarris(p)
	default:
		bh := blackmanHarris(p)
		return bh * bh
	}
}

func blackmanHarris(p float64) float64 {
	const (
		a0 = 0.35875
		a1 = 0.48829
		a2 = 0.14128
		a3 = 0.01168
	)
	return a0 - a1*math.Cos(2*math.Pi*p) + a2*math.Cos(4*math.Pi*p) - a3*math.Cos(6*math.Pi*p)
}
