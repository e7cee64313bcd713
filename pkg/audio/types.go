// Package audio holds the sample-level building blocks of the spellcast
// pipeline: interleaved float32 sample blocks, sample-rate conversion,
// channel remixing, and the unbounded queues that carry blocks between the
// device callback and the worker goroutines.
//
// A sample block is a plain []float32 interleaved by channel
// (stereo = [L0, R0, L1, R1, ...]). Its length is always a multiple of the
// channel count; functions in this package reject blocks that violate this.
//
// Sub-packages:
//
//   - audio/opus: packet and framed-stream encoding on top of libopus.
//   - audio/device: the capture/playback device boundary.
package audio

import (
	"fmt"
	"time"
)

// Fixed pipeline rates.
const (
	// CodecSampleRate is the rate every block is converted to before Opus
	// encoding.
	CodecSampleRate = 48000

	// CodecChannels is the channel layout of encoded frames (interleaved stereo).
	CodecChannels = 2

	// TranscriptionSampleRate is the mono rate expected by the transcription
	// engine.
	TranscriptionSampleRate = 16000
)

// Format describes the sample rate and channel count of a sample block.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Frames returns the number of per-channel frames in a block of n samples.
func (f Format) Frames(n int) int {
	if f.Channels <= 0 {
		return 0
	}
	return n / f.Channels
}

// Duration returns the playback duration of a block of n interleaved samples.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := f.Frames(n)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
