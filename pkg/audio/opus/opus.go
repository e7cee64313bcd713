// Package opus frames interleaved stereo sample blocks into Opus packets and
// back, on top of the libopus bindings in layeh.com/gopus.
//
// Packets can be carried either as discrete [Packet] values or as a single
// framed byte stream: a concatenation of (uint16 little-endian length, packet)
// tuples. See [AppendFrame] and [SplitFramed].
//
// Decoding never fails on bad input. A packet that cannot be decoded is
// replaced by digital silence of the expected frame length so the stream keeps
// its timing; [DecodeResult.Status] reports when this happened.
package opus

import (
	"errors"
	"fmt"
	"slices"
)

// Channels is the channel count of every encoded frame.
const Channels = 2

// Bitrate is the constant target bitrate of every encoder, in bits per second.
const Bitrate = 128000

// maxPacketBytes bounds the size of a single encoded packet.
const maxPacketBytes = 4000

var (
	// ErrInvalidAudioParameters is returned when the sample rate, frame size
	// or channel layout of an input block is not supported by the codec.
	ErrInvalidAudioParameters = errors.New("opus: invalid audio parameters")

	// ErrCodec is returned when an encoder or decoder cannot be created or an
	// encode call fails.
	ErrCodec = errors.New("opus: codec error")
)

// Packet is one encoded frame.
type Packet []byte

// frameSizes lists the legal per-channel frame sizes for each supported rate,
// i.e. 2.5, 5, 10, 20, 40 and 60 ms.
var frameSizes = map[int][]int{
	48000: {120, 240, 480, 960, 1920, 2880},
	24000: {60, 120, 240, 480, 960, 1440},
	16000: {40, 80, 160, 320, 640, 960},
	12000: {30, 60, 120, 240, 480, 720},
	8000:  {20, 40, 80, 160, 320, 480},
}

// SampleRates returns the supported sample rates in ascending order.
func SampleRates() []int {
	rates := make([]int, 0, len(frameSizes))
	for r := range frameSizes {
		rates = append(rates, r)
	}
	slices.Sort(rates)
	return rates
}

// FrameSizes returns the legal per-channel frame sizes for rate, or nil if the
// rate is not supported.
func FrameSizes(rate int) []int {
	return slices.Clone(frameSizes[rate])
}

// Validate checks that samples can be encoded at rate with frameSize
// per-channel samples per frame. Every violation wraps
// [ErrInvalidAudioParameters].
func Validate(samples []float32, channels, rate, frameSize int) error {
	sizes, ok := frameSizes[rate]
	if !ok {
		return fmt.Errorf("opus: unsupported sample rate %d: %w", rate, ErrInvalidAudioParameters)
	}
	if !slices.Contains(sizes, frameSize) {
		return fmt.Errorf("opus: frame size %d not legal at %d Hz: %w", frameSize, rate, ErrInvalidAudioParameters)
	}
	if channels <= 0 {
		return fmt.Errorf("opus: channel count %d: %w", channels, ErrInvalidAudioParameters)
	}
	if len(samples)%channels != 0 {
		return fmt.Errorf("opus: %d samples are not interleaved %d-channel audio: %w", len(samples), channels, ErrInvalidAudioParameters)
	}
	return nil
}

// Lookahead returns the encoder's algorithmic delay at rate, in samples per
// channel. Decoded audio lags the input by this amount.
func Lookahead(rate int) int {
	return rate/400 + rate/250
}
