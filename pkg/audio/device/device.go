// Package device defines the boundary between the pipeline and the audio
// hardware.
//
// A [Host] enumerates devices and opens callback-driven [Stream] values. Input
// callbacks receive interleaved float32 blocks at the device's native rate and
// channel count on a dedicated real-time goroutine. Output callbacks are asked
// to fill a buffer and must never block.
//
// Implementations:
//
//   - device/portaudio: physical devices via PortAudio.
//   - device/mock: a synchronous test host.
package device

import (
	"errors"
	"fmt"
)

// ErrDevice is wrapped by every error caused by an unavailable device or a
// stream that could not be built or started.
var ErrDevice = errors.New("device: unavailable")

// Info describes one audio device.
type Info struct {
	// Name is the host-assigned device name. It is the key for selection.
	Name string

	// MaxInputChannels is zero for output-only devices.
	MaxInputChannels int

	// MaxOutputChannels is zero for input-only devices.
	MaxOutputChannels int

	// DefaultSampleRate is the device's native rate in Hz.
	DefaultSampleRate int
}

// IsInput reports whether the device can capture.
func (i Info) IsInput() bool { return i.MaxInputChannels > 0 }

// StreamConfig selects the layout of an opened stream.
type StreamConfig struct {
	// SampleRate in Hz. Zero means the device default.
	SampleRate int

	// Channels is the interleaved channel count. Zero means
	// min(device maximum, 2).
	Channels int

	// FramesPerBuffer is the per-callback block size in frames. Zero lets the
	// host choose.
	FramesPerBuffer int
}

// Resolve fills zero fields of cfg from dev for a stream in the given
// direction.
func (cfg StreamConfig) Resolve(dev Info, input bool) StreamConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = dev.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		limit := dev.MaxOutputChannels
		if input {
			limit = dev.MaxInputChannels
		}
		cfg.Channels = min(limit, 2)
	}
	return cfg
}

// InputCallback receives one captured block. The slice is only valid for the
// duration of the call.
type InputCallback func(in []float32)

// OutputCallback must fill out completely without blocking.
type OutputCallback func(out []float32)

// Stream is an opened device stream.
type Stream interface {
	// Start begins invoking the stream callback.
	Start() error
	// Stop pauses the stream. Pending callbacks complete before Stop returns.
	Stop() error
	// Close releases the stream. A closed stream cannot be restarted.
	Close() error
}

// Host enumerates devices and opens streams on them.
type Host interface {
	// InputDevices lists every device that can capture.
	InputDevices() ([]Info, error)

	// DefaultInput returns the system's default capture device.
	DefaultInput() (Info, error)

	// DefaultOutput returns the system's default playback device.
	DefaultOutput() (Info, error)

	// FindInput returns the capture device called name.
	FindInput(name string) (Info, error)

	// OpenInput opens a capture stream on dev. The stream is not started.
	OpenInput(dev Info, cfg StreamConfig, cb InputCallback) (Stream, error)

	// OpenOutput opens a playback stream on dev. The stream is not started.
	OpenOutput(dev Info, cfg StreamConfig, cb OutputCallback) (Stream, error)
}

// FindByName returns the first device in devices called name, wrapping
// [ErrDevice] if none matches.
func FindByName(devices []Info, name string) (Info, error) {
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return Info{}, fmt.Errorf("device: no input device named %q: %w", name, ErrDevice)
}
