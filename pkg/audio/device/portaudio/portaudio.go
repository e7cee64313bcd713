// Package portaudio implements [device.Host] on top of PortAudio.
//
// PortAudio must be initialised once per process; [New] does that and
// [Host.Close] terminates it again.
package portaudio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/spellcast/pkg/audio/device"
)

// Host is a [device.Host] backed by the system's PortAudio library.
type Host struct {
	closeOnce sync.Once
}

// Compile-time interface assertion.
var _ device.Host = (*Host)(nil)

// New initialises PortAudio.
func New() (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", device.ErrDevice, err)
	}
	return &Host{}, nil
}

// Close terminates PortAudio. Streams opened from h must be closed first.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

// InputDevices implements [device.Host].
func (h *Host) InputDevices() ([]device.Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w: %w", device.ErrDevice, err)
	}
	var out []device.Info
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			out = append(out, toInfo(d))
		}
	}
	return out, nil
}

// DefaultInput implements [device.Host].
func (h *Host) DefaultInput() (device.Info, error) {
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return device.Info{}, fmt.Errorf("portaudio: default input: %w: %w", device.ErrDevice, err)
	}
	return toInfo(d), nil
}

// DefaultOutput implements [device.Host].
func (h *Host) DefaultOutput() (device.Info, error) {
	d, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return device.Info{}, fmt.Errorf("portaudio: default output: %w: %w", device.ErrDevice, err)
	}
	return toInfo(d), nil
}

// FindInput implements [device.Host].
func (h *Host) FindInput(name string) (device.Info, error) {
	devs, err := h.InputDevices()
	if err != nil {
		return device.Info{}, err
	}
	return device.FindByName(devs, name)
}

// OpenInput implements [device.Host].
func (h *Host) OpenInput(dev device.Info, cfg device.StreamConfig, cb device.InputCallback) (device.Stream, error) {
	pd, err := lookup(dev.Name, true)
	if err != nil {
		return nil, err
	}
	cfg = cfg.Resolve(dev, true)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   pd,
			Channels: cfg.Channels,
			Latency:  pd.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	s, err := portaudio.OpenStream(params, func(in []float32) { cb(in) })
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q: %w: %w", dev.Name, device.ErrDevice, err)
	}
	slog.Debug("portaudio input stream opened",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return &stream{s: s, name: dev.Name}, nil
}

// OpenOutput implements [device.Host].
func (h *Host) OpenOutput(dev device.Info, cfg device.StreamConfig, cb device.OutputCallback) (device.Stream, error) {
	pd, err := lookup(dev.Name, false)
	if err != nil {
		return nil, err
	}
	cfg = cfg.Resolve(dev, false)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   pd,
			Channels: cfg.Channels,
			Latency:  pd.DefaultLowOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	s, err := portaudio.OpenStream(params, func(out []float32) { cb(out) })
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %q: %w: %w", dev.Name, device.ErrDevice, err)
	}
	return &stream{s: s, name: dev.Name}, nil
}

// stream adapts *portaudio.Stream to [device.Stream].
type stream struct {
	s    *portaudio.Stream
	name string
}

func (s *stream) Start() error {
	if err := s.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start %q: %w: %w", s.name, device.ErrDevice, err)
	}
	return nil
}

func (s *stream) Stop() error {
	if err := s.s.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop %q: %w", s.name, err)
	}
	return nil
}

func (s *stream) Close() error {
	if err := s.s.Close(); err != nil {
		return fmt.Errorf("portaudio: close %q: %w", s.name, err)
	}
	return nil
}

func lookup(name string, input bool) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w: %w", device.ErrDevice, err)
	}
	return findDevice(devs, name, input)
}

// findDevice returns the first device called name that has channels in the
// requested direction. Input and output devices may share a name.
func findDevice(devs []*portaudio.DeviceInfo, name string, input bool) (*portaudio.DeviceInfo, error) {
	dir := "output"
	if input {
		dir = "input"
	}
	for _, d := range devs {
		if d.Name != name {
			continue
		}
		if (input && d.MaxInputChannels > 0) || (!input && d.MaxOutputChannels > 0) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no %s device named %q: %w", dir, name, device.ErrDevice)
}

func toInfo(d *portaudio.DeviceInfo) device.Info {
	return device.Info{
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: int(math.Round(d.DefaultSampleRate)),
	}
}
