// Package mock provides an in-memory [device.Host] for unit tests.
//
// Streams opened on the mock never run on their own. Tests drive them
// synchronously: [Stream.Feed] invokes an input callback with a block and
// [Stream.Pull] asks an output callback to fill a buffer.
//
// Typical usage:
//
//	host := &mock.Host{
//	    Inputs: []device.Info{{Name: "mic", MaxInputChannels: 1, DefaultSampleRate: 16000}},
//	}
//	sess := capture.New(host, cfg, outputs)
//	_ = sess.Start(ctx)
//	host.LastInput().Feed(block)
package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/spellcast/pkg/audio/device"
)

// OpenCall records one OpenInput or OpenOutput invocation.
type OpenCall struct {
	Device device.Info
	Config device.StreamConfig
}

// Host is a mock implementation of [device.Host]. Set the exported fields
// before use; inspect the recorded calls after.
type Host struct {
	mu sync.Mutex

	// Inputs is returned by InputDevices. The first entry is the default
	// input unless DefaultInputName is set.
	Inputs []device.Info

	// DefaultInputName selects the default input by name.
	DefaultInputName string

	// Output is returned by DefaultOutput. A zero Name makes DefaultOutput
	// fail.
	Output device.Info

	// OpenInputErr, if non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// StartErr, if non-nil, is returned by Start on every stream opened from
	// this host.
	StartErr error

	InputCalls  []OpenCall
	OutputCalls []OpenCall

	inputs  []*Stream
	outputs []*Stream
}

var _ device.Host = (*Host)(nil)

// InputDevices implements [device.Host].
func (h *Host) InputDevices() ([]device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]device.Info(nil), h.Inputs...), nil
}

// DefaultInput implements [device.Host].
func (h *Host) DefaultInput() (device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Inputs) == 0 {
		return device.Info{}, fmt.Errorf("mock: no input devices: %w", device.ErrDevice)
	}
	if h.DefaultInputName != "" {
		return device.FindByName(h.Inputs, h.DefaultInputName)
	}
	return h.Inputs[0], nil
}

// DefaultOutput implements [device.Host].
func (h *Host) DefaultOutput() (device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Output.Name == "" {
		return device.Info{}, fmt.Errorf("mock: no output device: %w", device.ErrDevice)
	}
	return h.Output, nil
}

// FindInput implements [device.Host].
func (h *Host) FindInput(name string) (device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return device.FindByName(h.Inputs, name)
}

// OpenInput implements [device.Host].
func (h *Host) OpenInput(dev device.Info, cfg device.StreamConfig, cb device.InputCallback) (device.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg = cfg.Resolve(dev, true)
	h.InputCalls = append(h.InputCalls, OpenCall{Device: dev, Config: cfg})
	if h.OpenInputErr != nil {
		return nil, h.OpenInputErr
	}
	s := &Stream{Device: dev, Config: cfg, input: cb, startErr: h.StartErr}
	h.inputs = append(h.inputs, s)
	return s, nil
}

// OpenOutput implements [device.Host].
func (h *Host) OpenOutput(dev device.Info, cfg device.StreamConfig, cb device.OutputCallback) (device.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg = cfg.Resolve(dev, false)
	h.OutputCalls = append(h.OutputCalls, OpenCall{Device: dev, Config: cfg})
	if h.OpenOutputErr != nil {
		return nil, h.OpenOutputErr
	}
	s := &Stream{Device: dev, Config: cfg, output: cb, startErr: h.StartErr}
	h.outputs = append(h.outputs, s)
	return s, nil
}

// LastInput returns the most recently opened input stream, or nil.
func (h *Host) LastInput() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inputs) == 0 {
		return nil
	}
	return h.inputs[len(h.inputs)-1]
}

// LastOutput returns the most recently opened output stream, or nil.
func (h *Host) LastOutput() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.outputs) == 0 {
		return nil
	}
	return h.outputs[len(h.outputs)-1]
}

// ErrNotRunning is returned by Feed and Pull on a stream that is not started.
var ErrNotRunning = errors.New("mock: stream not running")

// Stream is a mock [device.Stream].
type Stream struct {
	mu sync.Mutex

	Device device.Info
	Config device.StreamConfig

	input    device.InputCallback
	output   device.OutputCallback
	startErr error

	running bool
	closed  bool

	StartCount int
	StopCount  int
	CloseCount int
}

// Start implements [device.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCount++
	if s.startErr != nil {
		return s.startErr
	}
	if s.closed {
		return fmt.Errorf("mock: start closed stream: %w", device.ErrDevice)
	}
	s.running = true
	return nil
}

// Stop implements [device.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCount++
	s.running = false
	return nil
}

// Close implements [device.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.running = false
	s.closed = true
	return nil
}

// Running reports whether the stream is started and not stopped.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed invokes the input callback with block on the calling goroutine.
func (s *Stream) Feed(block []float32) error {
	s.mu.Lock()
	running, cb := s.running, s.input
	s.mu.Unlock()
	if !running || cb == nil {
		return ErrNotRunning
	}
	cb(block)
	return nil
}

// Pull invokes the output callback with a buffer of n samples and returns it.
func (s *Stream) Pull(n int) ([]float32, error) {
	s.mu.Lock()
	running, cb := s.running, s.output
	s.mu.Unlock()
	if !running || cb == nil {
		return nil, ErrNotRunning
	}
	out := make([]float32, n)
	cb(out)
	return out, nil
}
