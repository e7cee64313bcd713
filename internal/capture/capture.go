// Package capture drives a live input device and fans its audio out to the
// two consumers of the pipeline.
//
// Every device callback is turned into:
//
//   - Opus packets at 48 kHz stereo, 10 ms per frame, each pushed to the
//     relay queue as one length-prefixed framed-stream tuple;
//   - one mono 16 kHz block pushed to the voice queue for the keyword
//     worker.
//
// Optionally the raw input is looped back to the default output device for
// monitoring. The callback never blocks: both queues accept without waiting
// and the monitor output pads with silence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/device"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
)

var (
	// ErrAlreadyStarted is returned by [Session.Start] on a streaming session.
	ErrAlreadyStarted = errors.New("capture: session already started")

	// ErrStopped is returned by [Session.Start] once the session was stopped.
	// Create a new session to capture again.
	ErrStopped = errors.New("capture: session stopped")
)

// State is the lifecycle position of a [Session].
type State int32

const (
	// Idle sessions have not been started.
	Idle State = iota
	// Streaming sessions are receiving device callbacks.
	Streaming
	// Stopped is terminal.
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config selects the device and stream layout.
type Config struct {
	// Device is the input device name. Empty selects the host default.
	Device string

	// Channels requested from the device. Zero means min(device max, 2).
	Channels int

	// FramesPerBuffer is the device block size. Zero lets the host choose.
	FramesPerBuffer int

	// Monitor loops the captured audio back to the default output device.
	Monitor bool

	// MonitorMaxPending caps the loopback backlog in samples. Zero means one
	// second of input.
	MonitorMaxPending int

	// ErrorBuffer is the capacity of the [Session.Errors] channel. Default 16.
	ErrorBuffer int
}

// Outputs are the queues fed by a [Session]. Both are required.
type Outputs struct {
	// Relay receives framed-stream bytes, one packet per item.
	Relay *audio.Queue[[]byte]

	// Voice receives mono 16 kHz blocks, one per callback.
	Voice *audio.Queue[[]float32]
}

// Stats is a snapshot of session counters.
type Stats struct {
	Callbacks     uint64
	Packets       uint64
	VoiceBlocks   uint64
	Errors        uint64
	ErrorsDropped uint64
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one capture run on one device. It moves from [Idle] to
// [Streaming] on Start and to [Stopped] on Stop; it cannot be restarted.
// All exported methods are safe for concurrent use.
type Session struct {
	id      string
	host    device.Host
	cfg     Config
	out     Outputs
	metrics *observe.Metrics
	errs    chan error

	mu      sync.Mutex
	state   State
	dev     device.Info
	format  audio.Format
	input   device.Stream
	output  device.Stream
	pipe    *pipeline
	stopCtx func() bool
	cbCtx   context.Context

	callbacks     atomic.Uint64
	errCount      atomic.Uint64
	errorsDropped atomic.Uint64
}

// New returns an idle session that will capture from host.
func New(host device.Host, cfg Config, out Outputs, opts ...Option) (*Session, error) {
	if host == nil {
		return nil, errors.New("capture: nil device host")
	}
	if out.Relay == nil || out.Voice == nil {
		return nil, errors.New("capture: relay and voice queues are required")
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = 16
	}
	s := &Session{
		id:    uuid.NewString(),
		host:  host,
		cfg:   cfg,
		out:   out,
		errs:  make(chan error, cfg.ErrorBuffer),
		cbCtx: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the input device. It is the zero Info before Start.
func (s *Session) Device() device.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// Format returns the negotiated input format. It is the zero Format before
// Start.
func (s *Session) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Errors returns the side channel that receives every callback failure. The
// channel is never closed; when it is full new errors are dropped and
// counted in [Stats.ErrorsDropped].
func (s *Session) Errors() <-chan error { return s.errs }

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Callbacks:     s.callbacks.Load(),
		Errors:        s.errCount.Load(),
		ErrorsDropped: s.errorsDropped.Load(),
	}
	s.mu.Lock()
	if s.pipe != nil {
		st.Packets = s.pipe.packets.Load()
		st.VoiceBlocks = s.pipe.voiceBlocks.Load()
	}
	s.mu.Unlock()
	return st
}

// Start resolves the device, opens and starts the input stream (and the
// monitor output when configured). Device failures wrap [device.ErrDevice]
// and leave the session idle. The session stops by itself when ctx is done.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Streaming:
		return ErrAlreadyStarted
	case Stopped:
		return ErrStopped
	}

	dev, err := s.resolveDevice()
	if err != nil {
		return err
	}
	scfg := device.StreamConfig{
		Channels:        s.cfg.Channels,
		FramesPerBuffer: s.cfg.FramesPerBuffer,
	}.Resolve(dev, true)
	format := audio.Format{SampleRate: scfg.SampleRate, Channels: scfg.Channels}
	if !format.Valid() {
		return fmt.Errorf("capture: device %q reports unusable format %s: %w", dev.Name, format, device.ErrDevice)
	}

	enc, err := opus.NewEncoder(audio.CodecSampleRate, opus.SignalVoice)
	if err != nil {
		return fmt.Errorf("capture: create encoder: %w", err)
	}

	var mon *monitor
	var output device.Stream
	if s.cfg.Monitor {
		mon, output = s.openMonitor(ctx, format)
	}

	s.pipe = newPipeline(format, enc, s.out, mon, s.metrics)
	s.cbCtx = context.WithoutCancel(ctx)

	input, err := s.host.OpenInput(dev, scfg, s.callback)
	if err != nil {
		closeQuietly(output)
		return fmt.Errorf("capture: open input %q: %w", dev.Name, wrapDevice(err))
	}
	if err := input.Start(); err != nil {
		closeQuietly(input)
		closeQuietly(output)
		return fmt.Errorf("capture: start input %q: %w", dev.Name, wrapDevice(err))
	}

	s.dev, s.format = dev, format
	s.input, s.output = input, output
	s.state = Streaming
	s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Stop() })
	s.metrics.ActiveCaptures.Add(ctx, 1)

	observe.Logger(ctx).Info("capture started",
		"session_id", s.id,
		"device", dev.Name,
		"format", format.String(),
		"monitor", output != nil,
	)
	return nil
}

func (s *Session) resolveDevice() (device.Info, error) {
	var (
		dev device.Info
		err error
	)
	if s.cfg.Device == "" {
		dev, err = s.host.DefaultInput()
	} else {
		dev, err = s.host.FindInput(s.cfg.Device)
	}
	if err != nil {
		return device.Info{}, fmt.Errorf("capture: select input: %w", wrapDevice(err))
	}
	if !dev.IsInput() {
		return device.Info{}, fmt.Errorf("capture: %q has no input channels: %w", dev.Name, device.ErrDevice)
	}
	return dev, nil
}

// openMonitor opens the loopback stream. Monitoring is a diagnostic aid, so
// a failure is logged and capture proceeds without it.
func (s *Session) openMonitor(ctx context.Context, format audio.Format) (*monitor, device.Stream) {
	log := observe.Logger(ctx)
	outDev, err := s.host.DefaultOutput()
	if err != nil {
		log.Warn("capture: monitor disabled, no output device", "err", err)
		return nil, nil
	}
	maxLen := s.cfg.MonitorMaxPending
	if maxLen <= 0 {
		maxLen = format.SampleRate * format.Channels
	}
	mon := newMonitor(maxLen)
	out, err := s.host.OpenOutput(outDev, device.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, mon.fill)
	if err != nil {
		log.Warn("capture: monitor disabled", "device", outDev.Name, "err", err)
		return nil, nil
	}
	if err := out.Start(); err != nil {
		closeQuietly(out)
		log.Warn("capture: monitor disabled", "device", outDev.Name, "err", err)
		return nil, nil
	}
	return mon, out
}

// callback is invoked by the device for every captured block.
func (s *Session) callback(in []float32) {
	s.callbacks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.report(stageErr(StageCallback, fmt.Errorf("panic: %v", r)))
		}
	}()
	if err := s.pipe.process(s.cbCtx, in); err != nil {
		s.report(err)
	}
}

func (s *Session) report(err error) {
	s.errCount.Add(1)
	stage := StageCallback
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	s.metrics.RecordPipelineError(s.cbCtx, stage)
	slog.Warn("capture callback failed", "session_id", s.id, "stage", stage, "err", err)
	select {
	case s.errs <- err:
	default:
		s.errorsDropped.Add(1)
	}
}

// Stop stops and closes the streams. It is safe to call more than once and
// on a session that never started; afterwards the session is [Stopped].
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return nil
	}
	wasStreaming := s.state == Streaming
	s.state = Stopped
	if s.stopCtx != nil {
		s.stopCtx()
	}
	if !wasStreaming {
		return nil
	}

	var errs []error
	for _, st := range []device.Stream{s.input, s.output} {
		if st == nil {
			continue
		}
		if err := st.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.metrics.ActiveCaptures.Add(s.cbCtx, -1)
	slog.Info("capture stopped",
		"session_id", s.id,
		"device", s.dev.Name,
		"callbacks", s.callbacks.Load(),
		"errors", s.errCount.Load(),
	)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

func wrapDevice(err error) error {
	if errors.Is(err, device.ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", device.ErrDevice, err)
}

func closeQuietly(st device.Stream) {
	if st != nil {
		_ = st.Close()
	}
}
