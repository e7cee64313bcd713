// Package app is the host integration boundary of spellcast.
//
// An [App] owns the whole pipeline. InitAudio starts the keyword worker and
// the capture session; the host then calls Tick from its own loop (or lets
// Run do it) to receive cast events carrying the matched spell and speak
// events carrying framed Opus packets. Device listing and selection, the
// input sample rate and a decode-only entry point round out the surface.
//
// For testing, inject a mock device host and transcriber through
// [Providers]; when they are shared with other tests, use [WithMetrics] to
// keep measurements isolated.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/spellcast/internal/capture"
	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/internal/health"
	"github.com/MrWong99/spellcast/internal/keyword"
	"github.com/MrWong99/spellcast/internal/lifecycle"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/resilience"
	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/device"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

// speakPollTimeout bounds how long Tick waits for an encoded packet.
const speakPollTimeout = time.Millisecond

var (
	// ErrAlreadyRunning is returned by InitAudio while a pipeline is active.
	ErrAlreadyRunning = errors.New("app: audio pipeline already running")

	// ErrShutdown is returned by operations on an App that has been shut down.
	ErrShutdown = errors.New("app: shut down")
)

// Providers holds the collaborators the pipeline is built from. Populated by
// main via the config registry.
type Providers struct {
	// Host enumerates devices and opens streams. Required.
	Host device.Host

	// NewTranscriber builds the engine for a model path when InitAudio runs.
	// Required.
	NewTranscriber func(modelPath string) (stt.Transcriber, error)
}

// CastHandler receives a keyword detection. Detection.Spell is the payload
// registered for the matched trigger.
type CastHandler func(keyword.Detection)

// SpeakHandler receives one framed Opus packet.
type SpeakHandler func(packet []byte)

// ErrorHandler receives errors reported by the capture callback.
type ErrorHandler func(error)

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// App owns all subsystem lifetimes. Tick, PollCast and PollSpeak are meant to
// be called from the host's own goroutine; every other method is safe for
// concurrent use.
type App struct {
	cfg       *config.Config
	providers Providers
	metrics   *observe.Metrics
	now       func() time.Time

	book    *keyword.Spellbook
	slot    *keyword.Slot[keyword.Detection]
	relay   *audio.Queue[[]byte]
	decoder *opus.StreamDecoder
	breaker *resilience.CircuitBreaker

	handlersMu sync.RWMutex
	onCast     CastHandler
	onSpeak    SpeakHandler
	onError    ErrorHandler

	mu        sync.Mutex
	runCtx    context.Context
	token     *lifecycle.Token
	worker    *lifecycle.Worker
	segmenter *keyword.Segmenter
	engine    stt.Transcriber
	voice     *audio.Queue[[]float32]
	session   *capture.Session
	selected  string
	shutdown  bool

	stopOnce sync.Once
}

// New creates an App from cfg after applying defaults and validating it. The
// pipeline does not run until InitAudio. Spells listed in cfg are registered
// in order.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if providers.Host == nil {
		return nil, errors.New("app: device host is required")
	}
	if providers.NewTranscriber == nil {
		return nil, errors.New("app: transcriber factory is required")
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
		slot:      &keyword.Slot[keyword.Detection]{},
		relay:     audio.NewQueue[[]byte](cfg.Audio.RelayMaxPending),
		selected:  cfg.Audio.InputDevice,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	book, err := keyword.NewSpellbook(spellsFromConfig(cfg.Keyword.Spells)...)
	if err != nil {
		return nil, fmt.Errorf("app: load spells: %w", err)
	}
	a.book = book

	dec, err := opus.NewStreamDecoder(audio.CodecSampleRate, cfg.Audio.DecodeFrameSize)
	if err != nil {
		return nil, fmt.Errorf("app: create decoder: %w", err)
	}
	a.decoder = dec

	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "transcription",
		MaxFailures:  cfg.Transcription.Breaker.MaxFailures,
		ResetTimeout: cfg.Transcription.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("transcription breaker state changed", "name", name, "from", from, "to", to)
		},
	})
	return a, nil
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// OnCast sets the handler Tick invokes for each detection. Nil clears it.
func (a *App) OnCast(h CastHandler) {
	a.handlersMu.Lock()
	a.onCast = h
	a.handlersMu.Unlock()
}

// OnSpeak sets the handler Tick invokes for each encoded packet.
func (a *App) OnSpeak(h SpeakHandler) {
	a.handlersMu.Lock()
	a.onSpeak = h
	a.handlersMu.Unlock()
}

// OnError sets the handler Tick invokes for capture errors.
func (a *App) OnError(h ErrorHandler) {
	a.handlersMu.Lock()
	a.onError = h
	a.handlersMu.Unlock()
}

// ─── Spells ──────────────────────────────────────────────────────────────────

// RegisterSpellTrigger maps trigger to spell. It takes effect for the next
// transcribed buffer, including while the pipeline runs.
func (a *App) RegisterSpellTrigger(trigger, spell string) error {
	if err := a.book.Register(trigger, spell); err != nil {
		return fmt.Errorf("app: register spell trigger: %w", err)
	}
	slog.Debug("spell trigger registered", "trigger", keyword.NormalizeTrigger(trigger), "spell", spell)
	return nil
}

// Spellbook returns the live trigger registry.
func (a *App) Spellbook() *keyword.Spellbook { return a.book }

// ─── Pipeline ────────────────────────────────────────────────────────────────

// InitAudio builds the transcription engine from modelPath, starts the
// keyword worker and starts capturing from the selected device. The pipeline
// runs until ctx is done or Shutdown is called.
//
// A device failure is returned and nothing is left running.
func (a *App) InitAudio(ctx context.Context, modelPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return ErrShutdown
	}
	if a.token != nil && !a.token.Cancelled() && a.worker != nil && !a.worker.Finished() {
		return ErrAlreadyRunning
	}
	a.teardown()

	engine, err := a.providers.NewTranscriber(modelPath)
	if err != nil {
		return fmt.Errorf("app: init transcriber: %w", err)
	}

	voice := audio.NewQueue[[]float32](a.cfg.Audio.VoiceMaxPending)
	tok := lifecycle.NewWithParent(ctx)
	seg := keyword.NewSegmenter(segmenterConfig(a.cfg.Segmenter), voice, engine, a.book, a.slot,
		keyword.WithMatcher(matcherFromConfig(a.cfg.Keyword)),
		keyword.WithBreaker(a.breaker),
		keyword.WithMetrics(a.metrics),
		keyword.WithClock(a.now),
	)

	session, err := a.startCapture(ctx, a.selected, voice)
	if err != nil {
		tok.Cancel()
		voice.Close()
		closeEngine(engine)
		return err
	}

	a.runCtx = ctx
	a.token = tok
	a.voice = voice
	a.engine = engine
	a.segmenter = seg
	a.session = session
	a.worker = lifecycle.Go("keyword", func() error { return seg.Run(tok) })

	slog.Info("audio pipeline started",
		"device", session.Device().Name,
		"format", session.Format(),
		"model", modelPath,
		"spells", a.book.Len(),
	)
	return nil
}

// teardown stops whatever is left of a previous pipeline without blocking.
// It must be called with a.mu held.
func (a *App) teardown() {
	session, tok, voice, worker, engine := a.session, a.token, a.voice, a.worker, a.engine
	a.session, a.token, a.voice, a.worker, a.engine, a.segmenter = nil, nil, nil, nil, nil, nil

	if session != nil {
		if err := session.Stop(); err != nil {
			slog.Warn("error stopping previous capture session", "err", err)
		}
	}
	if tok != nil {
		tok.Cancel()
	}
	if voice != nil {
		voice.Close()
	}
	done, cancel := context.WithCancel(context.Background())
	cancel()
	_ = release(done, worker, engine)
}

// startCapture must be called with a.mu held.
func (a *App) startCapture(ctx context.Context, deviceName string, voice *audio.Queue[[]float32]) (*capture.Session, error) {
	session, err := capture.New(a.providers.Host, capture.Config{
		Device:          deviceName,
		Channels:        a.cfg.Audio.Channels,
		FramesPerBuffer: a.cfg.Audio.FramesPerBuffer,
		Monitor:         a.cfg.Audio.Monitor,
	}, capture.Outputs{Relay: a.relay, Voice: voice}, capture.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: create capture session: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start capture: %w", err)
	}
	return session, nil
}

// running must be called with a.mu held.
func (a *App) running() bool {
	return a.session != nil && a.session.State() == capture.Streaming
}

// Tick delivers pending events to the registered handlers: at most one
// detection, every packet in the relay queue, and any capture errors. Events
// without a handler stay queued for PollCast and PollSpeak. Tick also reaps
// the keyword worker once it has exited and logs how it ended.
func (a *App) Tick() {
	a.handlersMu.RLock()
	onCast, onSpeak, onError := a.onCast, a.onSpeak, a.onError
	a.handlersMu.RUnlock()

	if onCast != nil {
		if det, ok := a.slot.TryTake(); ok && det.Spell != "" {
			onCast(det)
		}
	}

	if onSpeak != nil {
		if pkt, err := a.relay.Pop(speakPollTimeout); err == nil {
			for ok := true; ok; pkt, ok = a.relay.TryPop() {
				onSpeak(pkt)
			}
		}
	}

	a.mu.Lock()
	session, worker := a.session, a.worker
	if worker != nil && worker.Finished() {
		a.worker = nil
	} else {
		worker = nil
	}
	a.mu.Unlock()

	if session != nil {
		a.drainErrors(session, onError)
	}
	if worker != nil {
		reap(worker)
	}
}

func (a *App) drainErrors(session *capture.Session, onError ErrorHandler) {
	for {
		select {
		case err := <-session.Errors():
			if onError != nil {
				onError(err)
			}
		default:
			return
		}
	}
}

// reap logs the result of a finished worker.
func reap(w *lifecycle.Worker) {
	err := w.Err()
	var pe *lifecycle.PanicError
	switch {
	case errors.As(err, &pe):
		slog.Error("worker panicked", "worker", pe.Worker, "panic", pe.Value, "stack", string(pe.Stack))
	case err != nil:
		slog.Error("worker failed", "worker", w.Name(), "err", err)
	default:
		slog.Info("worker finished normally", "worker", w.Name())
	}
}

// WorkerAlive reports whether the keyword worker is running.
func (a *App) WorkerAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.worker != nil && !a.worker.Finished()
}

// CaptureState returns the state of the current capture session. Before
// InitAudio it is [capture.Idle].
func (a *App) CaptureState() capture.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return capture.Idle
	}
	return a.session.State()
}

// Stats returns the current segmenter counters, or zero before InitAudio.
func (a *App) Stats() keyword.Stats {
	a.mu.Lock()
	seg := a.segmenter
	a.mu.Unlock()
	if seg == nil {
		return keyword.Stats{}
	}
	return seg.Stats()
}

// Checkers returns readiness checks for the capture session, the keyword
// worker and the transcription breaker.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		health.StateChecker("capture", a.CaptureState, capture.Streaming),
		health.StateChecker("keyword_worker", a.WorkerAlive, true),
		health.BreakerChecker(a.breaker),
	}
}

// PollCast returns the pending detection, if any, without going through the
// cast handler.
func (a *App) PollCast() (keyword.Detection, bool) {
	return a.slot.Take()
}

// PollSpeak waits up to timeout for the next framed packet. It returns
// [audio.ErrQueueTimeout] when nothing arrived.
func (a *App) PollSpeak(timeout time.Duration) ([]byte, error) {
	return a.relay.Pop(timeout)
}

// Run calls Tick every server.tick_interval until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Server.TickInterval)
	defer ticker.Stop()

	slog.Info("app running", "tick_interval", a.cfg.Server.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Tick()
		}
	}
}

// ─── Devices ─────────────────────────────────────────────────────────────────

// ListInputDevices returns the names of all capture devices.
func (a *App) ListInputDevices() ([]string, error) {
	devs, err := a.providers.Host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("app: list input devices: %w", err)
	}
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names, nil
}

// CurrentInputDevice returns the name of the device being captured from, or
// of the device that would be used by the next InitAudio.
func (a *App) CurrentInputDevice() (string, error) {
	dev, err := a.currentDevice()
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

// SampleRate returns the native sample rate of the current input device.
func (a *App) SampleRate() (int, error) {
	a.mu.Lock()
	if a.running() {
		rate := a.session.Format().SampleRate
		a.mu.Unlock()
		return rate, nil
	}
	a.mu.Unlock()

	dev, err := a.currentDevice()
	if err != nil {
		return 0, err
	}
	return dev.DefaultSampleRate, nil
}

func (a *App) currentDevice() (device.Info, error) {
	a.mu.Lock()
	if a.running() {
		dev := a.session.Device()
		a.mu.Unlock()
		return dev, nil
	}
	name := a.selected
	a.mu.Unlock()

	var (
		dev device.Info
		err error
	)
	if name == "" {
		dev, err = a.providers.Host.DefaultInput()
	} else {
		dev, err = a.providers.Host.FindInput(name)
	}
	if err != nil {
		return device.Info{}, fmt.Errorf("app: resolve input device: %w", err)
	}
	return dev, nil
}

// SelectInputDevice makes name the capture device. If capture is running it
// is restarted on the new device; the keyword worker keeps its state. When
// the new device fails to start, the previous device is restored.
func (a *App) SelectInputDevice(name string) error {
	if _, err := a.providers.Host.FindInput(name); err != nil {
		return fmt.Errorf("app: select input device: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return ErrShutdown
	}
	prev := a.selected
	a.selected = name
	if !a.running() {
		slog.Info("input device selected", "device", name)
		return nil
	}

	old := a.session
	if err := old.Stop(); err != nil {
		slog.Warn("error stopping capture for device change", "err", err)
	}

	session, err := a.startCapture(a.runCtx, name, a.voice)
	if err != nil {
		a.selected = prev
		restored, rerr := a.startCapture(a.runCtx, prev, a.voice)
		if rerr != nil {
			a.session = old
			return errors.Join(err, fmt.Errorf("app: restore previous device: %w", rerr))
		}
		a.session = restored
		return err
	}
	a.session = session
	slog.Info("input device changed, capture restarted",
		"device", session.Device().Name,
		"format", session.Format(),
	)
	return nil
}

// ─── Decoding ────────────────────────────────────────────────────────────────

// DecodeAudio decodes a framed stream into interleaved 48 kHz stereo samples.
// Undecodable packets become silence; the output length is always the packet
// count times the frame size times two.
func (a *App) DecodeAudio(encoded []byte) []float32 {
	before := a.decoder.Stats().Recovered
	out := a.decoder.Decode(encoded)
	if n := a.decoder.Stats().Recovered - before; n > 0 {
		a.metrics.DecodeRecoveries.Add(context.Background(), int64(n))
	}
	return out
}

// SetDecodeFrameSize changes the per-channel frame size DecodeAudio assumes.
func (a *App) SetDecodeFrameSize(frameSize int) error {
	if err := a.decoder.SetFrameSize(frameSize); err != nil {
		return fmt.Errorf("app: set decode frame size: %w", err)
	}
	return nil
}

// DecodeFrameSize returns the frame size DecodeAudio assumes.
func (a *App) DecodeFrameSize() int { return a.decoder.FrameSize() }

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: the spell list and
// the matcher settings. Settings that need a restart are logged and left
// as they were.
func (a *App) ApplyConfig(next *config.Config) error {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if d.SpellsChanged {
		if err := a.book.Replace(spellsFromConfig(next.Keyword.Spells)); err != nil {
			return fmt.Errorf("app: reload spells: %w", err)
		}
		slog.Info("spellbook reloaded", "spells", a.book.Len(), "changes", len(d.SpellChanges))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if d.MatcherChanged {
		if a.segmenter != nil {
			a.segmenter.SetMatcher(matcherFromConfig(next.Keyword))
		}
		slog.Info("keyword matcher reconfigured", "phonetic", next.Keyword.Phonetic)
	}
	if !d.HotReloadable() {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}

	// Keep the settings that were not applied so the next diff sees them
	// again.
	merged := *prev
	merged.Server.LogLevel = next.Server.LogLevel
	merged.Keyword = next.Keyword
	a.cfg = &merged
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, stops the keyword worker and releases the engine.
// It respects the context deadline while waiting for the worker. Calling
// Shutdown more than once is safe.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.shutdown = true
		session, tok, voice, worker, engine := a.session, a.token, a.voice, a.worker, a.engine
		a.worker = nil
		a.mu.Unlock()

		slog.Info("shutting down")
		var errs []error
		if session != nil {
			if err := session.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("app: stop capture: %w", err))
			}
		}
		if tok != nil {
			tok.Cancel()
		}
		if voice != nil {
			voice.Close()
		}
		if err := release(ctx, worker, engine); err != nil {
			slog.Warn("shutdown deadline exceeded waiting for worker", "worker", worker.Name())
			errs = append(errs, err)
		}
		a.relay.Close()

		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// release closes engine once worker has exited. If ctx ends first the engine
// is closed in the background after the worker returns, and ctx.Err() is
// returned.
func release(ctx context.Context, worker *lifecycle.Worker, engine stt.Transcriber) error {
	if worker == nil {
		closeEngine(engine)
		return nil
	}
	if err := worker.Wait(ctx); err != nil && !worker.Finished() {
		go func() {
			<-worker.Done()
			reap(worker)
			closeEngine(engine)
		}()
		return err
	}
	reap(worker)
	closeEngine(engine)
	return nil
}

func closeEngine(engine stt.Transcriber) {
	if c, ok := engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("error closing transcription engine", "err", err)
		}
	}
}

func spellsFromConfig(in []config.SpellConfig) []keyword.Spell {
	out := make([]keyword.Spell, 0, len(in))
	for _, sp := range in {
		out = append(out, keyword.Spell{Trigger: sp.Trigger, Payload: sp.Spell})
	}
	return out
}

func matcherFromConfig(k config.KeywordConfig) *keyword.Matcher {
	return keyword.NewMatcher(
		keyword.WithPhonetic(k.Phonetic),
		keyword.WithPhoneticThreshold(k.PhoneticThreshold),
		keyword.WithFuzzyThreshold(k.FuzzyThreshold),
	)
}

// segmenterConfig converts durations to 16 kHz sample counts.
func segmenterConfig(s config.SegmenterConfig) keyword.Config {
	rate := audio.TranscriptionSampleRate
	return keyword.Config{
		SampleRate:       rate,
		SilenceThreshold: s.SilenceThreshold,
		TailWindow:       s.TailWindowSamples,
		SilenceHold:      s.SilenceHoldSamples,
		MinBuffer:        int(s.MinBuffer.Seconds() * float64(rate)),
		ReceiveTimeout:   s.ReceiveTimeout,
	}
}
