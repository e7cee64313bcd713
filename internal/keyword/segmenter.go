package keyword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/spellcast/internal/lifecycle"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/resilience"
	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/provider/vad"
)

// Config holds the segmentation policy. All sample counts refer to mono
// samples at SampleRate.
type Config struct {
	// SampleRate of the incoming blocks. Default: 16000.
	SampleRate int

	// SilenceThreshold is the RMS level below which a block is silent.
	// Default: 0.015.
	SilenceThreshold float64

	// TailWindow is how many trailing samples of a block are measured.
	// Default: 512.
	TailWindow int

	// SilenceHold is the number of consecutive silent samples that ends an
	// utterance. Default: 4096.
	SilenceHold int

	// MinBuffer is the buffer length, in samples, at which the buffer is
	// evaluated even without a pause. Default: 48000 (3 s).
	MinBuffer int

	// ReceiveTimeout bounds each wait on the input queue, and therefore how
	// long cancellation can go unnoticed. Default: 100ms.
	ReceiveTimeout time.Duration
}

// DefaultConfig returns the default segmentation policy.
func DefaultConfig() Config {
	return Config{
		SampleRate:       audio.TranscriptionSampleRate,
		SilenceThreshold: vad.DefaultThreshold,
		TailWindow:       vad.DefaultWindow,
		SilenceHold:      4096,
		MinBuffer:        3 * audio.TranscriptionSampleRate,
		ReceiveTimeout:   100 * time.Millisecond,
	}
}

// withDefaults replaces zero fields with the defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.TailWindow <= 0 {
		c.TailWindow = d.TailWindow
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = d.SilenceHold
	}
	if c.MinBuffer <= 0 {
		c.MinBuffer = d.MinBuffer
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	return c
}

// Outcome is what [Segmenter.Ingest] did with a block.
type Outcome int

const (
	// Buffered means the block was appended and the buffer kept growing.
	Buffered Outcome = iota
	// Discarded means the buffer was complete but entirely silent.
	Discarded
	// Transcribed means the buffer was transcribed without a match.
	Transcribed
	// Matched means the transcript contained a trigger and a [Detection] was
	// published.
	Matched
	// Failed means the engine returned an error; the buffer was dropped.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Buffered:
		return "buffered"
	case Discarded:
		return "discarded"
	case Transcribed:
		return "transcribed"
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stats is a snapshot of segmenter counters.
type Stats struct {
	Blocks         uint64
	Transcriptions uint64
	Discarded      uint64
	Matches        uint64
	Failures       uint64
}

// Option is a functional option for configuring a [Segmenter].
type Option func(*Segmenter)

// WithMatcher replaces the default literal-only matcher.
func WithMatcher(m *Matcher) Option {
	return func(s *Segmenter) { s.matcher.Store(m) }
}

// WithBreaker replaces the default circuit breaker around the engine.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Segmenter) { s.breaker = cb }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// Segmenter is the keyword worker. It owns the voice buffer: Run and Ingest
// must be called from a single goroutine. Stats may be read concurrently.
type Segmenter struct {
	cfg        Config
	in         *audio.Queue[[]float32]
	engine     stt.Transcriber
	book       *Spellbook
	slot       *Slot[Detection]
	matcher    atomic.Pointer[Matcher]
	breaker    *resilience.CircuitBreaker
	classifier vad.RMSClassifier
	metrics    *observe.Metrics
	now        func() time.Time

	buf     []float32
	silence int

	blocks         atomic.Uint64
	transcriptions atomic.Uint64
	discarded      atomic.Uint64
	matches        atomic.Uint64
	failures       atomic.Uint64
}

// NewSegmenter returns a worker reading mono blocks from in, transcribing with
// engine, matching against book and publishing into slot. Zero config fields
// take their defaults.
func NewSegmenter(cfg Config, in *audio.Queue[[]float32], engine stt.Transcriber, book *Spellbook, slot *Slot[Detection], opts ...Option) *Segmenter {
	cfg = cfg.withDefaults()
	s := &Segmenter{
		cfg:        cfg,
		in:         in,
		engine:     engine,
		book:       book,
		slot:       slot,
		classifier: vad.RMSClassifier{Threshold: cfg.SilenceThreshold, Window: cfg.TailWindow},
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.matcher.Load() == nil {
		s.matcher.Store(NewMatcher())
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "transcription"})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetMatcher swaps the matcher used for subsequent buffers. It is safe to
// call while Run is active.
func (s *Segmenter) SetMatcher(m *Matcher) {
	if m != nil {
		s.matcher.Store(m)
	}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// Run consumes the input queue until tok is cancelled or the queue is closed
// and drained. Cancellation is checked before every receive. A buffer still
// pending on exit is dropped.
func (s *Segmenter) Run(tok *lifecycle.Token) error {
	ctx := tok.Context()
	slog.Debug("keyword worker started", "sample_rate", s.cfg.SampleRate, "min_buffer", s.cfg.MinBuffer)
	defer slog.Debug("keyword worker stopped", "pending_samples", len(s.buf))

	for !tok.Cancelled() {
		block, err := s.in.Pop(s.cfg.ReceiveTimeout)
		switch {
		case errors.Is(err, audio.ErrQueueTimeout):
			continue
		case errors.Is(err, audio.ErrQueueClosed):
			return nil
		case err != nil:
			return fmt.Errorf("keyword: receive: %w", err)
		}
		s.Ingest(ctx, block)
	}
	return nil
}

// Ingest applies the segmentation policy to one block.
//
// The block is appended to the buffer and its tail classified. Silent blocks
// add their length to the consecutive-silence counter; a loud block resets
// it. Once the counter reaches SilenceHold the buffer is evaluated whatever
// its length; otherwise it is only evaluated once it holds MinBuffer
// samples. Evaluation discards a buffer that is silent throughout and
// transcribes anything else. Either way the buffer and the counter start
// over.
func (s *Segmenter) Ingest(ctx context.Context, block []float32) Outcome {
	s.blocks.Add(1)
	s.buf = append(s.buf, block...)

	if s.classifier.IsSilent(block) {
		s.silence += len(block)
	} else {
		s.silence = 0
	}

	held := s.silence >= s.cfg.SilenceHold && len(s.buf) > 0
	if !held && len(s.buf) < s.cfg.MinBuffer {
		return Buffered
	}

	defer s.reset()

	if s.classifier.IsSilentWhole(s.buf) {
		s.discarded.Add(1)
		s.metrics.RecordSegment(ctx, observe.OutcomeDiscarded)
		return Discarded
	}
	return s.evaluate(ctx, s.buf)
}

func (s *Segmenter) reset() {
	s.buf = s.buf[:0]
	s.silence = 0
}

// evaluate transcribes samples and publishes a detection on a match.
func (s *Segmenter) evaluate(ctx context.Context, samples []float32) Outcome {
	ctx, span := observe.StartSpan(ctx, "keyword.transcribe",
		trace.WithAttributes(
			attribute.Int("samples", len(samples)),
			attribute.String("breaker_state", s.breaker.State().String()),
		),
	)
	start := time.Now()
	segs, err := resilience.Call(s.breaker, func() ([]stt.Segment, error) {
		return s.engine.Transcribe(ctx, samples)
	})
	s.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	log := observe.Logger(ctx)
	if err != nil {
		s.failures.Add(1)
		s.metrics.RecordSegment(ctx, observe.OutcomeFailed)
		s.metrics.RecordPipelineError(ctx, "transcribe")
		if errors.Is(err, resilience.ErrCircuitOpen) {
			log.Debug("transcription skipped, engine circuit open", "samples", len(samples))
		} else {
			log.Warn("transcription failed", "err", err, "samples", len(samples))
		}
		return Failed
	}

	s.transcriptions.Add(1)
	s.metrics.RecordSegment(ctx, observe.OutcomeTranscribed)

	text := strings.ToLower(stt.Join(segs))
	log.Debug("transcribed voice buffer", "text", text, "seconds", float64(len(samples))/float64(s.cfg.SampleRate))

	m, ok := s.matcher.Load().Match(text, s.book.Snapshot())
	if !ok {
		return Transcribed
	}
	det := newDetection(m, text, s.now())
	s.slot.Put(det)
	s.matches.Add(1)
	s.metrics.RecordKeywordMatch(ctx, det.Keyword)
	log.Info("keyword detected",
		"keyword", det.Keyword,
		"spell", det.Spell,
		"confidence", det.Confidence,
		"phonetic", det.Phonetic,
	)
	return Matched
}

// Stats returns a snapshot of the counters.
func (s *Segmenter) Stats() Stats {
	return Stats{
		Blocks:         s.blocks.Load(),
		Transcriptions: s.transcriptions.Load(),
		Discarded:      s.discarded.Load(),
		Matches:        s.matches.Load(),
		Failures:       s.failures.Load(),
	}
}
