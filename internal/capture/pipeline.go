package capture

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
)

// Pipeline stages reported in [StageError].
const (
	StageResample = "resample"
	StageEncode   = "encode"
	StageVoice    = "voice"
	StageCallback = "callback"
)

// StageError is a failure inside one capture callback. The callback that
// produced it was abandoned; later callbacks run normally.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("capture: %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// pipeline converts raw device blocks into relay packets and voice blocks.
// process runs on the device callback goroutine only.
type pipeline struct {
	in      audio.Format
	enc     *opus.Encoder
	relay   *audio.Queue[[]byte]
	voice   *audio.Queue[[]float32]
	monitor *monitor
	metrics *observe.Metrics

	// pending holds 48 kHz stereo samples not yet forming a whole frame.
	pending []float32

	relayDropped uint64
	voiceDropped uint64

	packets     atomic.Uint64
	voiceBlocks atomic.Uint64

	formatOnce sync.Once
}

func newPipeline(in audio.Format, enc *opus.Encoder, out Outputs, mon *monitor, m *observe.Metrics) *pipeline {
	return &pipeline{
		in:      in,
		enc:     enc,
		relay:   out.Relay,
		voice:   out.Voice,
		monitor: mon,
		metrics: m,
		pending: make([]float32, 0, 4*opus.DefaultFrameSize*opus.Channels),
	}
}

// process handles one device block. On error the remaining steps for this
// block are skipped.
func (p *pipeline) process(ctx context.Context, raw []float32) error {
	start := time.Now()
	defer func() { p.metrics.CallbackDuration.Record(ctx, time.Since(start).Seconds()) }()

	p.formatOnce.Do(func() {
		if p.in.SampleRate != audio.CodecSampleRate || p.in.Channels != audio.CodecChannels {
			slog.Info("capture: converting device audio",
				"from", p.in.String(),
				"relay", audio.Format{SampleRate: audio.CodecSampleRate, Channels: audio.CodecChannels}.String(),
				"voice", audio.Format{SampleRate: audio.TranscriptionSampleRate, Channels: 1}.String(),
			)
		}
	})

	// The device reuses its buffer after the callback returns.
	block := slices.Clone(raw)

	if p.monitor != nil {
		p.monitor.write(block)
	}

	if err := p.relayPath(ctx, block); err != nil {
		return err
	}
	return p.voicePath(ctx, block)
}

func (p *pipeline) relayPath(ctx context.Context, block []float32) error {
	hi, err := audio.ResampleLinear(block, p.in.Channels, p.in.SampleRate, audio.CodecSampleRate)
	if err != nil {
		return stageErr(StageResample, err)
	}
	stereo, err := audio.Remix(hi, p.in.Channels, opus.Channels)
	if err != nil {
		return stageErr(StageResample, err)
	}
	p.pending = append(p.pending, stereo...)

	frame := opus.DefaultFrameSize * opus.Channels
	off := 0
	var encodeErr error
	for len(p.pending)-off >= frame {
		pkt, err := p.enc.EncodeFrame(p.pending[off:off+frame], opus.DefaultFrameSize)
		off += frame
		if err != nil {
			encodeErr = stageErr(StageEncode, err)
			break
		}
		framed, err := opus.AppendFrame(make([]byte, 0, len(pkt)+2), pkt)
		if err != nil {
			encodeErr = stageErr(StageEncode, err)
			break
		}
		p.relay.Push(framed)
		p.packets.Add(1)
		p.metrics.PacketsEncoded.Add(ctx, 1)
	}
	n := copy(p.pending, p.pending[off:])
	p.pending = p.pending[:n]

	p.relayDropped = p.recordDrops(ctx, "relay", p.relay.Dropped(), p.relayDropped)
	return encodeErr
}

func (p *pipeline) voicePath(ctx context.Context, block []float32) error {
	mono := audio.DownmixMono(block, p.in.Channels)
	v, err := audio.ResampleLinear(mono, 1, p.in.SampleRate, audio.TranscriptionSampleRate)
	if err != nil {
		return stageErr(StageVoice, err)
	}
	p.voice.Push(v)
	p.voiceBlocks.Add(1)
	p.voiceDropped = p.recordDrops(ctx, "voice", p.voice.Dropped(), p.voiceDropped)
	return nil
}

func (p *pipeline) recordDrops(ctx context.Context, queue string, now, last uint64) uint64 {
	if now > last {
		p.metrics.RecordQueueDrops(ctx, queue, int64(now-last))
	}
	return now
}
