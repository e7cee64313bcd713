// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/spellcast/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using the whisper.cpp Go bindings. The
// model is loaded once and shared; every Transcribe call gets its own
// whisper context so concurrent calls do not interfere.
//
// Decoding uses the bindings' default greedy strategy.
type Native struct {
	model    whisperlib.Model
	language string
	threads  int
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Defaults
// to 2.
func WithNativeThreads(threads int) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
		threads:  defaultThreads,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// NewNativeFromConfig is NewNative with options taken from cfg. Zero fields
// keep the defaults.
func NewNativeFromConfig(modelPath string, cfg stt.Config) (*Native, error) {
	var opts []NativeOption
	if cfg.Language != "" {
		opts = append(opts, WithNativeLanguage(cfg.Language))
	}
	if cfg.Threads > 0 {
		opts = append(opts, WithNativeThreads(cfg.Threads))
	}
	return NewNative(modelPath, opts...)
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over samples using a fresh context.
// Inference itself cannot be interrupted; ctx is checked before it starts.
func (n *Native) Transcribe(ctx context.Context, samples []float32) ([]stt.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(uint(n.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, stt.Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	return segments, nil
}
