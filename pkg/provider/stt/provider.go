// Package stt defines the Transcriber interface for batch speech-to-text
// engines.
//
// A Transcriber accepts one complete mono utterance at
// [audio.TranscriptionSampleRate] and returns the ordered text segments the
// engine recognised. Recognition is not incremental: the caller decides when
// an utterance is complete (see internal/keyword) and submits it as a whole.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
	"time"
)

// Config is the fixed recognition configuration handed to an engine at
// construction time.
type Config struct {
	// Language is the recognition language code (e.g. "en"). Empty lets the
	// engine auto-detect where supported.
	Language string

	// Threads is the number of CPU threads the engine may use. Zero means the
	// engine default.
	Threads int
}

// Segment is one contiguous piece of recognised text.
type Segment struct {
	Text string

	// Start and End are offsets from the beginning of the submitted buffer.
	// Engines that do not report timing leave them zero.
	Start time.Duration
	End   time.Duration
}

// Transcriber is the abstraction over any batch STT engine.
type Transcriber interface {
	// Transcribe runs recognition over samples, which must be mono float32 at
	// 16 kHz. It returns zero or more segments in order.
	//
	// Returns an error if ctx is cancelled before the engine starts or the
	// engine fails. An empty result with a nil error means nothing was
	// recognised.
	Transcribe(ctx context.Context, samples []float32) ([]Segment, error)
}

// Join concatenates the segment texts separated by single spaces and trims the
// result.
func Join(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
