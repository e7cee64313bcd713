// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to script the segments an engine returns and to inspect
// which buffers were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Segments: []stt.Segment{{Text: "Cast Fireball"}},
//	}
//	segs, _ := tr.Transcribe(ctx, samples)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the buffer passed to Transcribe.
	Samples []float32
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Segments is returned by every call unless Fn is set.
	Segments []stt.Segment

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Fn, if set, computes the result instead of Segments and Err. It is
	// called without the mock's lock held.
	Fn func(ctx context.Context, samples []float32) ([]stt.Segment, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	// CloseErr, if non-nil, is returned from Close.
	CloseErr error

	closed bool

	// notify is signalled after every recorded call.
	notify chan struct{}
}

// Transcribe records the call and returns the scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32) ([]stt.Segment, error) {
	m.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	m.Calls = append(m.Calls, TranscribeCall{Samples: cp})
	fn, segs, err := m.Fn, m.Segments, m.Err
	ch := m.notify
	m.mu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	if fn != nil {
		return fn(ctx, samples)
	}
	return segs, err
}

// Called returns a channel that receives a value after each Transcribe call.
// Sends are non-blocking, so a slow reader may miss notifications; use
// CallCount for exact numbers.
func (m *Transcriber) Called() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notify == nil {
		m.notify = make(chan struct{}, 16)
	}
	return m.notify
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SetResult replaces Segments and Err. Thread-safe.
func (m *Transcriber) SetResult(segs []stt.Segment, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Segments, m.Err = segs, err
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Close marks the engine closed and returns CloseErr. Thread-safe.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// Closed reports whether Close has been called. Thread-safe.
func (m *Transcriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
