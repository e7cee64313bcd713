package opus

import (
	"fmt"
	"slices"
	"sync"
)

// DefaultFrameSize is the per-channel frame size used on the live pipeline:
// 10 ms at 48 kHz.
const DefaultFrameSize = 480

// StreamDecoder decodes framed streams produced by a single remote encoder.
// Unlike [Decoder] it is safe for concurrent use, and its frame size can be
// changed between calls to follow the producer's configuration.
type StreamDecoder struct {
	mu        sync.Mutex
	dec       *Decoder
	frameSize int
}

// NewStreamDecoder returns a decoder for rate with frameSize per-channel
// samples per packet.
func NewStreamDecoder(rate, frameSize int) (*StreamDecoder, error) {
	dec, err := NewDecoder(rate)
	if err != nil {
		return nil, err
	}
	s := &StreamDecoder{dec: dec}
	if err := s.SetFrameSize(frameSize); err != nil {
		return nil, err
	}
	return s, nil
}

// SetFrameSize changes the frame size used for subsequent Decode calls. The
// size must be legal at the decoder's rate.
func (s *StreamDecoder) SetFrameSize(frameSize int) error {
	if !slices.Contains(frameSizes[s.dec.rate], frameSize) {
		return fmt.Errorf("opus: frame size %d not legal at %d Hz: %w", frameSize, s.dec.rate, ErrInvalidAudioParameters)
	}
	s.mu.Lock()
	s.frameSize = frameSize
	s.mu.Unlock()
	return nil
}

// FrameSize returns the current per-channel frame size.
func (s *StreamDecoder) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameSize
}

// SampleRate returns the output rate.
func (s *StreamDecoder) SampleRate() int { return s.dec.rate }

// Decode decodes one framed stream into interleaved stereo samples.
func (s *StreamDecoder) Decode(stream []byte) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.DecodeFramed(stream, s.frameSize)
}

// Stats returns the underlying decoder's packet counters.
func (s *StreamDecoder) Stats() DecoderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Stats()
}
