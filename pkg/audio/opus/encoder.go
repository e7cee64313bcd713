package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/spellcast/pkg/audio"
)

// Signal selects the encoder tuning for a call site.
type Signal int

const (
	// SignalMusic favours full-bandwidth fidelity. Used on the relay path.
	SignalMusic Signal = iota

	// SignalVoice favours low latency at speech frequencies. Used on the live
	// capture path.
	SignalVoice
)

// String returns the human-readable name of the signal hint.
func (s Signal) String() string {
	switch s {
	case SignalMusic:
		return "music"
	case SignalVoice:
		return "voice"
	default:
		return "unknown"
	}
}

func (s Signal) application() gopus.Application {
	if s == SignalVoice {
		return gopus.Voip
	}
	return gopus.Audio
}

// Encoder encodes interleaved stereo frames at a fixed rate. The underlying
// libopus state adapts across frames, so one Encoder should be used per
// stream. An Encoder is not safe for concurrent use.
type Encoder struct {
	enc    *gopus.Encoder
	rate   int
	signal Signal
}

// NewEncoder creates a stereo encoder for rate with the constant [Bitrate].
func NewEncoder(rate int, signal Signal) (*Encoder, error) {
	if _, ok := frameSizes[rate]; !ok {
		return nil, fmt.Errorf("opus: unsupported sample rate %d: %w", rate, ErrInvalidAudioParameters)
	}
	enc, err := gopus.NewEncoder(rate, Channels, signal.application())
	if err != nil {
		return nil, fmt.Errorf("opus: create %s encoder: %w: %w", signal, ErrCodec, err)
	}
	enc.SetBitrate(Bitrate)
	return &Encoder{enc: enc, rate: rate, signal: signal}, nil
}

// SampleRate returns the input rate the encoder was created for.
func (e *Encoder) SampleRate() int { return e.rate }

// Signal returns the encoder's signal hint.
func (e *Encoder) Signal() Signal { return e.signal }

// EncodeFrame encodes exactly one frame of frameSize*[Channels] samples.
func (e *Encoder) EncodeFrame(frame []float32, frameSize int) (Packet, error) {
	if err := Validate(frame, Channels, e.rate, frameSize); err != nil {
		return nil, err
	}
	if len(frame) != frameSize*Channels {
		return nil, fmt.Errorf("opus: frame has %d samples, want %d: %w", len(frame), frameSize*Channels, ErrInvalidAudioParameters)
	}
	return e.encode(frame, frameSize)
}

// EncodePackets splits samples into non-overlapping frames of frameSize
// per-channel samples and encodes each one. A trailing partial frame is
// dropped, never padded.
func (e *Encoder) EncodePackets(samples []float32, frameSize int) ([]Packet, error) {
	if err := Validate(samples, Channels, e.rate, frameSize); err != nil {
		return nil, err
	}
	step := frameSize * Channels
	packets := make([]Packet, 0, len(samples)/step)
	for off := 0; off+step <= len(samples); off += step {
		pkt, err := e.encode(samples[off:off+step], frameSize)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// EncodeFramed is like [Encoder.EncodePackets] but returns the packets as a
// single framed stream.
func (e *Encoder) EncodeFramed(samples []float32, frameSize int) ([]byte, error) {
	packets, err := e.EncodePackets(samples, frameSize)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, pkt := range packets {
		out, err = AppendFrame(out, pkt)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Encoder) encode(frame []float32, frameSize int) (Packet, error) {
	pkt, err := e.enc.Encode(audio.Float32ToInt16(frame), frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode %d-sample frame: %w: %w", frameSize, ErrCodec, err)
	}
	return Packet(pkt), nil
}

// EncodePackets encodes samples with a fresh music-signal encoder. It is the
// one-shot form of [Encoder.EncodePackets].
func EncodePackets(samples []float32, rate, frameSize int) ([]Packet, error) {
	if err := Validate(samples, Channels, rate, frameSize); err != nil {
		return nil, err
	}
	enc, err := NewEncoder(rate, SignalMusic)
	if err != nil {
		return nil, err
	}
	return enc.EncodePackets(samples, frameSize)
}
