package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/spellcast/pkg/audio"
)

// Status says whether a decoded block carries real audio.
type Status int

const (
	// Decoded means the packet decoded normally.
	Decoded Status = iota

	// Recovered means the packet could not be decoded and silence of the
	// expected frame length was substituted.
	Recovered
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Recovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// DecodeResult is the outcome of decoding one packet. Samples always holds
// exactly frameSize*[Channels] interleaved samples.
type DecodeResult struct {
	Samples []float32
	Status  Status
	// Err is the decoder error that caused a Recovered result. It is for
	// diagnostics only.
	Err error
}

// DecoderStats counts packets by outcome since the decoder was created.
type DecoderStats struct {
	Decoded   uint64
	Recovered uint64
}

// Decoder turns packets back into interleaved stereo samples. The libopus
// state adapts across packets, so one Decoder should be used per stream. A
// Decoder is not safe for concurrent use.
type Decoder struct {
	dec   *gopus.Decoder
	rate  int
	stats DecoderStats
}

// NewDecoder creates a stereo decoder producing samples at rate.
func NewDecoder(rate int) (*Decoder, error) {
	if _, ok := frameSizes[rate]; !ok {
		return nil, fmt.Errorf("opus: unsupported sample rate %d: %w", rate, ErrInvalidAudioParameters)
	}
	dec, err := gopus.NewDecoder(rate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w: %w", ErrCodec, err)
	}
	return &Decoder{dec: dec, rate: rate}, nil
}

// SampleRate returns the output rate of the decoder.
func (d *Decoder) SampleRate() int { return d.rate }

// Stats returns the packet counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// DecodePacket decodes one packet that encodes frameSize per-channel samples.
// It never fails: an empty, corrupt or incompatible packet yields silence with
// Status Recovered. A packet that decodes to a different duration than
// frameSize is padded with silence or truncated so the output length always
// matches the expected frame.
func (d *Decoder) DecodePacket(pkt Packet, frameSize int) DecodeResult {
	if frameSize <= 0 {
		d.stats.Recovered++
		return DecodeResult{Samples: []float32{}, Status: Recovered,
			Err: fmt.Errorf("opus: frame size %d: %w", frameSize, ErrInvalidAudioParameters)}
	}
	want := frameSize * Channels
	if len(pkt) == 0 {
		d.stats.Recovered++
		return DecodeResult{Samples: make([]float32, want), Status: Recovered,
			Err: fmt.Errorf("opus: empty packet: %w", ErrCodec)}
	}

	pcm, err := d.dec.Decode(pkt, frameSize, false)
	if err != nil {
		d.stats.Recovered++
		return DecodeResult{Samples: make([]float32, want), Status: Recovered,
			Err: fmt.Errorf("opus: decode %d-byte packet: %w: %w", len(pkt), ErrCodec, err)}
	}

	out := make([]float32, want)
	copy(out, audio.Int16ToFloat32(pcm))
	d.stats.Decoded++
	return DecodeResult{Samples: out, Status: Decoded}
}

// DecodePackets decodes each packet in order and concatenates the results.
// The output always holds len(packets)*frameSize*[Channels] samples.
func (d *Decoder) DecodePackets(packets []Packet, frameSize int) []float32 {
	out := make([]float32, 0, len(packets)*max(frameSize, 0)*Channels)
	for _, pkt := range packets {
		out = append(out, d.DecodePacket(pkt, frameSize).Samples...)
	}
	return out
}

// DecodeFramed decodes a framed stream. Decoding stops at the first tuple
// whose declared length exceeds the remaining bytes.
func (d *Decoder) DecodeFramed(stream []byte, frameSize int) []float32 {
	return d.DecodePackets(SplitFramed(stream), frameSize)
}

// DecodePackets decodes packets with a fresh decoder. It is the one-shot form
// of [Decoder.DecodePackets].
func DecodePackets(packets []Packet, rate, frameSize int) ([]float32, error) {
	dec, err := NewDecoder(rate)
	if err != nil {
		return nil, err
	}
	return dec.DecodePackets(packets, frameSize), nil
}
