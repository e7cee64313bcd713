// Package wavfile reads and writes 16-bit PCM WAV files from float32 sample
// blocks using github.com/go-audio/wav.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/spellcast/pkg/audio"
)

const bitDepth = 16

// ErrInvalidFile is returned by [Read] when the input is not a PCM WAV file.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM WAV file")

// Write encodes samples as a 16-bit PCM WAV stream.
func Write(w io.WriteSeeker, samples []float32, f audio.Format) error {
	if !f.Valid() {
		return fmt.Errorf("wavfile: invalid format %s", f)
	}
	pcm := audio.Float32ToInt16(samples)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range pcm {
		buf.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, f.SampleRate, bitDepth, f.Channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("wavfile: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalize: %w", err)
	}
	return nil
}

// WriteFile creates path and writes samples to it.
func WriteFile(path string, samples []float32, f audio.Format) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	if err := Write(out, samples, f); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Read decodes a PCM WAV stream into normalised float32 samples.
func Read(r io.ReadSeeker) ([]float32, audio.Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, audio.Format{}, ErrInvalidFile
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: read pcm: %w", err)
	}
	f := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if !f.Valid() {
		return nil, audio.Format{}, ErrInvalidFile
	}

	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = bitDepth
	}
	scale := float32(int64(1) << (depth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out, f, nil
}

// ReadFile opens path and decodes it.
func ReadFile(path string) ([]float32, audio.Format, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer in.Close()
	return Read(in)
}
