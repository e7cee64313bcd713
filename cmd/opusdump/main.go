// Command opusdump decodes a length-prefixed Opus stream, as produced by the
// spellcast relay, into a 48 kHz stereo WAV file.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
	"github.com/MrWong99/spellcast/pkg/audio/wavfile"
)

func main() {
	os.Exit(run())
}

func run() int {
	in := flag.String("in", "", "framed Opus stream to read")
	out := flag.String("out", "out.wav", "WAV file to write")
	frameSize := flag.Int("frame-size", opus.DefaultFrameSize, "samples per channel in each packet")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "opusdump: -in is required")
		flag.Usage()
		return 2
	}

	stream, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opusdump: %v\n", err)
		return 1
	}

	dec, err := opus.NewStreamDecoder(audio.CodecSampleRate, *frameSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opusdump: %v\n", err)
		return 1
	}
	samples := dec.Decode(stream)

	format := audio.Format{SampleRate: audio.CodecSampleRate, Channels: audio.CodecChannels}
	if err := wavfile.WriteFile(*out, samples, format); err != nil {
		fmt.Fprintf(os.Stderr, "opusdump: %v\n", err)
		return 1
	}

	st := dec.Stats()
	slog.Info("decoded stream",
		"in", *in,
		"out", *out,
		"packets", st.Decoded+st.Recovered,
		"recovered", st.Recovered,
		"duration", format.Duration(len(samples)),
	)
	return 0
}
