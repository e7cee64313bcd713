package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
)

// ValidBackendNames lists the registered names per registry kind. Used by
// [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"transcription": {BackendNative, BackendServer},
	"audio":         {HostPortAudio},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("server.tick_interval %v must not be negative", cfg.Server.TickInterval))
	}

	// Audio
	validateBackendName("audio", cfg.Audio.Host)
	if cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must not be negative", cfg.Audio.Channels))
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", cfg.Audio.FramesPerBuffer))
	}
	if fs := cfg.Audio.DecodeFrameSize; fs < 0 {
		errs = append(errs, fmt.Errorf("audio.decode_frame_size %d must not be negative", fs))
	} else if legal := opus.FrameSizes(audio.CodecSampleRate); fs != 0 && !slices.Contains(legal, fs) {
		errs = append(errs, fmt.Errorf("audio.decode_frame_size %d is not an Opus frame size at %d Hz; valid values: %v", fs, audio.CodecSampleRate, legal))
	}
	if cfg.Audio.RelayMaxPending < 0 || cfg.Audio.VoiceMaxPending < 0 {
		errs = append(errs, errors.New("audio.relay_max_pending and audio.voice_max_pending must not be negative"))
	}

	// Transcription
	t := cfg.Transcription
	validateBackendName("transcription", t.Backend)
	switch t.Backend {
	case BackendNative:
		if t.ModelPath == "" {
			slog.Warn("transcription.model_path is empty; the native backend needs a model before capture starts")
		}
	case BackendServer:
		if t.ServerURL == "" {
			errs = append(errs, errors.New("transcription.server_url is required for the server backend"))
		}
	}

	// Segmenter
	s := cfg.Segmenter
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold %.3f is out of range [0, 1]", s.SilenceThreshold))
	}
	if s.TailWindowSamples < 0 {
		errs = append(errs, fmt.Errorf("segmenter.tail_window_samples %d must not be negative", s.TailWindowSamples))
	}
	if s.SilenceHoldSamples < 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_hold_samples %d must not be negative", s.SilenceHoldSamples))
	}
	if s.MinBuffer < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_buffer %v must not be negative", s.MinBuffer))
	}
	if s.ReceiveTimeout < 0 {
		errs = append(errs, fmt.Errorf("segmenter.receive_timeout %v must not be negative", s.ReceiveTimeout))
	}

	// Keyword
	k := cfg.Keyword
	if k.PhoneticThreshold < 0 || k.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("keyword.phonetic_threshold %.2f is out of range [0, 1]", k.PhoneticThreshold))
	}
	if k.FuzzyThreshold < 0 || k.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("keyword.fuzzy_threshold %.2f is out of range [0, 1]", k.FuzzyThreshold))
	}
	triggersSeen := make(map[string]int, len(k.Spells))
	for i, sp := range k.Spells {
		prefix := fmt.Sprintf("keyword.spells[%d]", i)
		trigger := normalize(sp.Trigger)
		if trigger == "" {
			errs = append(errs, fmt.Errorf("%s.trigger is required", prefix))
			continue
		}
		if prev, ok := triggersSeen[trigger]; ok {
			errs = append(errs, fmt.Errorf("%s.trigger %q is a duplicate of keyword.spells[%d]", prefix, sp.Trigger, prev))
			continue
		}
		triggersSeen[trigger] = i
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning for names the default registry does not
// know. Custom registries may still provide them.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidBackendNames[kind], name) {
		slog.Warn("unknown backend name; it must be registered explicitly",
			"kind", kind,
			"name", name,
			"known", ValidBackendNames[kind],
		)
	}
}
