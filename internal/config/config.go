// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for spellcast.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding [slog.Level]. Unknown levels map to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Transcription backends known to the default registry.
const (
	// BackendNative runs whisper.cpp in-process through its Go bindings.
	BackendNative = "native"

	// BackendServer posts audio to a whisper.cpp HTTP server.
	BackendServer = "server"
)

// Audio hosts known to the default registry.
const (
	HostPortAudio = "portaudio"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Keyword       KeywordConfig       `yaml:"keyword"`
}

// ServerConfig holds the diagnostic HTTP endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TickInterval is the host tick period of the headless runner.
	// Default: 10ms.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// AudioConfig selects the capture device and the codec framing.
type AudioConfig struct {
	// Host selects the registered device host. Default: "portaudio".
	Host string `yaml:"host"`

	// InputDevice is the capture device name. Empty selects the system
	// default.
	InputDevice string `yaml:"input_device"`

	// Channels requested from the capture device. 0 means min(device max, 2).
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the device block size. 0 lets the host choose.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// Monitor loops the captured audio back to the default output device.
	Monitor bool `yaml:"monitor"`

	// DecodeFrameSize is the per-packet frame size assumed when decoding
	// framed streams at 48 kHz. Default: 480.
	DecodeFrameSize int `yaml:"decode_frame_size"`

	// RelayMaxPending bounds the encoded-packet queue; the oldest packet is
	// dropped on overflow. 0 means unbounded.
	RelayMaxPending int `yaml:"relay_max_pending"`

	// VoiceMaxPending bounds the voice-block queue. 0 means unbounded.
	VoiceMaxPending int `yaml:"voice_max_pending"`
}

// TranscriptionConfig selects and tunes the speech-to-text engine.
type TranscriptionConfig struct {
	// Backend selects the registered transcriber. Default: "native".
	Backend string `yaml:"backend"`

	// ModelPath is the whisper model file for the native backend.
	ModelPath string `yaml:"model_path"`

	// ServerURL is the whisper.cpp server base URL for the server backend.
	ServerURL string `yaml:"server_url"`

	// Model is forwarded to the server backend.
	Model string `yaml:"model"`

	// Language is a BCP-47 code. Default: "en".
	Language string `yaml:"language"`

	// Threads used by the native backend. Default: 2.
	Threads int `yaml:"threads"`

	// Breaker tunes the circuit breaker around the engine.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SegmenterConfig is the silence-gated buffering policy. Sample counts refer
// to 16 kHz mono samples.
type SegmenterConfig struct {
	// SilenceThreshold is the RMS level below which audio is silent.
	// Default: 0.015.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// TailWindowSamples is how much of each block's tail is measured.
	// Default: 512.
	TailWindowSamples int `yaml:"tail_window_samples"`

	// SilenceHoldSamples of consecutive silence end an utterance.
	// Default: 4096.
	SilenceHoldSamples int `yaml:"silence_hold_samples"`

	// MinBuffer is the buffered duration that is transcribed even without a
	// pause. Default: 3s.
	MinBuffer time.Duration `yaml:"min_buffer"`

	// ReceiveTimeout bounds each wait for the next block. Default: 100ms.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// KeywordConfig holds the trigger phrases and matching options. Hot-reloadable.
type KeywordConfig struct {
	// Phonetic enables the Double Metaphone / Jaro-Winkler fallback.
	Phonetic bool `yaml:"phonetic"`

	// PhoneticThreshold is the minimum similarity for a phonetic match.
	// Default: 0.70.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum similarity without phonetic overlap.
	// Default: 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// Spells maps trigger phrases to spell payloads, in match priority order.
	Spells []SpellConfig `yaml:"spells"`
}

// SpellConfig registers one trigger phrase.
type SpellConfig struct {
	// Trigger is the phrase listened for (case-insensitive).
	Trigger string `yaml:"trigger"`

	// Spell is the payload emitted on a match. Defaults to the trigger.
	Spell string `yaml:"spell"`
}

// ApplyDefaults fills every zero field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.TickInterval <= 0 {
		cfg.Server.TickInterval = 10 * time.Millisecond
	}

	if cfg.Audio.Host == "" {
		cfg.Audio.Host = HostPortAudio
	}
	if cfg.Audio.DecodeFrameSize == 0 {
		cfg.Audio.DecodeFrameSize = 480
	}

	t := &cfg.Transcription
	if t.Backend == "" {
		t.Backend = BackendNative
	}
	if t.Language == "" {
		t.Language = "en"
	}
	if t.Threads <= 0 {
		t.Threads = 2
	}
	if t.Breaker.MaxFailures <= 0 {
		t.Breaker.MaxFailures = 5
	}
	if t.Breaker.ResetTimeout <= 0 {
		t.Breaker.ResetTimeout = 30 * time.Second
	}

	s := &cfg.Segmenter
	if s.SilenceThreshold == 0 {
		s.SilenceThreshold = 0.015
	}
	if s.TailWindowSamples == 0 {
		s.TailWindowSamples = 512
	}
	if s.SilenceHoldSamples == 0 {
		s.SilenceHoldSamples = 4096
	}
	if s.MinBuffer == 0 {
		s.MinBuffer = 3 * time.Second
	}
	if s.ReceiveTimeout == 0 {
		s.ReceiveTimeout = 100 * time.Millisecond
	}

	k := &cfg.Keyword
	if k.PhoneticThreshold == 0 {
		k.PhoneticThreshold = 0.70
	}
	if k.FuzzyThreshold == 0 {
		k.FuzzyThreshold = 0.85
	}
}
