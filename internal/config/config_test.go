package config_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/pkg/audio/device"
	devicemock "github.com/MrWong99/spellcast/pkg/audio/device/mock"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	sttmock "github.com/MrWong99/spellcast/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  tick_interval: 20ms

audio:
  host: portaudio
  input_device: "USB Microphone"
  channels: 1
  frames_per_buffer: 480
  monitor: true
  relay_max_pending: 64

transcription:
  backend: server
  server_url: http://localhost:8081
  model: base.en
  breaker:
    max_failures: 3
    reset_timeout: 10s

segmenter:
  silence_threshold: 0.02
  min_buffer: 2s

keyword:
  phonetic: true
  spells:
    - trigger: Fire Ball
      spell: fireball
    - trigger: magic missile
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.TickInterval != 20*time.Millisecond {
		t.Errorf("server.tick_interval: got %v, want 20ms", cfg.Server.TickInterval)
	}
	if cfg.Audio.InputDevice != "USB Microphone" || cfg.Audio.Channels != 1 || !cfg.Audio.Monitor {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Transcription.Backend != config.BackendServer {
		t.Errorf("transcription.backend: got %q", cfg.Transcription.Backend)
	}
	if cfg.Transcription.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("transcription.breaker.reset_timeout: got %v", cfg.Transcription.Breaker.ResetTimeout)
	}
	if cfg.Segmenter.MinBuffer != 2*time.Second {
		t.Errorf("segmenter.min_buffer: got %v, want 2s", cfg.Segmenter.MinBuffer)
	}
	if len(cfg.Keyword.Spells) != 2 {
		t.Fatalf("keyword.spells: got %d, want 2", len(cfg.Keyword.Spells))
	}
	if cfg.Keyword.Spells[0].Trigger != "Fire Ball" || cfg.Keyword.Spells[0].Spell != "fireball" {
		t.Errorf("keyword.spells[0]: got %+v", cfg.Keyword.Spells[0])
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}

		tests := []struct {
			name string
			got  any
			want any
		}{
			{"log_level", cfg.Server.LogLevel, config.LogInfo},
			{"tick_interval", cfg.Server.TickInterval, 10 * time.Millisecond},
			{"host", cfg.Audio.Host, config.HostPortAudio},
			{"decode_frame_size", cfg.Audio.DecodeFrameSize, 480},
			{"backend", cfg.Transcription.Backend, config.BackendNative},
			{"language", cfg.Transcription.Language, "en"},
			{"threads", cfg.Transcription.Threads, 2},
			{"max_failures", cfg.Transcription.Breaker.MaxFailures, 5},
			{"reset_timeout", cfg.Transcription.Breaker.ResetTimeout, 30 * time.Second},
			{"silence_threshold", cfg.Segmenter.SilenceThreshold, 0.015},
			{"tail_window_samples", cfg.Segmenter.TailWindowSamples, 512},
			{"silence_hold_samples", cfg.Segmenter.SilenceHoldSamples, 4096},
			{"min_buffer", cfg.Segmenter.MinBuffer, 3 * time.Second},
			{"receive_timeout", cfg.Segmenter.ReceiveTimeout, 100 * time.Millisecond},
			{"phonetic_threshold", cfg.Keyword.PhoneticThreshold, 0.70},
			{"fuzzy_threshold", cfg.Keyword.FuzzyThreshold, 0.85},
		}
		for _, tt := range tests {
			if tt.got != tt.want {
				t.Errorf("%q: %s = %v, want %v", doc, tt.name, tt.got, tt.want)
			}
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("segmenter:\n  silence_treshold: 0.1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "silence_treshold") {
		t.Errorf("error should mention the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(t.TempDir() + "/missing.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownTranscriber(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: "nope"}, "")
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownHost(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateHost(config.AudioConfig{Host: "jack"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredTranscriber(t *testing.T) {
	reg := config.NewRegistry()
	var gotPath string
	reg.RegisterTranscriber("fake", func(cfg config.TranscriptionConfig, modelPath string) (stt.Transcriber, error) {
		gotPath = modelPath
		return &sttmock.Transcriber{}, nil
	})

	tr, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: "fake"}, "/models/base.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("transcriber is nil")
	}
	if gotPath != "/models/base.bin" {
		t.Errorf("modelPath = %q", gotPath)
	}
	if _, err := tr.Transcribe(context.Background(), nil); err != nil {
		t.Errorf("Transcribe: %v", err)
	}
}

func TestRegistry_RegisteredHost(t *testing.T) {
	reg := config.NewRegistry()
	want := &devicemock.Host{}
	reg.RegisterHost("mock", func(config.AudioConfig) (device.Host, error) { return want, nil })

	got, err := reg.CreateHost(config.AudioConfig{Host: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != device.Host(want) {
		t.Error("CreateHost returned a different host")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	sentinel := errors.New("model missing")
	reg.RegisterTranscriber("broken", func(config.TranscriptionConfig, string) (stt.Transcriber, error) {
		return nil, sentinel
	})
	_, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: "broken"}, "")
	if !errors.Is(err, sentinel) {
		t.Errorf("expected factory error, got %v", err)
	}
}

func TestRegistry_Transcribers(t *testing.T) {
	reg := config.NewRegistry()
	noop := func(config.TranscriptionConfig, string) (stt.Transcriber, error) { return nil, nil }
	reg.RegisterTranscriber("server", noop)
	reg.RegisterTranscriber("native", noop)
	if got := strings.Join(reg.Transcribers(), ","); got != "native,server" {
		t.Errorf("Transcribers = %q", got)
	}
}
