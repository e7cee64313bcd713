package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/spellcast/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "log_level"},
		{"negative channels", "audio:\n  channels: -1\n", "audio.channels"},
		{"negative frames per buffer", "audio:\n  frames_per_buffer: -64\n", "frames_per_buffer"},
		{"decode frame size not an opus size", "audio:\n  decode_frame_size: 500\n", "decode_frame_size 500"},
		{"negative queue bound", "audio:\n  voice_max_pending: -1\n", "voice_max_pending"},
		{"server backend without url", "transcription:\n  backend: server\n", "server_url"},
		{"silence threshold above one", "segmenter:\n  silence_threshold: 1.5\n", "silence_threshold"},
		{"negative min buffer", "segmenter:\n  min_buffer: -1s\n", "min_buffer"},
		{"phonetic threshold out of range", "keyword:\n  phonetic_threshold: 2\n", "phonetic_threshold"},
		{"fuzzy threshold out of range", "keyword:\n  fuzzy_threshold: -0.5\n", "fuzzy_threshold"},
		{"blank trigger", "keyword:\n  spells:\n    - trigger: \"  \"\n      spell: x\n", "trigger is required"},
		{"duplicate trigger", "keyword:\n  spells:\n    - trigger: Fire Ball\n    - trigger: \"fire  ball\"\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_ServerBackendWithURLIsValid(t *testing.T) {
	yaml := `
transcription:
  backend: server
  server_url: http://whisper:8080
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownBackendOnlyWarns(t *testing.T) {
	yaml := `
audio:
  host: jack
transcription:
  backend: custom
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown backend names should not fail validation: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: "loud"},
		Segmenter: config.SegmenterConfig{SilenceThreshold: -1},
		Keyword:   config.KeywordConfig{Spells: []config.SpellConfig{{Trigger: ""}}},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected a joined error, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}
}

func TestValidBackendNames(t *testing.T) {
	for _, name := range []string{config.BackendNative, config.BackendServer} {
		if !slices.Contains(config.ValidBackendNames["transcription"], name) {
			t.Errorf("transcription backend %q not listed", name)
		}
	}
	if !slices.Contains(config.ValidBackendNames["audio"], config.HostPortAudio) {
		t.Error("portaudio not listed")
	}
}
