package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/pkg/audio"
)

func TestDownmixMono(t *testing.T) {
	stereo := []float32{0.2, 0.4, -0.2, -0.6}
	got := audio.DownmixMono(stereo, 2)
	want := []float32{0.3, -0.4}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixMono_MonoPassthrough(t *testing.T) {
	in := []float32{1, 2, 3}
	out := audio.DownmixMono(in, 1)
	if &out[0] != &in[0] {
		t.Error("expected mono input to be returned unchanged")
	}
}

func TestRemix(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		from, to int
		want     []float32
	}{
		{"mono to stereo", []float32{0.1, 0.2}, 1, 2, []float32{0.1, 0.1, 0.2, 0.2}},
		{"quad to stereo", []float32{1, 2, 3, 4}, 4, 2, []float32{1, 2}},
		{"stereo to quad", []float32{1, 2}, 2, 4, []float32{1, 2, 0, 0}},
		{"stereo to mono", []float32{1, 3}, 2, 1, []float32{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := audio.Remix(tt.in, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Remix: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("length = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRemix_Misaligned(t *testing.T) {
	_, err := audio.Remix([]float32{1, 2, 3}, 2, 1)
	if !errors.Is(err, audio.ErrResampling) {
		t.Errorf("err = %v, want ErrResampling", err)
	}
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	got := audio.Float32ToInt16([]float32{0, 1, -1, 2, -2})
	want := []int16{0, 32767, -32767, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestInt16ToFloat32(t *testing.T) {
	got := audio.Int16ToFloat32([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.Duration(960); got != 10*time.Millisecond {
		t.Errorf("Duration = %v, want 10ms", got)
	}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String = %q", got)
	}
}
