package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/internal/capture"
	"github.com/MrWong99/spellcast/pkg/audio"
	"github.com/MrWong99/spellcast/pkg/audio/device"
	"github.com/MrWong99/spellcast/pkg/audio/device/mock"
	"github.com/MrWong99/spellcast/pkg/audio/opus"
)

var (
	micMono   = device.Info{Name: "usb mic", MaxInputChannels: 1, DefaultSampleRate: 16000}
	micStereo = device.Info{Name: "studio", MaxInputChannels: 2, DefaultSampleRate: 48000}
	speakers  = device.Info{Name: "speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000}
)

func sineBlock(frames, channels, rate int) []float32 {
	out := make([]float32, frames*channels)
	for i := range frames {
		v := float32(0.4 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

type rig struct {
	host  *mock.Host
	relay *audio.Queue[[]byte]
	voice *audio.Queue[[]float32]
	sess  *capture.Session
}

func newRig(t *testing.T, cfg capture.Config, inputs ...device.Info) *rig {
	t.Helper()
	r := &rig{
		host:  &mock.Host{Inputs: inputs, Output: speakers},
		relay: audio.NewQueue[[]byte](0),
		voice: audio.NewQueue[[]float32](0),
	}
	s, err := capture.New(r.host, cfg, capture.Outputs{Relay: r.relay, Voice: r.voice})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.sess = s
	t.Cleanup(func() { _ = s.Stop() })
	return r
}

func (r *rig) start(t *testing.T) *mock.Stream {
	t.Helper()
	if err := r.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r.host.LastInput()
}

func drain[T any](q *audio.Queue[T]) []T {
	var out []T
	for {
		v, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestNew_RequiresQueues(t *testing.T) {
	if _, err := capture.New(&mock.Host{}, capture.Config{}, capture.Outputs{}); err == nil {
		t.Fatal("expected error for missing queues")
	}
	if _, err := capture.New(nil, capture.Config{}, capture.Outputs{Relay: audio.NewQueue[[]byte](0), Voice: audio.NewQueue[[]float32](0)}); err == nil {
		t.Fatal("expected error for nil host")
	}
}

func TestSession_Lifecycle(t *testing.T) {
	r := newRig(t, capture.Config{}, micMono)
	if r.sess.ID() == "" {
		t.Error("session has no ID")
	}
	if r.sess.State() != capture.Idle {
		t.Fatalf("state = %v, want idle", r.sess.State())
	}

	in := r.start(t)
	if r.sess.State() != capture.Streaming || !in.Running() {
		t.Fatalf("state = %v, running = %v", r.sess.State(), in.Running())
	}
	if got := r.sess.Format(); got != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("Format = %v", got)
	}
	if err := r.sess.Start(context.Background()); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if err := r.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.sess.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if r.sess.State() != capture.Stopped || !in.Closed() || in.CloseCount != 1 {
		t.Errorf("state = %v, closed = %v, closes = %d", r.sess.State(), in.Closed(), in.CloseCount)
	}
	if err := r.sess.Start(context.Background()); !errors.Is(err, capture.ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestSession_StopsWhenContextDone(t *testing.T) {
	r := newRig(t, capture.Config{}, micMono)
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.sess.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for r.sess.State() != capture.Stopped {
		if time.Now().After(deadline) {
			t.Fatal("session did not stop after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_StartFailures(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name   string
		cfg    capture.Config
		inputs []device.Info
		setup  func(h *mock.Host)
	}{
		{"no devices", capture.Config{}, nil, nil},
		{"unknown device", capture.Config{Device: "nope"}, []device.Info{micMono}, nil},
		{"output only device", capture.Config{Device: "speakers"}, []device.Info{speakers}, nil},
		{"open fails", capture.Config{}, []device.Info{micMono}, func(h *mock.Host) { h.OpenInputErr = errBoom }},
		{"start fails", capture.Config{}, []device.Info{micMono}, func(h *mock.Host) { h.StartErr = errBoom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.cfg, tt.inputs...)
			if tt.setup != nil {
				tt.setup(r.host)
			}
			err := r.sess.Start(context.Background())
			if !errors.Is(err, device.ErrDevice) {
				t.Fatalf("Start = %v, want ErrDevice", err)
			}
			if r.sess.State() != capture.Idle {
				t.Errorf("state = %v, want idle", r.sess.State())
			}
			if in := r.host.LastInput(); in != nil && !in.Closed() {
				t.Error("failed stream was not closed")
			}
		})
	}
}

func TestSession_SelectsNamedDevice(t *testing.T) {
	r := newRig(t, capture.Config{Device: "studio"}, micMono, micStereo)
	r.start(t)
	if got := r.sess.Device().Name; got != "studio" {
		t.Errorf("Device = %q, want studio", got)
	}
	if got := r.host.InputCalls[0].Config; got.SampleRate != 48000 || got.Channels != 2 {
		t.Errorf("stream config = %+v", got)
	}
}

func TestSession_MonoDeviceProducesOnePacketPer10ms(t *testing.T) {
	r := newRig(t, capture.Config{}, micMono)
	in := r.start(t)

	raw := sineBlock(160, 1, 16000)
	for range 5 {
		if err := in.Feed(raw); err != nil {
			t.Fatal(err)
		}
	}
	raw[0] = 99 // the device reuses its buffer

	packets := drain(r.relay)
	if len(packets) != 5 {
		t.Fatalf("relay items = %d, want 5", len(packets))
	}
	for i, p := range packets {
		if n := int(binary.LittleEndian.Uint16(p)); n != len(p)-2 || n == 0 {
			t.Fatalf("item %d: length prefix %d for %d bytes", i, n, len(p))
		}
	}

	voice := drain(r.voice)
	if len(voice) != 5 {
		t.Fatalf("voice blocks = %d, want 5", len(voice))
	}
	for _, v := range voice {
		if len(v) != 160 {
			t.Errorf("voice block len = %d, want 160", len(v))
		}
		if v[0] == 99 {
			t.Error("voice block aliases the device buffer")
		}
	}
	if st := r.sess.Stats(); st.Callbacks != 5 || st.Packets != 5 || st.VoiceBlocks != 5 || st.Errors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_AccumulatesPartialFrames(t *testing.T) {
	r := newRig(t, capture.Config{}, micStereo)
	in := r.start(t)

	// 300 frames per callback at 48 kHz: 480-frame packets after the 2nd,
	// 4th and 5th callback (600, 1200, 1500 frames buffered).
	var perCallback []int
	for range 5 {
		_ = in.Feed(sineBlock(300, 2, 48000))
		perCallback = append(perCallback, len(drain(r.relay)))
	}
	want := []int{0, 1, 0, 1, 1}
	for i := range want {
		if perCallback[i] != want[i] {
			t.Fatalf("packets per callback = %v, want %v", perCallback, want)
		}
	}

	for _, v := range drain(r.voice) {
		if len(v) != 100 {
			t.Errorf("voice block len = %d, want 100 (300 frames at 48k -> 16k mono)", len(v))
		}
	}
}

func TestSession_RelayStreamDecodes(t *testing.T) {
	r := newRig(t, capture.Config{}, micStereo)
	in := r.start(t)
	for range 10 {
		_ = in.Feed(sineBlock(960, 2, 48000))
	}

	var stream []byte
	for _, p := range drain(r.relay) {
		stream = append(stream, p...)
	}
	packets := opus.SplitFramed(stream)
	if len(packets) != 20 {
		t.Fatalf("framed stream holds %d packets, want 20", len(packets))
	}
	pcm, err := opus.DecodePackets(packets, 48000, opus.DefaultFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 20*opus.DefaultFrameSize*2 {
		t.Errorf("decoded %d samples, want %d", len(pcm), 20*opus.DefaultFrameSize*2)
	}
}

func TestSession_CallbackErrorsGoToSideChannel(t *testing.T) {
	r := newRig(t, capture.Config{ErrorBuffer: 1}, micStereo)
	in := r.start(t)

	bad := make([]float32, 961) // not a whole number of stereo frames
	_ = in.Feed(bad)
	_ = in.Feed(bad)

	select {
	case err := <-r.sess.Errors():
		var se *capture.StageError
		if !errors.As(err, &se) || se.Stage != capture.StageResample {
			t.Errorf("error = %v, want resample stage error", err)
		}
		if !errors.Is(err, audio.ErrResampling) {
			t.Errorf("error %v does not wrap ErrResampling", err)
		}
	default:
		t.Fatal("no error reported")
	}
	if st := r.sess.Stats(); st.Errors != 2 || st.ErrorsDropped != 1 {
		t.Errorf("stats = %+v", st)
	}
	if n := r.voice.Len(); n != 0 {
		t.Errorf("voice got %d blocks from failed callbacks", n)
	}

	// The next well-formed block goes through.
	_ = in.Feed(sineBlock(480, 2, 48000))
	if r.relay.Len() != 1 || r.voice.Len() != 1 {
		t.Errorf("relay=%d voice=%d after recovery", r.relay.Len(), r.voice.Len())
	}
}

func TestSession_Monitor(t *testing.T) {
	r := newRig(t, capture.Config{Monitor: true}, micMono)
	in := r.start(t)

	if len(r.host.OutputCalls) != 1 {
		t.Fatalf("output streams opened = %d, want 1", len(r.host.OutputCalls))
	}
	if got := r.host.OutputCalls[0].Config; got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("monitor config = %+v, want input format", got)
	}

	block := sineBlock(160, 1, 16000)
	_ = in.Feed(block)
	out, err := r.host.LastOutput().Pull(200)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 160 {
		if out[i] != block[i] {
			t.Fatalf("monitor sample %d = %f, want %f", i, out[i], block[i])
		}
	}
	for i := 160; i < 200; i++ {
		if out[i] != 0 {
			t.Fatalf("monitor padding sample %d = %f, want silence", i, out[i])
		}
	}

	if err := r.sess.Stop(); err != nil {
		t.Fatal(err)
	}
	if !r.host.LastOutput().Closed() {
		t.Error("monitor stream not closed on Stop")
	}
}

func TestSession_MonitorFailureDoesNotBlockCapture(t *testing.T) {
	r := newRig(t, capture.Config{Monitor: true}, micMono)
	r.host.Output = device.Info{}
	r.start(t)
	if len(r.host.OutputCalls) != 0 {
		t.Errorf("unexpected output stream")
	}
	if r.sess.State() != capture.Streaming {
		t.Errorf("state = %v", r.sess.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[capture.State]string{
		capture.Idle: "idle", capture.Streaming: "streaming", capture.Stopped: "stopped", capture.State(9): "State(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int32(s), s.String(), want)
		}
	}
}
