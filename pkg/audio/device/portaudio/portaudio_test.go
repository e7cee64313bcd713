package portaudio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/spellcast/pkg/audio/device"
)

func TestFindDevice(t *testing.T) {
	speakers := &portaudio.DeviceInfo{Name: "USB Headset", MaxOutputChannels: 2}
	mic := &portaudio.DeviceInfo{Name: "USB Headset", MaxInputChannels: 1}
	duplex := &portaudio.DeviceInfo{Name: "Interface", MaxInputChannels: 2, MaxOutputChannels: 2}
	devs := []*portaudio.DeviceInfo{speakers, mic, duplex}

	tests := []struct {
		name    string
		device  string
		input   bool
		want    *portaudio.DeviceInfo
		wantErr bool
	}{
		{name: "input skips output-only twin", device: "USB Headset", input: true, want: mic},
		{name: "output takes output twin", device: "USB Headset", input: false, want: speakers},
		{name: "duplex as input", device: "Interface", input: true, want: duplex},
		{name: "duplex as output", device: "Interface", input: false, want: duplex},
		{name: "unknown name", device: "Nope", input: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findDevice(devs, tt.device, tt.input)
			if tt.wantErr {
				if !errors.Is(err, device.ErrDevice) {
					t.Fatalf("err = %v, want ErrDevice", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("findDevice: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFindDevice_NoChannelsInDirection(t *testing.T) {
	devs := []*portaudio.DeviceInfo{{Name: "Speakers", MaxOutputChannels: 2}}
	if _, err := findDevice(devs, "Speakers", true); !errors.Is(err, device.ErrDevice) {
		t.Errorf("err = %v, want ErrDevice", err)
	}
}
