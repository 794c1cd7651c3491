package playback

import (
	"encoding/binary"
	"io"
	"testing"
	"time"
)

// constStreamer yields n frames of a fixed stereo sample.
type constStreamer struct {
	left, right float64
	n           int
}

func (s *constStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.n == 0 {
		return 0, false
	}
	k := len(samples)
	if k > s.n {
		k = s.n
	}
	for i := 0; i < k; i++ {
		samples[i] = [2]float64{s.left, s.right}
	}
	s.n -= k
	return k, true
}

func (s *constStreamer) Err() error { return nil }

func TestPCMReader_Stereo(t *testing.T) {
	r := &pcmReader{s: &constStreamer{left: 0.5, right: -2, n: 3}, channels: 2}
	buf := make([]byte, 64)

	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 12 {
		t.Fatalf("Read() = %d bytes, want 12", n)
	}

	left := int16(binary.LittleEndian.Uint16(buf[0:]))
	right := int16(binary.LittleEndian.Uint16(buf[2:]))
	if left != 16383 {
		t.Errorf("left = %d", left)
	}
	if right != -32767 {
		t.Errorf("right should clamp to -32767, got %d", right)
	}

	if _, err := r.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after stream end, got %v", err)
	}
}

func TestPCMReader_MonoDownmix(t *testing.T) {
	r := &pcmReader{s: &constStreamer{left: 0.5, right: 0, n: 10}, channels: 1}
	buf := make([]byte, 8)

	n, err := r.Read(buf)
	if err != nil || n != 8 {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if got := int16(binary.LittleEndian.Uint16(buf)); got != 8191 {
		t.Errorf("mono sample = %d", got)
	}

	if _, err := r.Read(make([]byte, 1)); err != io.ErrShortBuffer {
		t.Errorf("tiny buffer error = %v", err)
	}
}

func TestDeviceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DeviceConfig
		wantErr bool
	}{
		{"default", DefaultDeviceConfig(), false},
		{"48k mono", DeviceConfig{SampleRate: 48000, Channels: 1}, false},
		{"bad rate", DeviceConfig{SampleRate: 22050, Channels: 1}, true},
		{"bad channels", DeviceConfig{SampleRate: 44100, Channels: 6}, true},
		{"negative buffer", DeviceConfig{SampleRate: 44100, Channels: 2, BufferSize: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
