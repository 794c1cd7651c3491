package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
)

const drainPoll = 20 * time.Millisecond

// DeviceConfig contains configuration for the audio device.
type DeviceConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BufferSize time.Duration
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: 44100,
		Channels:   2,
		BufferSize: 100 * time.Millisecond,
	}
}

// Validate checks the device configuration.
func (c DeviceConfig) Validate() error {
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	if c.BufferSize < 0 {
		return errors.New("buffer size must not be negative")
	}
	return nil
}

// DeviceSink plays MP3 audio on the default output device. MP3 frames are
// decoded and resampled to the device rate, then fed to oto as signed
// 16-bit little endian PCM.
type DeviceSink struct {
	config DeviceConfig
	logger *log.Logger

	// oto allows one context per process; it lives as long as the sink.
	otoCtx *oto.Context

	mu     sync.Mutex
	player *oto.Player
	paused bool
	volume float64
	closed bool
}

// NewDeviceSink opens the audio device.
func NewDeviceSink(config DeviceConfig, logger *log.Logger) (*DeviceSink, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   config.BufferSize,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	logger.Info("audio device ready", "rate", config.SampleRate, "channels", config.Channels)
	return &DeviceSink{config: config, logger: logger, otoCtx: otoCtx, volume: 1}, nil
}

// Play implements Sink. It blocks until the message has drained or ctx is
// cancelled.
func (d *DeviceSink) Play(ctx context.Context, msg Message) error {
	if len(msg.Audio) == 0 {
		return ErrEmptyAudio
	}

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(msg.Audio)))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if rate := beep.SampleRate(d.config.SampleRate); format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("audio device is closed")
	}
	player := d.otoCtx.NewPlayer(&pcmReader{s: s, channels: d.config.Channels})
	player.SetVolume(d.volume)
	d.player = player
	paused := d.paused
	d.mu.Unlock()

	if !paused {
		player.Play()
	}

	defer func() {
		d.mu.Lock()
		d.player = nil
		d.mu.Unlock()
		player.Close()
	}()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}

		if err := player.Err(); err != nil {
			return err
		}
		if player.IsPlaying() {
			continue
		}

		d.mu.Lock()
		paused := d.paused
		d.mu.Unlock()
		if !paused {
			return nil
		}
	}
}

// Pause implements Controller.
func (d *DeviceSink) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	if d.player != nil {
		d.player.Pause()
	}
}

// Resume implements Controller.
func (d *DeviceSink) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	if d.player != nil {
		d.player.Play()
	}
}

// SetVolume implements Controller.
func (d *DeviceSink) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %g", volume)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = volume
	if d.player != nil {
		d.player.SetVolume(volume)
	}
	return nil
}

// Restart implements Restarter. The oto context cannot be recreated, so a
// restart drops the active player and resets pause state.
func (d *DeviceSink) Restart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("audio device is closed")
	}
	if d.player != nil {
		d.player.Pause()
	}
	d.paused = false
	if err := d.otoCtx.Err(); err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	d.logger.Info("audio device restarted")
	return nil
}

// Close releases the device.
func (d *DeviceSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.player != nil {
		d.player.Pause()
	}
	return d.otoCtx.Suspend()
}

// pcmReader renders a beep stream as signed 16-bit little endian PCM.
type pcmReader struct {
	s        beep.Streamer
	channels int
	buf      [][2]float64
}

func (r *pcmReader) Read(p []byte) (int, error) {
	frame := 2 * r.channels
	n := len(p) / frame
	if n == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(r.buf) < n {
		r.buf = make([][2]float64, n)
	}
	buf := r.buf[:n]

	got, ok := r.s.Stream(buf)
	if got == 0 && !ok {
		if err := r.s.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	off := 0
	for i := 0; i < got; i++ {
		if r.channels == 1 {
			putSample(p[off:], (buf[i][0]+buf[i][1])/2)
			off += 2
			continue
		}
		putSample(p[off:], buf[i][0])
		putSample(p[off+2:], buf[i][1])
		off += 4
	}
	return off, nil
}

func putSample(p []byte, v float64) {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	binary.LittleEndian.PutUint16(p, uint16(int16(v*32767)))
}
