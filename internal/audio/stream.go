// Package audio provides the sample sources that feed capture: a live
// PortAudio input, a push-fed pipe for remote clients, and WAV files.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer matches the usual hardware callback size.
const DefaultFramesPerBuffer = 128

// ErrNoInputDevice is returned when no usable microphone is present.
var ErrNoInputDevice = errors.New("audio: no input device")

// loopback and virtual devices carry playback, not the machine's sound
var virtualKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}

// StreamConfig selects and configures the input device.
type StreamConfig struct {
	Device          string // substring of the device name; empty picks automatically
	SampleRate      int    // 0 uses the device default
	FramesPerBuffer int
	Excluded        []string
}

// Stream is a mono PortAudio input implementing capture.Source.
type Stream struct {
	stream    *portaudio.Stream
	buf       []float32
	rate      int
	device    string
	overflows atomic.Int64
	closeOnce sync.Once
}

// OpenStream initializes PortAudio, picks an input device and starts a
// blocking-read stream on it.
func OpenStream(cfg StreamConfig) (*Stream, error) {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: list devices: %w", err)
	}
	dev := selectDevice(devices, cfg)
	if dev == nil {
		_ = portaudio.Terminate()
		return nil, ErrNoInputDevice
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	buf := make([]float32, cfg.FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: start %q: %w", dev.Name, err)
	}

	slog.Info("audio input opened", "device", dev.Name, "sample_rate", rate, "frames", cfg.FramesPerBuffer)
	return &Stream{stream: stream, buf: buf, rate: rate, device: dev.Name}, nil
}

// ReadBlock blocks for the next hardware block. The slice is reused by the
// next call. Input overflows are counted, not fatal.
func (s *Stream) ReadBlock() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			s.overflows.Add(1)
			return s.buf, nil
		}
		return nil, err
	}
	return s.buf, nil
}

// SampleRate is the rate the device is running at.
func (s *Stream) SampleRate() int { return s.rate }

// Device is the selected device name.
func (s *Stream) Device() string { return s.device }

// Overflows counts blocks the driver reported as overrun.
func (s *Stream) Overflows() int64 { return s.overflows.Load() }

// Close stops the stream and releases PortAudio.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.stream.Stop()
		err = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return err
}

// selectDevice prefers an explicit name match, then built-in microphones,
// then any other physical input.
func selectDevice(devices []*portaudio.DeviceInfo, cfg StreamConfig) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	bestScore := -1
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || isVirtual(dev.Name) || matchesAny(dev.Name, cfg.Excluded) {
			continue
		}
		score := 0
		switch {
		case cfg.Device != "" && containsFold(dev.Name, cfg.Device):
			score = 3
		case cfg.Device != "":
			continue
		case containsFold(dev.Name, "built-in") || containsFold(dev.Name, "macbook"):
			score = 2
		case containsFold(dev.Name, "mic") || containsFold(dev.Name, "input"):
			score = 1
		}
		if score > bestScore {
			best, bestScore = dev, score
		}
	}
	return best
}

func isVirtual(name string) bool { return matchesAny(name, virtualKeywords) }

func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if containsFold(name, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
