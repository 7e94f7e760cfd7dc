package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/up-zero/gotool/mediautil"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// ErrNotWAV is returned for data that is not a canonical PCM WAV file.
var ErrNotWAV = errors.New("audio: not a PCM RIFF/WAVE file")

// ReadWAV loads a WAV file as mono float32 samples at its native rate.
func ReadWAV(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return DecodeWAV(data)
}

// DecodeWAV downmixes a PCM WAV to mono float32 at its native rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	h, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}
	rate := int(h.SampleRate)
	samples, err := decodeAt(trimWAV(data, h), rate)
	return samples, rate, err
}

// ResampleWAV downmixes and converts a PCM WAV to mono float32 at rate.
func ResampleWAV(data []byte, rate int) ([]float32, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("audio: invalid target rate %d", rate)
	}
	h, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	return decodeAt(trimWAV(data, h), rate)
}

// WAVSampleRate returns the sample rate of a PCM WAV.
func WAVSampleRate(data []byte) (int, error) {
	h, err := parseWAV(data)
	if err != nil {
		return 0, err
	}
	return int(h.SampleRate), nil
}

// parseWAV accepts only the 44-byte layout mediautil decodes: "fmt " then
// "data", integer PCM at 16, 24 or 32 bits.
func parseWAV(data []byte) (*mediautil.WavHeader, error) {
	h, err := mediautil.ParseWavHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	switch {
	case string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("%w: expected fmt and data chunks, found %q and %q", ErrNotWAV, h.Subchunk1ID[:], h.Subchunk2ID[:])
	case h.AudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("%w: audio format %d", ErrNotWAV, h.AudioFormat)
	case h.BitsPerSample != 16 && h.BitsPerSample != 24 && h.BitsPerSample != 32:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, h.BitsPerSample)
	case h.NumChannels == 0 || h.SampleRate == 0:
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrNotWAV, h.NumChannels, h.SampleRate)
	}
	return h, nil
}

// trimWAV drops anything after the data chunk, such as trailing metadata.
func trimWAV(data []byte, h *mediautil.WavHeader) []byte {
	if end := wavHeaderSize + int(h.Subchunk2Size); end >= wavHeaderSize && end < len(data) {
		return data[:end]
	}
	return data
}

func decodeAt(data []byte, rate int) ([]float32, error) {
	mono, err := mediautil.ReformatWavBytes(data, rate, 1, 16)
	if err != nil {
		return nil, fmt.Errorf("audio: reformat wav: %w", err)
	}
	if len(mono) < wavHeaderSize {
		return nil, fmt.Errorf("audio: reformatted wav truncated")
	}
	samples, err := mediautil.PcmBytesToFloat32(mono[wavHeaderSize:], 16)
	if err != nil {
		return nil, fmt.Errorf("audio: decode pcm: %w", err)
	}
	return samples, nil
}

// EncodeWAV writes mono 16-bit PCM WAV bytes.
func EncodeWAV(samples []float32, rate int) ([]byte, error) {
	return mediautil.Float32ToWavBytes(samples, rate, 1, 16)
}
