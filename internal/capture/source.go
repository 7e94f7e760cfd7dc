package capture

import "io"

// SliceSource replays an in-memory signal as fixed-size blocks.
type SliceSource struct {
	samples    []float32
	sampleRate int
	blockSize  int
	pos        int
	buf        []float32
}

// NewSliceSource creates a source over samples. blockSize <= 0 uses 128.
func NewSliceSource(samples []float32, sampleRate, blockSize int) *SliceSource {
	if blockSize <= 0 {
		blockSize = 128
	}
	return &SliceSource{
		samples:    samples,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		buf:        make([]float32, blockSize),
	}
}

// ReadBlock returns the next block, reusing its internal buffer.
func (s *SliceSource) ReadBlock() ([]float32, error) {
	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}
	n := copy(s.buf, s.samples[s.pos:])
	s.pos += n
	return s.buf[:n], nil
}

func (s *SliceSource) SampleRate() int { return s.sampleRate }

func (s *SliceSource) Close() error {
	s.pos = len(s.samples)
	return nil
}
