package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrPipeClosed is returned by Send after Close.
var ErrPipeClosed = errors.New("audio: pipe closed")

// Pipe is a capture source fed by a remote client, one block per Send.
type Pipe struct {
	rate   int
	blocks chan []float32
	done   chan struct{}
	once   sync.Once
}

// NewPipe creates a pipe holding at most depth unread blocks.
func NewPipe(sampleRate, depth int) *Pipe {
	if depth <= 0 {
		depth = 64
	}
	return &Pipe{rate: sampleRate, blocks: make(chan []float32, depth), done: make(chan struct{})}
}

// Send queues a block, waiting while the pipe is full. It fails with
// ErrPipeClosed once the pipe closes and with ctx's error when ctx ends.
func (p *Pipe) Send(ctx context.Context, block []float32) error {
	select {
	case <-p.done:
		return ErrPipeClosed
	default:
	}
	select {
	case p.blocks <- block:
		return nil
	case <-p.done:
		return ErrPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendBytes decodes little-endian float32 PCM and sends it.
func (p *Pipe) SendBytes(ctx context.Context, data []byte) error {
	block, err := BytesToFloat32(data)
	if err != nil {
		return err
	}
	return p.Send(ctx, block)
}

// ReadBlock waits for the next block; io.EOF once closed and drained.
func (p *Pipe) ReadBlock() ([]float32, error) {
	select {
	case b := <-p.blocks:
		return b, nil
	case <-p.done:
		select {
		case b := <-p.blocks:
			return b, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *Pipe) SampleRate() int { return p.rate }

func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
