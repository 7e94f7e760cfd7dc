package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
)

// ErrCommandQueueFull is returned when the runner has not yet drained
// earlier commands.
var ErrCommandQueueFull = errors.New("capture: command queue full")

// Source produces hardware blocks. ReadBlock blocks until the next block is
// available; the returned slice is only valid until the next call. It
// returns io.EOF when the stream ends.
type Source interface {
	ReadBlock() ([]float32, error)
	SampleRate() int
	Close() error
}

type command int

const (
	cmdStart command = iota
	cmdStop
	cmdReset
)

const commandQueueSize = 8

// Runner drives a Machine from a Source on a dedicated OS thread. Commands
// reach the machine through a channel drained between blocks, so the
// machine itself is never shared.
type Runner struct {
	machine *Machine
	source  Source
	cmds    chan command
	blocks  atomic.Int64
	running atomic.Bool
}

// NewRunner pairs a machine with a source of the same sample rate.
func NewRunner(m *Machine, src Source) (*Runner, error) {
	if got, want := src.SampleRate(), m.Config().SampleRate; got != want {
		return nil, fmt.Errorf("capture: source rate %d Hz, machine configured for %d Hz", got, want)
	}
	return &Runner{machine: m, source: src, cmds: make(chan command, commandQueueSize)}, nil
}

// Start asks the machine to begin a session.
func (r *Runner) Start() error { return r.send(cmdStart) }

// Stop asks the machine to return to idle. It takes effect before the next
// block is processed.
func (r *Runner) Stop() error { return r.send(cmdStop) }

// Reset asks the machine to clear its state silently.
func (r *Runner) Reset() error { return r.send(cmdReset) }

// Phase reports the machine phase.
func (r *Runner) Phase() Phase { return r.machine.Phase() }

// Dropped reports refused fire-and-forget events.
func (r *Runner) Dropped() int64 { return r.machine.Dropped() }

// Blocks reports how many blocks have been read from the source.
func (r *Runner) Blocks() int64 { return r.blocks.Load() }

// Running reports whether Run is active.
func (r *Runner) Running() bool { return r.running.Load() }

// SampleRate is the source rate.
func (r *Runner) SampleRate() int { return r.source.SampleRate() }

func (r *Runner) send(c command) error {
	select {
	case r.cmds <- c:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Run reads blocks until ctx is cancelled or the source ends. The machine
// is stopped on return. Run must be called at most once at a time.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("capture: runner already running")
	}
	defer r.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer r.machine.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.drain()

		block, err := r.source.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("capture: read block: %w", err)
		}
		r.blocks.Add(1)

		r.drain()
		r.machine.Process(block)
	}
}

func (r *Runner) drain() {
	for {
		select {
		case c := <-r.cmds:
			switch c {
			case cmdStart:
				r.machine.Start()
			case cmdStop:
				r.machine.Stop()
			case cmdReset:
				r.machine.Reset()
			}
		default:
			return
		}
	}
}
