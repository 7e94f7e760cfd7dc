package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingSource struct {
	rate  int
	block []float32
}

func (s *blockingSource) ReadBlock() ([]float32, error) {
	time.Sleep(time.Millisecond)
	return s.block, nil
}
func (s *blockingSource) SampleRate() int { return s.rate }
func (s *blockingSource) Close() error    { return nil }

func TestRunnerDeliversEveryChunk(t *testing.T) {
	const rate = 16000
	cfg := DefaultConfig(rate)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	sink := NewChannelSink(256)
	m := newMachine(t, cfg, sink)

	signal := make([]float32, 10*rate)
	for i := range signal {
		signal[i] = float32(i % 1000)
	}
	r, err := NewRunner(m, NewSliceSource(signal, rate, 128))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Phase() != PhaseIdle {
		t.Errorf("machine not stopped after source end: %v", m.Phase())
	}
	close(sink)

	var got []float32
	for ev := range sink {
		if ev.Kind == EventChunk {
			got = append(got, ev.Chunk.Samples...)
		}
	}
	want := len(signal) / m.ChunkSize() * m.ChunkSize()
	if len(got) != want {
		t.Fatalf("got %d samples, want %d", len(got), want)
	}
	for i := range got {
		if got[i] != signal[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], signal[i])
		}
	}
	if r.Blocks() != int64(len(signal)/128) {
		t.Errorf("blocks = %d", r.Blocks())
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig(1000)
	m := newMachine(t, cfg, NewChannelSink(16))
	r, err := NewRunner(m, &blockingSource{rate: 1000, block: make([]float32, 128)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Phase() != PhaseWarmup && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.Phase() != PhaseWarmup {
		t.Fatalf("phase = %v, want warmup", r.Phase())
	}
	if !r.Running() {
		t.Error("Running() = false")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if r.Phase() != PhaseIdle {
		t.Errorf("phase after cancel = %v", r.Phase())
	}
}

func TestRunnerRejectsRateMismatch(t *testing.T) {
	m := newMachine(t, DefaultConfig(48000), nil)
	if _, err := NewRunner(m, NewSliceSource(nil, 44100, 128)); err == nil {
		t.Error("expected rate mismatch error")
	}
}

func TestRunnerCommandQueueFull(t *testing.T) {
	m := newMachine(t, DefaultConfig(1000), nil)
	r, err := NewRunner(m, NewSliceSource(nil, 1000, 128))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < commandQueueSize; i++ {
		if err := r.Stop(); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	if err := r.Start(); !errors.Is(err, ErrCommandQueueFull) {
		t.Errorf("err = %v, want ErrCommandQueueFull", err)
	}
}

func TestSliceSourceBlocks(t *testing.T) {
	src := NewSliceSource(make([]float32, 300), 1000, 128)
	var sizes []int
	for {
		b, err := src.ReadBlock()
		if err != nil {
			break
		}
		sizes = append(sizes, len(b))
	}
	if len(sizes) != 3 || sizes[0] != 128 || sizes[2] != 44 {
		t.Errorf("block sizes = %v", sizes)
	}
}
