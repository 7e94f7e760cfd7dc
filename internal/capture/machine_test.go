package capture

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

type recorder struct {
	events []Event
	refuse func(Event) bool
}

func (r *recorder) Deliver(ev Event) bool {
	if r.refuse != nil && r.refuse(ev) {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) kinds(k EventKind) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, ev := range r.kinds(EventPhase) {
		out = append(out, ev.Phase)
	}
	return out
}

func newMachine(t *testing.T, cfg Config, sink Sink) *Machine {
	t.Helper()
	m, err := NewMachine(cfg, sink)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConfigDerivedSizes(t *testing.T) {
	tests := []struct {
		rate     int
		chunk    int
		capacity int
	}{
		{48000, 15840, 32768},
		{44100, 14553, 32768},
		{96000, 31680, 63360},
		{16000, 5280, 32768},
	}
	for _, tt := range tests {
		cfg := DefaultConfig(tt.rate)
		if cfg.ChunkSize() != tt.chunk || cfg.BufferCapacity() != tt.capacity {
			t.Errorf("rate %d: chunk %d capacity %d, want %d %d", tt.rate, cfg.ChunkSize(), cfg.BufferCapacity(), tt.chunk, tt.capacity)
		}
		if cfg.BufferCapacity() < 2*cfg.ChunkSize() {
			t.Errorf("rate %d: capacity below two chunks", tt.rate)
		}
	}
	cfg := DefaultConfig(48000)
	if cfg.WarmupSamples() != 240000 || cfg.MaxWaitSamples() != 1440000 {
		t.Errorf("warmup/wait samples = %d/%d", cfg.WarmupSamples(), cfg.MaxWaitSamples())
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{SampleRate: 0, MaxWaitSeconds: 30, WindowSeconds: 0.33},
		{SampleRate: 48000, WarmupMs: -1, MaxWaitSeconds: 30, WindowSeconds: 0.33},
		{SampleRate: 48000, MaxWaitSeconds: 0, WindowSeconds: 0.33},
		{SampleRate: 48000, MaxWaitSeconds: 30, WindowSeconds: 0},
		{SampleRate: 1, MaxWaitSeconds: 30, WindowSeconds: 0.33},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
	if err := DefaultConfig(48000).Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
}

func TestChunkSequenceIsContiguous(t *testing.T) {
	r := rand.New(rand.NewPCG(11, 12))
	for trial := 0; trial < 5; trial++ {
		cfg := DefaultConfig(48000)
		cfg.WarmupMs = 0
		cfg.SignalThresholdRMS = 0
		rec := &recorder{}
		m := newMachine(t, cfg, rec)
		m.Start()

		total := 200000 + r.IntN(300000)
		signal := make([]float32, total)
		for i := range signal {
			signal[i] = float32(i%9973) + 1
		}
		for pos := 0; pos < total; {
			n := min(1+r.IntN(4096), total-pos)
			m.Process(signal[pos : pos+n])
			pos += n
		}

		var got []float32
		for _, ev := range rec.kinds(EventChunk) {
			if ev.Chunk.Offset != int64(len(got)) {
				t.Fatalf("trial %d: chunk offset %d, want %d", trial, ev.Chunk.Offset, len(got))
			}
			got = append(got, ev.Chunk.Samples...)
		}
		want := total / m.ChunkSize() * m.ChunkSize()
		if len(got) != want {
			t.Fatalf("trial %d: got %d samples, want %d", trial, len(got), want)
		}
		for i := range got {
			if got[i] != signal[i] {
				t.Fatalf("trial %d: sample %d = %v, want %v", trial, i, got[i], signal[i])
			}
		}
	}
}

func TestChunksAreOwnedByReceiver(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	block := constant(m.ChunkSize(), 1)
	m.Process(block)
	chunks := rec.kinds(EventChunk)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	block[0] = 42
	m.Process(constant(m.ChunkSize(), 2))
	if chunks[0].Chunk.Samples[0] != 1 {
		t.Error("chunk aliased caller or ring memory")
	}
	c := chunks[0].Chunk
	if c.Duration.Seconds() != 0.33 || c.SampleRate != 16000 || c.Standardized {
		t.Errorf("unexpected chunk metadata %+v", *c)
	}
}

func TestStartEntersWarmupThenWaiting(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.WarmupMs = 100
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	if m.Phase() != PhaseIdle {
		t.Fatalf("initial phase %v", m.Phase())
	}
	m.Start()
	if m.Phase() != PhaseWarmup {
		t.Fatalf("after start: %v", m.Phase())
	}
	m.Process(constant(60, 0.5))
	if m.Phase() != PhaseWarmup {
		t.Fatalf("after 60 samples: %v", m.Phase())
	}
	m.Process(constant(39, 0.5))
	if m.Phase() != PhaseWarmup {
		t.Fatalf("after 99 samples: %v", m.Phase())
	}
	m.Process(constant(1, 0.5))
	if m.Phase() != PhaseWaiting {
		t.Fatalf("after 100 samples: %v", m.Phase())
	}
	if s := m.Snapshot(); s.Written != 0 {
		t.Errorf("warmup audio reached the buffer: %+v", s)
	}
	want := []Phase{PhaseWarmup, PhaseWaiting}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
}

func TestWarmupBoundaryInsideBlock(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.WarmupMs = 100
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	// 100 warmup samples of silence followed by 50 loud samples in one block
	block := append(constant(100, 0), constant(50, 0.5)...)
	m.Process(block)
	if m.Phase() != PhaseRecording {
		t.Fatalf("phase = %v, want recording", m.Phase())
	}
	if s := m.Snapshot(); s.Written != 50 {
		t.Errorf("written = %d, want 50", s.Written)
	}
}

func TestWaitingToRecordingSameCall(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.WarmupMs = 0
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	m.Process(constant(128, 0.001))
	if m.Phase() != PhaseWaiting {
		t.Fatalf("quiet block: %v", m.Phase())
	}
	if s := m.Snapshot(); s.Written != 0 {
		t.Fatalf("waiting wrote %d samples", s.Written)
	}
	m.Process(constant(128, 0.002))
	if m.Phase() != PhaseRecording {
		t.Fatalf("threshold block: %v", m.Phase())
	}
	if s := m.Snapshot(); s.Written != 128 || s.WritePos != 128 {
		t.Errorf("snapshot after trigger %+v", s)
	}
	want := []Phase{PhaseWarmup, PhaseWaiting, PhaseRecording}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
}

func TestWaitingTimeout(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.WarmupMs = 0
	cfg.MaxWaitSeconds = 1
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	for i := 0; i < 9; i++ {
		m.Process(constant(111, 0))
	}
	if m.Phase() != PhaseWaiting {
		t.Fatalf("after 999 samples: %v", m.Phase())
	}
	m.Process(constant(1, 0))
	if m.Phase() != PhaseIdle {
		t.Fatalf("after 1000 samples: %v", m.Phase())
	}
	timeouts := rec.kinds(EventTimeout)
	if len(timeouts) != 1 || timeouts[0].Samples != 1000 {
		t.Fatalf("timeouts = %+v", timeouts)
	}
	if s := m.Snapshot(); s != (Snapshot{Phase: PhaseIdle}) {
		t.Errorf("snapshot not reset: %+v", s)
	}
	m.Process(constant(500, 1))
	if m.Phase() != PhaseIdle {
		t.Error("idle machine reacted to audio")
	}
}

func TestHardwareBlockedOncePerSession(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.WarmupMs = 5000
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	for i := 0; i < 19; i++ {
		m.Process(constant(100, 0))
	}
	if n := len(rec.kinds(EventHardwareBlocked)); n != 0 {
		t.Fatalf("event before 2s: %d", n)
	}
	m.Process(constant(100, 0))
	m.Process(constant(100, 0))
	blocked := rec.kinds(EventHardwareBlocked)
	if len(blocked) != 1 {
		t.Fatalf("got %d hardware-blocked events, want 1", len(blocked))
	}
	if blocked[0].ActiveRatio != 0 {
		t.Errorf("active ratio = %v", blocked[0].ActiveRatio)
	}
	for i := 0; i < 20; i++ {
		m.Process(constant(100, 0))
	}
	if n := len(rec.kinds(EventHardwareBlocked)); n != 1 {
		t.Errorf("event repeated: %d", n)
	}

	m.Stop()
	m.Start()
	for i := 0; i < 20; i++ {
		m.Process(constant(100, 0))
	}
	if n := len(rec.kinds(EventHardwareBlocked)); n != 2 {
		t.Errorf("new session should check again, events = %d", n)
	}
}

func TestHardwareBlockedThreshold(t *testing.T) {
	tests := []struct {
		name    string
		active  int // samples above the floor per 100
		blocked bool
	}{
		{"silent", 0, true},
		{"sparse", 9, true},
		{"ten percent", 10, false},
		{"live", 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(1000)
			rec := &recorder{}
			m := newMachine(t, cfg, rec)
			m.Start()
			block := make([]float32, 100)
			for i := 0; i < tt.active; i++ {
				block[i] = 0.01
			}
			for i := 0; i < 30; i++ {
				m.Process(block)
			}
			if got := len(rec.kinds(EventHardwareBlocked)) == 1; got != tt.blocked {
				t.Errorf("blocked = %v, want %v", got, tt.blocked)
			}
		})
	}
}

func TestStopClearsState(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	m.Process(constant(7000, 0.3))
	if s := m.Snapshot(); s.Written != 7000 || s.Delivered != int64(m.ChunkSize()) {
		t.Fatalf("snapshot %+v", s)
	}
	m.Stop()
	if s := m.Snapshot(); s != (Snapshot{Phase: PhaseIdle}) {
		t.Fatalf("snapshot after stop %+v", s)
	}
	for _, v := range m.ring {
		if v != 0 {
			t.Fatal("ring not cleared")
		}
	}

	rec.events = nil
	m.Start()
	m.Process(constant(m.ChunkSize(), 0.7))
	chunks := rec.kinds(EventChunk)
	if len(chunks) != 1 || chunks[0].Chunk.Offset != 0 || chunks[0].Chunk.Samples[0] != 0.7 {
		t.Fatalf("second session chunks %+v", chunks)
	}
}

func TestStopFromEveryPhase(t *testing.T) {
	drive := map[Phase]func(m *Machine){
		PhaseIdle:      func(m *Machine) {},
		PhaseWarmup:    func(m *Machine) { m.Start() },
		PhaseWaiting:   func(m *Machine) { m.Start(); m.Process(constant(100, 0)) },
		PhaseRecording: func(m *Machine) { m.Start(); m.Process(constant(100, 0)); m.Process(constant(10, 1)) },
	}
	for phase, fn := range drive {
		cfg := DefaultConfig(1000)
		cfg.WarmupMs = 100
		m := newMachine(t, cfg, nil)
		fn(m)
		if m.Phase() != phase {
			t.Fatalf("setup reached %v, want %v", m.Phase(), phase)
		}
		m.Stop()
		if s := m.Snapshot(); s != (Snapshot{Phase: PhaseIdle}) {
			t.Errorf("stop from %v left %+v", phase, s)
		}
	}
}

func TestRefusedChunkIsRetried(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	refusing := true
	rec := &recorder{refuse: func(ev Event) bool { return ev.Kind == EventChunk && refusing }}
	m := newMachine(t, cfg, rec)
	m.Start()

	signal := make([]float32, 3*m.ChunkSize())
	for i := range signal {
		signal[i] = float32(i)
	}
	m.Process(signal[:2*m.ChunkSize()])
	if n := len(rec.kinds(EventChunk)); n != 0 {
		t.Fatalf("refused chunks delivered: %d", n)
	}
	if s := m.Snapshot(); !s.Pending || s.Delivered != 0 {
		t.Fatalf("snapshot %+v", s)
	}

	refusing = false
	m.Process(nil)
	m.Process(signal[2*m.ChunkSize():])
	chunks := rec.kinds(EventChunk)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, ev := range chunks {
		if ev.Chunk.Offset != int64(i*m.ChunkSize()) || ev.Chunk.Samples[0] != float32(i*m.ChunkSize()) {
			t.Errorf("chunk %d out of order: offset %d", i, ev.Chunk.Offset)
		}
	}
}

func TestOverrunSkipsWholeChunks(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	refusing := true
	rec := &recorder{refuse: func(ev Event) bool { return ev.Kind == EventChunk && refusing }}
	m := newMachine(t, cfg, rec)
	m.Start()

	for i := 0; i < m.Capacity()/1000+2; i++ {
		m.Process(constant(1000, float32(i)))
	}
	overruns := rec.kinds(EventOverrun)
	if len(overruns) == 0 {
		t.Fatal("expected an overrun event")
	}
	s := m.Snapshot()
	if s.Delivered%int64(m.ChunkSize()) != 0 {
		t.Errorf("delivered %d not chunk aligned", s.Delivered)
	}
	if s.Written-s.Delivered > int64(m.Capacity()) {
		t.Errorf("backlog %d exceeds capacity", s.Written-s.Delivered)
	}

	refusing = false
	m.Process(nil)
	for _, ev := range rec.kinds(EventChunk) {
		if ev.Chunk.Offset%int64(m.ChunkSize()) != 0 {
			t.Errorf("chunk offset %d misaligned", ev.Chunk.Offset)
		}
	}
}

func TestDroppedEventsAreCounted(t *testing.T) {
	cfg := DefaultConfig(1000)
	m := newMachine(t, cfg, SinkFunc(func(Event) bool { return false }))
	m.Start()
	m.Stop()
	if m.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", m.Dropped())
	}
}

func TestChunkTiming(t *testing.T) {
	cfg := DefaultConfig(48000)
	cfg.WarmupMs = 0
	cfg.SignalThresholdRMS = 0
	rec := &recorder{}
	m := newMachine(t, cfg, rec)
	m.Start()
	for i := 0; i < 3; i++ {
		m.Process(constant(m.ChunkSize(), 0.1))
	}
	chunks := rec.kinds(EventChunk)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if got := chunks[2].Chunk.StartTime.Seconds(); math.Abs(got-0.66) > 1e-9 {
		t.Errorf("third chunk starts at %v", got)
	}
}

func TestSampleDuration(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		rate int
		want time.Duration
	}{
		{"zero", 0, 48000, 0},
		{"one chunk", 15840, 48000, 330 * time.Millisecond},
		{"fraction of a sample period", 1, 3, 333333333 * time.Nanosecond},
		{"sixty hours", 60 * 3600 * 48000, 48000, 60 * time.Hour},
		{"sixty hours and a half second", 60*3600*48000 + 24000, 48000, 60*time.Hour + 500*time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SampleDuration(tt.n, tt.rate); got != tt.want {
				t.Errorf("SampleDuration(%d, %d) = %v, want %v", tt.n, tt.rate, got, tt.want)
			}
		})
	}
}

func TestChunkTimingLongSession(t *testing.T) {
	m := newMachine(t, DefaultConfig(48000), &recorder{})
	m.delivered = 60 * 3600 * 48000

	c := m.readChunk()
	if c.StartTime != 60*time.Hour {
		t.Errorf("StartTime = %v, want 60h", c.StartTime)
	}
	if c.Offset != m.delivered || c.Duration != 330*time.Millisecond {
		t.Errorf("chunk offset %d duration %v", c.Offset, c.Duration)
	}
}

func equalPhases(a, b []Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
