// Package capture implements the warmup/wait/record protocol that turns a
// live stream of hardware blocks into fixed-length chunks.
package capture

import (
	"sync/atomic"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/dsp"
)

// Machine is the capture state machine. All methods except Phase and
// Dropped must be called from a single goroutine (see Runner).
type Machine struct {
	cfg  Config
	sink Sink

	chunkSize     int
	warmupSamples int64
	waitSamples   int64
	scanSamples   int64

	phase atomic.Int32

	ring      []float32
	writePos  int
	written   int64
	delivered int64
	pending   *Chunk

	total      int64 // samples seen since Start
	phaseStart int64

	scanned        int64
	active         int64
	blockedChecked bool

	dropped atomic.Int64
}

// Snapshot is a point-in-time view of the machine's cursors.
type Snapshot struct {
	Phase     Phase
	WritePos  int
	ReadPos   int
	Written   int64
	Delivered int64
	Total     int64
	Pending   bool
}

// NewMachine validates cfg and preallocates the ring buffer.
func NewMachine(cfg Config, sink Sink) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = SinkFunc(func(Event) bool { return true })
	}
	return &Machine{
		cfg:           cfg,
		sink:          sink,
		chunkSize:     cfg.ChunkSize(),
		warmupSamples: cfg.WarmupSamples(),
		waitSamples:   cfg.MaxWaitSamples(),
		scanSamples:   cfg.blockedScanSamples(),
		ring:          make([]float32, cfg.BufferCapacity()),
	}, nil
}

// Config returns the session parameters.
func (m *Machine) Config() Config { return m.cfg }

// ChunkSize returns the emitted chunk length in samples.
func (m *Machine) ChunkSize() int { return m.chunkSize }

// Capacity returns the ring buffer capacity in samples.
func (m *Machine) Capacity() int { return len(m.ring) }

// Phase is safe to call from any goroutine.
func (m *Machine) Phase() Phase { return Phase(m.phase.Load()) }

// Dropped counts fire-and-forget events the sink refused. Safe from any
// goroutine.
func (m *Machine) Dropped() int64 { return m.dropped.Load() }

// Snapshot returns the current cursors.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Phase:     m.Phase(),
		WritePos:  m.writePos,
		ReadPos:   int(m.delivered % int64(len(m.ring))),
		Written:   m.written,
		Delivered: m.delivered,
		Total:     m.total,
		Pending:   m.pending != nil,
	}
}

// Start begins a new session from a clean buffer and enters warmup.
func (m *Machine) Start() {
	m.clear()
	m.setPhase(PhaseWarmup)
}

// Stop ends the session. The buffer and cursors are cleared.
func (m *Machine) Stop() {
	m.clear()
	m.setPhase(PhaseIdle)
}

// Reset clears all state and returns to idle without emitting events.
func (m *Machine) Reset() {
	m.clear()
	m.phase.Store(int32(PhaseIdle))
}

// Process consumes one hardware block. The block is only read during the
// call. Blocks arriving while idle are ignored.
func (m *Machine) Process(block []float32) {
	for len(block) > 0 {
		switch m.Phase() {
		case PhaseIdle:
			return
		case PhaseWarmup:
			block = m.warmup(block)
		case PhaseWaiting:
			block = m.wait(block)
		case PhaseRecording:
			m.record(block)
			return
		}
	}
	// retry a chunk the sink refused earlier even when no new data arrived
	if m.Phase() == PhaseRecording {
		m.emit()
	}
}

// warmup discards samples until the warmup duration elapses and returns the
// part of block that belongs to the next phase.
func (m *Machine) warmup(block []float32) []float32 {
	remaining := m.warmupSamples - (m.total - m.phaseStart)
	n := int64(len(block))
	if remaining < n {
		n = max(remaining, 0)
	}
	m.scan(block[:n])
	m.total += n
	if m.total-m.phaseStart >= m.warmupSamples {
		m.phaseStart = m.total
		m.setPhase(PhaseWaiting)
	}
	return block[n:]
}

// scan feeds the hardware-blocked check, which runs once per session over
// the first BlockedScanSeconds of warmup.
func (m *Machine) scan(block []float32) {
	if m.blockedChecked || len(block) == 0 {
		return
	}
	if left := m.scanSamples - m.scanned; int64(len(block)) > left {
		block = block[:left]
	}
	m.scanned += int64(len(block))
	m.active += int64(dsp.CountAbove(block, BlockedNoiseFloor))
	if m.scanned < m.scanSamples {
		return
	}
	m.blockedChecked = true
	ratio := float64(m.active) / float64(m.scanned)
	if ratio < BlockedMinActive {
		m.notify(Event{Kind: EventHardwareBlocked, ActiveRatio: ratio})
	}
}

func (m *Machine) wait(block []float32) []float32 {
	if dsp.RMS32(block) >= m.cfg.SignalThresholdRMS {
		m.phaseStart = m.total
		m.setPhase(PhaseRecording)
		return block
	}
	m.total += int64(len(block))
	if waited := m.total - m.phaseStart; waited >= m.waitSamples {
		m.clear()
		m.setPhase(PhaseIdle)
		m.notify(Event{Kind: EventTimeout, Samples: waited})
	}
	return nil
}

func (m *Machine) record(block []float32) {
	capacity := int64(len(m.ring))
	// writing would overwrite undelivered samples: skip whole chunks
	if backlog := m.written + int64(len(block)) - m.delivered; backlog > capacity {
		skip := backlog - capacity
		chunks := (skip + int64(m.chunkSize) - 1) / int64(m.chunkSize)
		m.delivered += chunks * int64(m.chunkSize)
		m.pending = nil
		m.notify(Event{Kind: EventOverrun, Samples: chunks * int64(m.chunkSize)})
	}

	for len(block) > 0 {
		n := copy(m.ring[m.writePos:], block)
		block = block[n:]
		m.writePos = (m.writePos + n) % len(m.ring)
		m.written += int64(n)
		m.total += int64(n)
	}
	m.emit()
}

// emit hands off every complete chunk in FIFO order. A refused chunk stays
// pending and is retried on the next call.
func (m *Machine) emit() {
	for {
		if m.pending == nil {
			if m.written-m.delivered < int64(m.chunkSize) {
				return
			}
			m.pending = m.readChunk()
		}
		ok := m.sink.Deliver(Event{Kind: EventChunk, Chunk: m.pending, WritePos: m.writePos})
		if !ok {
			return
		}
		m.pending = nil
		m.delivered += int64(m.chunkSize)
	}
}

func (m *Machine) readChunk() *Chunk {
	out := make([]float32, m.chunkSize)
	start := int(m.delivered % int64(len(m.ring)))
	n := copy(out, m.ring[start:])
	if n < m.chunkSize {
		copy(out[n:], m.ring[:m.chunkSize-n])
	}
	return &Chunk{
		Samples:    out,
		Offset:     m.delivered,
		StartTime:  SampleDuration(m.delivered, m.cfg.SampleRate),
		Duration:   SampleDuration(int64(m.chunkSize), m.cfg.SampleRate),
		SampleRate: m.cfg.SampleRate,
	}
}

func (m *Machine) setPhase(p Phase) {
	prev := Phase(m.phase.Swap(int32(p)))
	if prev != p {
		m.notify(Event{Kind: EventPhase, Phase: p, Previous: prev})
	}
}

func (m *Machine) notify(ev Event) {
	if !m.sink.Deliver(ev) {
		m.dropped.Add(1)
	}
}

func (m *Machine) clear() {
	clear(m.ring)
	m.writePos = 0
	m.written = 0
	m.delivered = 0
	m.pending = nil
	m.total = 0
	m.phaseStart = 0
	m.scanned = 0
	m.active = 0
	m.blockedChecked = false
}
