package capture

import (
	"fmt"
	"time"
)

// Phase is the capture protocol state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWarmup
	PhaseWaiting
	PhaseRecording
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWarmup:
		return "warmup"
	case PhaseWaiting:
		return "waiting"
	case PhaseRecording:
		return "recording"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Chunk is one fixed-length window of recorded audio. The receiver owns
// Samples exclusively; the machine never touches it after hand-off.
type Chunk struct {
	Samples      []float32
	Offset       int64 // first sample index within the recording
	StartTime    time.Duration
	Duration     time.Duration
	SampleRate   int
	Standardized bool
}

// SampleDuration converts a sample count at rate to a duration. Whole
// seconds are split off first so counts from multi-day sessions do not
// overflow.
func SampleDuration(n int64, rate int) time.Duration {
	r := int64(rate)
	return time.Duration(n/r)*time.Second + time.Duration(n%r)*time.Second/time.Duration(r)
}

// EventKind identifies an Event.
type EventKind int

const (
	EventPhase EventKind = iota
	EventHardwareBlocked
	EventChunk
	EventTimeout
	EventOverrun
)

func (k EventKind) String() string {
	switch k {
	case EventPhase:
		return "phase"
	case EventHardwareBlocked:
		return "hardware_blocked"
	case EventChunk:
		return "chunk"
	case EventTimeout:
		return "timeout"
	case EventOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Event is emitted by the machine. Fields beyond Kind are populated per kind:
// Phase/Previous for EventPhase, Chunk/WritePos for EventChunk,
// ActiveRatio for EventHardwareBlocked, Samples for EventTimeout (samples
// waited) and EventOverrun (samples skipped).
type Event struct {
	Kind        EventKind
	Phase       Phase
	Previous    Phase
	Chunk       *Chunk
	WritePos    int
	Samples     int64
	ActiveRatio float64
}

// Sink receives events. Deliver must not block; it reports whether the
// event was accepted.
type Sink interface {
	Deliver(Event) bool
}

// ChannelSink delivers into a buffered channel, refusing when full.
type ChannelSink chan Event

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) ChannelSink { return make(ChannelSink, size) }

func (s ChannelSink) Deliver(ev Event) bool {
	select {
	case s <- ev:
		return true
	default:
		return false
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) bool

func (f SinkFunc) Deliver(ev Event) bool { return f(ev) }
