package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	apperrors "github.com/GriffinCanCode/machine-listener/backend/platform/internal/errors"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/history"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/pipeline"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// session end reasons
const (
	reasonComplete   = "complete"
	reasonTimeout    = "timeout"
	reasonStopped    = "stopped"
	reasonInputEnded = "input_ended"
)

// session is one capture run. The consumer goroutine owns collector and
// proc; everything Status reads is atomic or immutable.
type session struct {
	id        string
	kind      Kind
	machineID string
	ctx       context.Context // log scope, outlives the starting request
	startedAt time.Time
	rate      int
	target    int64

	src    capture.Source
	runner *capture.Runner
	sink   capture.ChannelSink

	collector *pipeline.Collector
	proc      *pipeline.Processor

	cancel  context.CancelFunc
	runDone chan struct{}
	done    chan struct{}
	endOnce sync.Once
	runErr  error

	reason    atomic.Value
	collected atomic.Int64
	scored    atomic.Int64
	training  atomic.Bool
}

func (s *session) setReason(r string) {
	s.reason.CompareAndSwap(nil, r)
}

func (s *session) endReason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return reasonInputEnded
}

// end stops capture and waits for the runner to return. Closing the source
// unblocks a pending ReadBlock.
func (s *session) end() {
	s.endOnce.Do(func() {
		s.cancel()
		_ = s.src.Close()
		<-s.runDone
	})
}

// StartReference records a reference for machineID from the live input.
// Training runs once ReferenceSeconds of signal have been collected.
func (m *Manager) StartReference(ctx context.Context, machineID string) (string, error) {
	return m.begin(ctx, KindReference, machineID, nil)
}

// StartDiagnosis scores live input against machineID's stored reference.
func (m *Manager) StartDiagnosis(ctx context.Context, machineID string) (string, error) {
	return m.begin(ctx, KindDiagnosis, machineID, nil)
}

// StartReferenceFrom is StartReference on a caller-supplied source. The
// session closes src when it ends.
func (m *Manager) StartReferenceFrom(ctx context.Context, machineID string, src capture.Source) (string, error) {
	return m.begin(ctx, KindReference, machineID, src)
}

// StartDiagnosisFrom is StartDiagnosis on a caller-supplied source.
func (m *Manager) StartDiagnosisFrom(ctx context.Context, machineID string, src capture.Source) (string, error) {
	return m.begin(ctx, KindDiagnosis, machineID, src)
}

// Stop ends the active session, if any, and waits for it to wind down.
// Capture returns to idle with its buffer cleared.
func (m *Manager) Stop() error {
	s, ok := m.current.Current()
	if !ok {
		return nil
	}
	s.setReason(reasonStopped)
	s.end()
	<-s.done
	return nil
}

// Wait blocks until the active session ends or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	s, ok := m.current.Current()
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) begin(ctx context.Context, kind Kind, machineID string, src capture.Source) (string, error) {
	closeSrc := func() {
		if src != nil {
			_ = src.Close()
		}
	}
	if err := store.ValidateMachineID(machineID); err != nil {
		closeSrc()
		return "", err
	}

	s := &session{
		id:        uuid.NewString(),
		kind:      kind,
		machineID: machineID,
		startedAt: time.Now().UTC(),
		runDone:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	err := m.current.Claim(s, func(cur *session) error {
		return apperrors.Newf(apperrors.CodeSessionActive, "%s session %s already running for %s", cur.kind, cur.id, cur.machineID)
	})
	if err != nil {
		closeSrc()
		return "", err
	}

	ctx = trace.WithSession(ctx, s.id, machineID)
	s.ctx = context.WithoutCancel(ctx)
	ctx, span := trace.StartSpan(ctx, "start_session")
	span.SetAttr("kind", string(kind))
	if err := m.prepare(ctx, s, src); err != nil {
		span.Finish(err)
		m.release(s)
		return "", err
	}
	span.Finish(nil)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.runner.Start(); err != nil {
		cancel()
		_ = s.src.Close()
		m.release(s)
		return "", err
	}
	go m.run(runCtx, s)
	go m.consume(s)

	trace.Logger(ctx).Info("session started", "kind", kind, "sample_rate", s.rate)
	m.emit(Event{Type: EventSessionStarted, SessionID: s.id, Kind: kind, MachineID: machineID})
	return s.id, nil
}

// prepare opens the source and builds the capture machine and the
// per-kind consumer state. On error src is closed.
func (m *Manager) prepare(ctx context.Context, s *session, src capture.Source) error {
	if src == nil {
		if m.open == nil {
			return apperrors.New(apperrors.CodeAudioNoDevice, "no live audio input configured")
		}
		var err error
		src, err = resilience.ExecuteWithResult(m.breaker, func() (capture.Source, error) {
			return m.open(ctx)
		})
		if err != nil {
			return err
		}
	}
	s.src = src
	s.rate = src.SampleRate()

	if err := m.prepareConsumer(ctx, s); err != nil {
		_ = src.Close()
		return err
	}

	cfg := m.cfg.Capture(s.rate)
	s.sink = capture.NewChannelSink(CaptureEventBuffer)
	machine, err := capture.NewMachine(cfg, s.sink)
	if err != nil {
		_ = src.Close()
		return err
	}
	s.runner, err = capture.NewRunner(machine, src)
	if err != nil {
		_ = src.Close()
		return err
	}
	return nil
}

func (m *Manager) prepareConsumer(ctx context.Context, s *session) error {
	switch s.kind {
	case KindReference:
		s.target = int64(m.cfg.ReferenceSeconds * float64(s.rate))
		s.collector = pipeline.NewCollector(int(s.target))
	case KindDiagnosis:
		rec, err := m.models.Load(ctx, s.machineID)
		if err != nil {
			return err
		}
		// fails fast on a sample rate mismatch
		s.proc, err = pipeline.NewProcessor(rec.Model, m.cfg.Features(s.rate))
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) release(s *session) {
	m.current.Release(s)
}

// run drives capture on its own OS thread until the session ends.
func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.runDone)
	err := s.runner.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.runErr = err
	}
}

// consume turns capture events into scores, references and outbound events.
func (m *Manager) consume(s *session) {
	defer close(s.done)
	defer m.finish(s)

	for {
		select {
		case ev := <-s.sink:
			if m.handle(s, ev) {
				return
			}
		case <-s.runDone:
			for {
				select {
				case ev := <-s.sink:
					if m.handle(s, ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// handle processes one capture event and reports whether the session is over.
func (m *Manager) handle(s *session, ev capture.Event) bool {
	base := Event{SessionID: s.id, Kind: s.kind, MachineID: s.machineID}
	switch ev.Kind {
	case capture.EventPhase:
		base.Type, base.Phase, base.Previous = EventPhase, ev.Phase.String(), ev.Previous.String()
		m.emit(base)
	case capture.EventHardwareBlocked:
		trace.Logger(s.ctx).Warn("input looks blocked or muted", "active_ratio", ev.ActiveRatio)
		base.Type, base.ActiveRatio = EventHardwareBlocked, ev.ActiveRatio
		base.Message = "input appears silent; check microphone permissions or mute"
		m.emit(base)
	case capture.EventTimeout:
		base.Type, base.Message = EventTimeout, "no signal above threshold before the wait limit"
		m.emit(base)
		s.setReason(reasonTimeout)
		return true
	case capture.EventOverrun:
		trace.Logger(s.ctx).Warn("capture overrun", "skipped_samples", ev.Samples)
		base.Type = EventOverrun
		m.emit(base)
	case capture.EventChunk:
		return m.chunk(s, ev.Chunk)
	}
	return false
}

func (m *Manager) chunk(s *session, c *capture.Chunk) bool {
	if c == nil {
		return false
	}
	switch s.kind {
	case KindReference:
		done := s.collector.Add(c.Samples)
		s.collected.Store(int64(len(s.collector.Samples())))
		if done {
			s.setReason(reasonComplete)
		}
		return done
	case KindDiagnosis:
		m.score(s, *c)
	}
	return false
}

func (m *Manager) score(s *session, c capture.Chunk) {
	res, err := s.proc.Chunk(c)
	if err != nil {
		trace.Logger(s.ctx).Debug("chunk not scored", "offset", c.Offset, "error", err)
		m.emitError(EventError, s, s.machineID, err)
		return
	}
	s.scored.Add(1)
	m.recordResult(s.machineID, s.id, res)
	m.emit(Event{Type: EventScore, SessionID: s.id, Kind: s.kind, MachineID: s.machineID, Result: &res})

	if a, ok := m.alerts.Check(s.machineID, res.Score); ok {
		m.emit(Event{Type: EventAlert, SessionID: s.id, Kind: s.kind, MachineID: s.machineID, Alert: &a})
	}
}

func (m *Manager) recordResult(machineID, sessionID string, res pipeline.Result) {
	m.history.Add(history.Entry{
		MachineID:  machineID,
		SessionID:  sessionID,
		Offset:     res.Offset,
		Similarity: res.Similarity,
		Score:      res.Score,
	})
	m.batcher.Add(store.DiagnosisRecord{
		MachineID:  machineID,
		SessionID:  sessionID,
		Offset:     res.Offset,
		Similarity: res.Similarity,
		Score:      res.Score,
		RMS:        res.RMS,
		Degraded:   res.Degraded,
	})
}

// finish stops capture, trains a completed reference and frees the slot.
func (m *Manager) finish(s *session) {
	s.end()
	ctx := s.ctx
	log := trace.Logger(ctx)

	if s.runErr != nil {
		log.Error("capture failed", "error", s.runErr)
		m.emitError(EventError, s, s.machineID, s.runErr)
	}
	if n := s.runner.Dropped(); n > 0 {
		log.Warn("capture events dropped", "count", n)
	}

	if s.kind == KindReference {
		if s.collector.Done() {
			m.completeReference(ctx, s)
		} else if s.endReason() != reasonStopped {
			have := time.Duration(float64(len(s.collector.Samples())) / float64(s.rate) * float64(time.Second))
			m.emitError(EventTrainingFailed, s, s.machineID,
				apperrors.Newf(apperrors.CodeInsufficientSignal, "reference capture ended after %s of signal", have.Round(time.Millisecond)))
		}
	}

	m.release(s)
	reason := s.endReason()
	log.Info("session ended", "reason", reason)
	m.emit(Event{Type: EventSessionEnded, SessionID: s.id, Kind: s.kind, MachineID: s.machineID, Message: reason})
}

func (m *Manager) completeReference(ctx context.Context, s *session) {
	s.training.Store(true)
	defer s.training.Store(false)

	ctx, span := trace.StartSpan(ctx, "train_reference")
	span.SetAttr("samples", len(s.collector.Samples()))

	ref, err := pipeline.Train(s.machineID, s.collector.Samples(), m.cfg.Features(s.rate))
	if err == nil {
		var summary *store.ModelSummary
		summary, err = m.saveReference(ctx, ref)
		if err == nil {
			span.Finish(nil)
			m.emit(Event{Type: EventModelTrained, SessionID: s.id, Kind: s.kind, MachineID: s.machineID, Model: summary})
			return
		}
	}
	span.Finish(err)
	m.emitError(EventTrainingFailed, s, s.machineID, err)
}
