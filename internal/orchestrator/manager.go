package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/config"
	apperrors "github.com/GriffinCanCode/machine-listener/backend/platform/internal/errors"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/fingerprint"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/alert"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/history"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/pipeline"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/records"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// SourceOpener opens the live audio input.
type SourceOpener func(ctx context.Context) (capture.Source, error)

// Deps are the manager's collaborators.
type Deps struct {
	Models  *store.Models
	Records *store.Records
	// Open opens the live input; nil means only pushed sources can be used.
	Open SourceOpener
}

// Manager coordinates capture, training, scoring and persistence. At most
// one capture session runs at a time.
type Manager struct {
	cfg     *config.Config
	models  *store.Models
	records *store.Records
	open    SourceOpener
	breaker *resilience.Breaker

	history *history.Store
	alerts  *alert.Detector
	batcher *records.Batcher

	current syncx.Slot[*session]
	events  chan Event
	dropped atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a manager.
func New(cfg *config.Config, deps Deps) *Manager {
	return &Manager{
		cfg:     cfg,
		models:  deps.Models,
		records: deps.Records,
		open:    deps.Open,
		breaker: resilience.New("audio_input", resilience.DeviceConfig()),
		history: history.NewStore(HistoryMaxEntries, HistoryMaxSummaries),
		alerts:  alert.NewDetector(cfg.AlertThreshold, cfg.AlertCooldown, AlertConsecutiveWindows, true),
		batcher: records.NewBatcher(deps.Records, cfg.RecordBatchSize, cfg.RecordFlushDelay),
		events:  make(chan Event, EventBuffer),
		stopCh:  make(chan struct{}),
	}
}

// Start launches background maintenance.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.compactLoop(ctx)
}

// Close stops any active session, flushes pending records and stops
// background work.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		_ = m.Stop()
		close(m.stopCh)
		m.wg.Wait()
		m.batcher.Stop()
		if n := m.dropped.Load(); n > 0 {
			trace.Logger(context.Background()).Warn("orchestrator events dropped", "count", n)
		}
	})
}

func (m *Manager) compactLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(HistoryCompactEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.history.Compact(HistoryCompactAge); n > 0 {
				trace.Logger(ctx).Debug("score history compacted", "entries", n)
			}
		}
	}
}

// Events returns the outbound event channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// DroppedEvents counts events discarded because no one was reading.
func (m *Manager) DroppedEvents() int64 { return m.dropped.Load() }

// emit sends an event (non-blocking).
func (m *Manager) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

// emitError publishes err classified into an error code.
func (m *Manager) emitError(typ EventType, s *session, machineID string, err error) {
	appErr := apperrors.FromDomain(err)
	ev := Event{Type: typ, MachineID: machineID, Code: string(appErr.Code), Message: appErr.Message}
	if s != nil {
		ev.SessionID, ev.Kind = s.id, s.kind
	}
	m.emit(ev)
}

// SetAlerting enables/disables alerts
func (m *Manager) SetAlerting(enabled bool) {
	m.alerts.SetEnabled(enabled)
}

// Status describes the manager and the active session, if any.
type Status struct {
	Active          bool           `json:"active"`
	Kind            Kind           `json:"kind,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	MachineID       string         `json:"machine_id,omitempty"`
	Phase           string         `json:"phase"`
	SampleRate      int            `json:"sample_rate,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	Blocks          int64          `json:"blocks"`
	Dropped         int64          `json:"dropped"`
	Progress        float64        `json:"progress,omitempty"`
	Scored          int64          `json:"scored,omitempty"`
	Training        bool           `json:"training,omitempty"`
	Recent          *history.Stats `json:"recent,omitempty"`
	AlertsEnabled   bool           `json:"alerts_enabled"`
	LiveInput       bool           `json:"live_input"`
	InputBreaker    string         `json:"input_breaker"`
	// InputRetryAfter is how long the open input breaker refuses sessions.
	InputRetryAfter time.Duration  `json:"input_retry_after,omitempty"`
}

// Status returns a snapshot of the current state.
func (m *Manager) Status() Status {
	st := Status{
		Phase:         capture.PhaseIdle.String(),
		AlertsEnabled: m.alerts.IsEnabled(),
		LiveInput:     m.open != nil,
	}
	input := m.breaker.Counts()
	st.InputBreaker, st.InputRetryAfter = input.State.String(), input.RetryAfter
	s, ok := m.current.Current()
	if !ok {
		return st
	}
	started := s.startedAt
	st.Active = true
	st.Kind = s.kind
	st.SessionID = s.id
	st.MachineID = s.machineID
	st.StartedAt = &started
	st.SampleRate = s.rate
	st.Phase = s.runner.Phase().String()
	st.Blocks = s.runner.Blocks()
	st.Dropped = s.runner.Dropped()
	st.Scored = s.scored.Load()
	st.Training = s.training.Load()
	if s.target > 0 {
		st.Progress = min(float64(s.collected.Load())/float64(s.target), 1)
	}
	if stats, ok := m.history.Stats(s.machineID, StatusWindow); ok {
		st.Recent = &stats
	}
	return st
}

// ListModels lists stored reference models.
func (m *Manager) ListModels(ctx context.Context) ([]store.ModelSummary, error) {
	return m.models.List(ctx)
}

// Model returns the stored reference for machineID.
func (m *Manager) Model(ctx context.Context, machineID string) (*store.ModelRecord, error) {
	if err := store.ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	return m.models.Load(ctx, machineID)
}

// ModelHistory lists archived references for machineID, oldest first.
func (m *Manager) ModelHistory(ctx context.Context, machineID string) ([]store.ModelSummary, error) {
	if err := store.ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	return m.models.History(ctx, machineID)
}

// DeleteModel removes machineID's reference and its in-memory state.
func (m *Manager) DeleteModel(ctx context.Context, machineID string) error {
	if err := store.ValidateMachineID(machineID); err != nil {
		return err
	}
	if s, ok := m.current.Current(); ok && s.machineID == machineID {
		return apperrors.Newf(apperrors.CodeSessionActive, "%s session %s is using %s", s.kind, s.id, machineID)
	}
	if err := m.models.Delete(ctx, machineID); err != nil {
		return err
	}
	m.history.Forget(machineID)
	m.alerts.Reset(machineID)
	return nil
}

// RecentRecords returns persisted diagnosis records, oldest first.
func (m *Manager) RecentRecords(ctx context.Context, machineID string, limit int) ([]store.DiagnosisRecord, error) {
	if err := store.ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	m.batcher.Flush()
	return m.records.Recent(ctx, machineID, limit)
}

// RecentScores returns in-memory scores from the last d.
func (m *Manager) RecentScores(machineID string, d time.Duration) []history.Entry {
	return m.history.Recent(machineID, d)
}

// saveReference stores a trained reference, warning about near-duplicate
// fingerprints on other machines.
func (m *Manager) saveReference(ctx context.Context, ref *pipeline.Reference) (*store.ModelSummary, error) {
	ctx, span := trace.StartSpan(ctx, "save_reference")
	log := trace.Logger(ctx)

	if ref.Fingerprint != "" {
		m.checkDuplicate(ctx, ref)
	}
	if err := m.models.Save(ctx, ref.Model, ref.Fingerprint); err != nil {
		span.Finish(err)
		return nil, fmt.Errorf("save reference %s: %w", ref.Model.MachineID, err)
	}
	m.history.Forget(ref.Model.MachineID)
	m.alerts.Reset(ref.Model.MachineID)
	span.Finish(nil)

	rec := store.ModelRecord{Model: ref.Model, Fingerprint: ref.Fingerprint}
	summary := rec.Summary()
	log.Info("reference model saved",
		"sample_rate", summary.SampleRate,
		"vectors", summary.TrainingVectors,
		"mean_similarity", summary.MeanSimilarity,
		"fingerprint", summary.Fingerprint)
	return &summary, nil
}

func (m *Manager) checkDuplicate(ctx context.Context, ref *pipeline.Reference) {
	list, err := m.models.List(ctx)
	if err != nil {
		trace.Logger(ctx).Debug("duplicate check skipped", "error", err)
		return
	}
	for _, other := range list {
		if other.MachineID == ref.Model.MachineID || other.Fingerprint == "" {
			continue
		}
		if fingerprint.Similar(ref.Fingerprint, other.Fingerprint) {
			trace.Logger(ctx).Warn("reference sounds like another machine", "similar_to", other.MachineID)
			m.emit(Event{
				Type:      EventReferenceSimilar,
				MachineID: ref.Model.MachineID,
				SimilarTo: other.MachineID,
				Message:   "reference fingerprint is a near duplicate of " + other.MachineID,
			})
		}
	}
}
