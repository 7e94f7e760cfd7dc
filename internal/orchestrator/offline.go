package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/pipeline"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// TrainFromSamples trains and stores a reference from a recorded buffer,
// bypassing capture.
func (m *Manager) TrainFromSamples(ctx context.Context, machineID string, samples []float32, sampleRate int) (*store.ModelSummary, error) {
	if err := store.ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	ctx, span := trace.StartSpan(trace.WithSession(ctx, "", machineID), "train_offline")
	span.SetAttr("samples", len(samples))

	ref, err := pipeline.Train(machineID, samples, m.cfg.Features(sampleRate))
	if err != nil {
		span.Finish(err)
		return nil, err
	}
	summary, err := m.saveReference(ctx, ref)
	span.Finish(err)
	if err != nil {
		return nil, err
	}
	m.emit(Event{Type: EventModelTrained, MachineID: machineID, Model: summary})
	return summary, nil
}

// Diagnosis is the outcome of scoring a recorded buffer.
type Diagnosis struct {
	MachineID  string            `json:"machine_id"`
	SessionID  string            `json:"session_id"`
	SampleRate int               `json:"sample_rate"`
	Windows    int               `json:"windows"`
	MeanScore  float64           `json:"mean_score"`
	MinScore   float64           `json:"min_score"`
	Results    []pipeline.Result `json:"results"`
}

// DiagnoseSamples scores a recorded buffer against machineID's reference.
// Results go to history and records but raise no alerts.
func (m *Manager) DiagnoseSamples(ctx context.Context, machineID string, samples []float32, sampleRate int) (*Diagnosis, error) {
	if err := store.ValidateMachineID(machineID); err != nil {
		return nil, err
	}
	sessionID := uuid.NewString()
	ctx, span := trace.StartSpan(trace.WithSession(ctx, sessionID, machineID), "diagnose_offline")
	span.SetAttr("samples", len(samples))

	rec, err := m.models.Load(ctx, machineID)
	if err != nil {
		span.Finish(err)
		return nil, err
	}
	proc, err := pipeline.NewProcessor(rec.Model, m.cfg.Features(sampleRate))
	if err != nil {
		span.Finish(err)
		return nil, err
	}
	results, err := proc.Samples(samples, sampleRate)
	if err != nil {
		span.Finish(err)
		return nil, err
	}

	d := &Diagnosis{
		MachineID:  machineID,
		SessionID:  sessionID,
		SampleRate: sampleRate,
		Windows:    len(results),
		Results:    results,
	}
	d.MeanScore, d.MinScore = pipeline.Summarize(results)
	for _, r := range results {
		m.recordResult(machineID, d.SessionID, r)
	}
	span.SetAttr("windows", d.Windows)
	span.Finish(nil)

	trace.Logger(ctx).Info("recording diagnosed", "windows", d.Windows, "mean_score", d.MeanScore, "min_score", d.MinScore)
	return d, nil
}
