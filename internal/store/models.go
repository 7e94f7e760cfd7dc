package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/gmia"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/resilience"
)

const (
	modelPrefix   = "model"
	archivePrefix = "model-archive"

	modelFormatVersion = 1
)

// ModelRecord is the stored form of a model plus reference metadata.
// msgpack encodes float64 as 8-byte IEEE values, so weights and the
// calibration constant round-trip bit for bit.
type ModelRecord struct {
	Version     int         `msgpack:"version"`
	Model       *gmia.Model `msgpack:"model"`
	Fingerprint string      `msgpack:"fingerprint"`
	SavedAt     time.Time   `msgpack:"saved_at"`
}

// ModelSummary is a listing row.
type ModelSummary struct {
	MachineID       string    `json:"machine_id"`
	SampleRate      int       `json:"sample_rate"`
	Dimension       int       `json:"dimension"`
	MeanSimilarity  float64   `json:"mean_similarity"`
	Scaling         float64   `json:"scaling"`
	TrainingVectors int       `json:"training_vectors"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary describes r for listings.
func (r *ModelRecord) Summary() ModelSummary {
	return ModelSummary{
		MachineID:       r.Model.MachineID,
		SampleRate:      r.Model.SampleRate,
		Dimension:       r.Model.Dimension,
		MeanSimilarity:  r.Model.Metadata.MeanSimilarity,
		Scaling:         r.Model.Scaling,
		TrainingVectors: r.Model.Metadata.TrainingVectors,
		Fingerprint:     r.Fingerprint,
		CreatedAt:       r.Model.CreatedAt,
	}
}

// Models stores one current model per machine. Saving over an existing
// model moves the old one to the archive.
type Models struct {
	kv    KV
	retry resilience.RetryConfig
}

// NewModels creates a model repository on kv.
func NewModels(kv KV) *Models {
	return &Models{kv: kv, retry: resilience.StoreRetryConfig(IsConflict)}
}

// Save stores m as the current reference for its machine.
func (s *Models) Save(ctx context.Context, m *gmia.Model, fingerprint string) error {
	if err := ValidateMachineID(m.MachineID); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("store: refusing invalid model: %w", err)
	}
	data, err := msgpack.Marshal(&ModelRecord{
		Version:     modelFormatVersion,
		Model:       m,
		Fingerprint: fingerprint,
		SavedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store: encode model: %w", err)
	}

	return resilience.Retry(ctx, s.retry, func() error {
		entries := []Entry{{Key: Key(modelPrefix, m.MachineID), Value: data}}
		prev, err := s.kv.Get(ctx, Key(modelPrefix, m.MachineID))
		switch {
		case err == nil:
			entries = append(entries, Entry{Key: archiveKey(m.MachineID, time.Now()), Value: prev})
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return s.kv.PutBatch(ctx, entries)
	})
}

// Load returns the current record for machineID.
func (s *Models) Load(ctx context.Context, machineID string) (*ModelRecord, error) {
	data, err := s.kv.Get(ctx, Key(modelPrefix, machineID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("model %q: %w", machineID, ErrNotFound)
		}
		return nil, err
	}
	return decodeModel(data)
}

// Delete removes the current model. Archived versions are kept.
func (s *Models) Delete(ctx context.Context, machineID string) error {
	if _, err := s.kv.Get(ctx, Key(modelPrefix, machineID)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("model %q: %w", machineID, ErrNotFound)
		}
		return err
	}
	return s.kv.Delete(ctx, Key(modelPrefix, machineID))
}

// List summarizes every current model ordered by machine id.
func (s *Models) List(ctx context.Context) ([]ModelSummary, error) {
	var out []ModelSummary
	for e, err := range s.kv.Scan(ctx, dir(modelPrefix)) {
		if err != nil {
			return nil, err
		}
		rec, err := decodeModel(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		out = append(out, rec.Summary())
	}
	return out, nil
}

// History returns archived models for machineID, oldest first.
func (s *Models) History(ctx context.Context, machineID string) ([]ModelSummary, error) {
	var out []ModelSummary
	for e, err := range s.kv.Scan(ctx, dir(archivePrefix, machineID)) {
		if err != nil {
			return nil, err
		}
		rec, err := decodeModel(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		out = append(out, rec.Summary())
	}
	return out, nil
}

func decodeModel(data []byte) (*ModelRecord, error) {
	var rec ModelRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: decode model: %w", err)
	}
	if rec.Version != modelFormatVersion {
		return nil, fmt.Errorf("store: unsupported model format %d", rec.Version)
	}
	if err := rec.Model.Validate(); err != nil {
		return nil, fmt.Errorf("store: stored model invalid: %w", err)
	}
	return &rec, nil
}

// archiveKey sorts chronologically: nanoseconds are zero-padded.
func archiveKey(machineID string, at time.Time) string {
	return Key(archivePrefix, machineID, fmt.Sprintf("%020d", at.UnixNano()))
}
