package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/resilience"
)

const recordPrefix = "record"

// DiagnosisRecord is one scored window from a diagnosis session.
type DiagnosisRecord struct {
	ID         string    `json:"id" msgpack:"id"`
	MachineID  string    `json:"machine_id" msgpack:"machine_id"`
	SessionID  string    `json:"session_id" msgpack:"session_id"`
	Offset     int64     `json:"offset" msgpack:"offset"`
	Similarity float64   `json:"similarity" msgpack:"similarity"`
	Score      float64   `json:"score" msgpack:"score"`
	RMS        float64   `json:"rms" msgpack:"rms"`
	Degraded   bool      `json:"degraded" msgpack:"degraded"`
	At         time.Time `json:"at" msgpack:"at"`
}

// Records stores diagnosis records keyed by machine and time.
type Records struct {
	kv    KV
	retry resilience.RetryConfig
}

// NewRecords creates a record repository on kv.
func NewRecords(kv KV) *Records {
	return &Records{kv: kv, retry: resilience.StoreRetryConfig(IsConflict)}
}

// Append writes records in one batch, assigning IDs where missing.
func (s *Records) Append(ctx context.Context, recs []DiagnosisRecord) error {
	if len(recs) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.At.IsZero() {
			r.At = time.Now().UTC()
		}
		data, err := msgpack.Marshal(r)
		if err != nil {
			return fmt.Errorf("store: encode record: %w", err)
		}
		entries = append(entries, Entry{Key: recordKey(r), Value: data})
	}
	return resilience.Retry(ctx, s.retry, func() error {
		return s.kv.PutBatch(ctx, entries)
	})
}

// Recent returns up to limit of the newest records for machineID, oldest
// first. limit <= 0 returns all.
func (s *Records) Recent(ctx context.Context, machineID string, limit int) ([]DiagnosisRecord, error) {
	var out []DiagnosisRecord
	for e, err := range s.kv.Scan(ctx, dir(recordPrefix, machineID)) {
		if err != nil {
			return nil, err
		}
		var r DiagnosisRecord
		if err := msgpack.Unmarshal(e.Value, &r); err != nil {
			return nil, fmt.Errorf("store: decode record %s: %w", e.Key, err)
		}
		out = append(out, r)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	return out, nil
}

func recordKey(r *DiagnosisRecord) string {
	return Key(recordPrefix, r.MachineID, fmt.Sprintf("%020d-%s", r.At.UnixNano(), r.ID))
}
