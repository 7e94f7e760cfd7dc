package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

type mockAppender struct {
	mu    sync.Mutex
	calls [][]store.DiagnosisRecord
	err   error
}

func (m *mockAppender) Append(_ context.Context, recs []store.DiagnosisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recs)
	return m.err
}

func (m *mockAppender) getCalls() [][]store.DiagnosisRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func rec(score float64) store.DiagnosisRecord {
	return store.DiagnosisRecord{MachineID: "pump-1", Score: score}
}

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	mock := &mockAppender{}
	b := NewBatcher(mock, 3, time.Hour)

	b.Add(rec(1))
	b.Add(rec(2))
	if b.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", b.Pending())
	}
	b.Add(rec(3))
	b.Flush()

	calls := mock.getCalls()
	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("calls = %v, want one batch of 3", calls)
	}
	if calls[0][2].Score != 3 {
		t.Error("batch order not preserved")
	}
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	mock := &mockAppender{}
	b := NewBatcher(mock, 100, 20*time.Millisecond)

	b.Add(rec(1))

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.getCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(mock.getCalls()) != 1 {
		t.Fatal("timer flush did not happen")
	}
	b.Stop()
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	mock := &mockAppender{}
	b := NewBatcher(mock, 100, time.Hour)

	b.Add(rec(1))
	b.Add(rec(2))
	b.Stop()

	calls := mock.getCalls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("calls = %v, want one batch of 2", calls)
	}

	b.Add(rec(3))
	b.Flush()
	if len(mock.getCalls()) != 2 {
		t.Error("records added after Stop should be written immediately")
	}
}

func TestBatcher_CountsFailures(t *testing.T) {
	mock := &mockAppender{err: errors.New("disk full")}
	b := NewBatcher(mock, 2, time.Hour)

	b.Add(rec(1))
	b.Add(rec(2))
	b.Flush()

	if b.Failed() != 2 {
		t.Errorf("Failed = %d, want 2", b.Failed())
	}
}

func TestBatcher_Defaults(t *testing.T) {
	b := NewBatcher(&mockAppender{}, 0, 0)
	defer b.Stop()
	if b.maxSize != DefaultBatcherMaxSize || b.flushDelay != DefaultBatcherFlushDelay {
		t.Errorf("defaults = %d, %v", b.maxSize, b.flushDelay)
	}
}

func TestBatcher_WritesToStore(t *testing.T) {
	recs := store.NewRecords(store.NewMemory())
	b := NewBatcher(recs, 2, time.Hour)

	b.Add(rec(80))
	b.Add(rec(70))
	b.Stop()

	got, err := recs.Recent(context.Background(), "pump-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d records, want 2", len(got))
	}
}

func TestBatcher_StampsRecords(t *testing.T) {
	mock := &mockAppender{}
	b := NewBatcher(mock, 10, time.Hour)
	scored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return scored }

	b.Add(rec(90))
	b.Add(store.DiagnosisRecord{ID: "fixed", MachineID: "pump-1", At: scored.Add(-time.Minute)})
	b.Stop()

	got := mock.getCalls()[0]
	if got[0].ID == "" || !got[0].At.Equal(scored) {
		t.Errorf("first record not stamped: %+v", got[0])
	}
	if got[1].ID != "fixed" || !got[1].At.Equal(scored.Add(-time.Minute)) {
		t.Errorf("caller stamps overwritten: %+v", got[1])
	}
}

type blockingAppender struct {
	mockAppender
	release chan struct{}
}

func (b *blockingAppender) Append(ctx context.Context, recs []store.DiagnosisRecord) error {
	<-b.release
	return b.mockAppender.Append(ctx, recs)
}

func TestBatcher_DropsWhenWriterLags(t *testing.T) {
	sink := &blockingAppender{release: make(chan struct{})}
	b := NewBatcher(sink, 1, time.Hour)

	// the writer takes the first batch and blocks; the rest fill the queue
	for i := range QueueDepth + 2 {
		b.Add(rec(float64(i)))
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if b.Failed() != 1 {
		t.Errorf("Failed = %d, want 1 dropped batch", b.Failed())
	}

	close(sink.release)
	b.Stop()
	if n := len(sink.getCalls()); n != QueueDepth+1 {
		t.Errorf("wrote %d batches, want %d", n, QueueDepth+1)
	}
}
