// Package records batches diagnosis records into the store.
package records

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// Appender persists a batch of records.
type Appender interface {
	Append(ctx context.Context, recs []store.DiagnosisRecord) error
}

// Batcher groups diagnosis records into store writes. A batch goes out
// when it reaches maxSize or flushDelay after the last Add. A single writer
// applies batches in order; if the store falls QueueDepth batches behind,
// new batches are dropped and counted as failed.
type Batcher struct {
	sink       Appender
	maxSize    int
	flushDelay time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending []store.DiagnosisRecord
	timer   *time.Timer
	stopped bool
	failed  int

	queue    chan []store.DiagnosisRecord
	inflight sync.WaitGroup
	done     chan struct{}
}

// NewBatcher creates a batcher and starts its writer.
func NewBatcher(sink Appender, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	b := &Batcher{
		sink:       sink,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		now:        time.Now,
		queue:      make(chan []store.DiagnosisRecord, QueueDepth),
		done:       make(chan struct{}),
	}
	go b.writer()
	return b
}

// Add stamps rec with an ID and the scoring time, then queues it. After
// Stop the record is written synchronously.
func (b *Batcher) Add(rec store.DiagnosisRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = b.now().UTC()
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.write([]store.DiagnosisRecord{rec})
		return
	}
	defer b.mu.Unlock()

	b.pending = append(b.pending, rec)
	if len(b.pending) >= b.maxSize {
		b.enqueueLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.onTimer)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked()
}

// enqueueLocked hands the pending batch to the writer without blocking.
func (b *Batcher) enqueueLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 || b.stopped {
		return
	}
	batch := b.pending
	b.pending = nil

	b.inflight.Add(1)
	select {
	case b.queue <- batch:
	default:
		b.inflight.Done()
		b.failed += len(batch)
		trace.Logger(context.Background()).Warn("diagnosis record queue full; batch dropped", "count", len(batch))
	}
}

func (b *Batcher) writer() {
	defer close(b.done)
	for batch := range b.queue {
		b.write(batch)
		b.inflight.Done()
	}
}

func (b *Batcher) write(batch []store.DiagnosisRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "record_batch_flush")
	span.SetAttr("count", len(batch))

	err := b.sink.Append(ctx, batch)
	span.Finish(err)
	if err != nil {
		b.mu.Lock()
		b.failed += len(batch)
		b.mu.Unlock()
		trace.Logger(ctx).Warn("diagnosis record batch failed", "error", err, "count", len(batch))
	}
}

// Pending returns the number of records not yet handed to the writer.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Failed returns the number of records that were dropped or failed to write.
func (b *Batcher) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Flush hands pending records to the writer and waits until every queued
// batch is written.
func (b *Batcher) Flush() {
	b.mu.Lock()
	b.enqueueLocked()
	b.mu.Unlock()
	b.inflight.Wait()
}

// Stop writes what is pending and stops the writer. Later Adds write
// synchronously. It is safe to call more than once.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.enqueueLocked()
	b.stopped = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done
}
