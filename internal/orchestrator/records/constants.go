package records

import "time"

// Record batcher defaults
const (
	DefaultBatcherMaxSize    = 50
	DefaultBatcherFlushDelay = 2 * time.Second

	// QueueDepth is how many batches may wait for the writer.
	QueueDepth = 16

	// flushTimeout bounds one store write.
	flushTimeout = 10 * time.Second
)
