// Package orchestrator runs reference and diagnosis sessions: it drives
// capture, training, scoring, alerting and persistence.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Capture event channel between the real-time thread and the consumer
	CaptureEventBuffer = 256

	// Outbound event channel
	EventBuffer = 256

	// Score history configuration
	HistoryMaxEntries   = 2000
	HistoryMaxSummaries = 48
	HistoryCompactAge   = 10 * time.Minute
	HistoryCompactEvery = time.Minute

	// Low-score windows in a row before an alert
	AlertConsecutiveWindows = 3

	// Recent history window reported in status
	StatusWindow = 5 * time.Minute

	// Pipe depth for pushed (remote) audio
	PipeDepth = 256
)
