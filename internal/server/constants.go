// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection control message limit on /ws
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// WAV uploads larger than this are rejected
	MaxUploadBytes = 64 << 20

	// Largest binary PCM frame accepted on /ws/ingest
	MaxIngestFrameBytes = 1 << 20

	// Default and maximum number of records returned per request
	DefaultRecordLimit = 100
	MaxRecordLimit     = 5000

	// Per-client outbound queue; slow clients lose events beyond it
	ClientQueueSize = 64
	WriteTimeout    = 5 * time.Second

	// Window for the recent scores endpoint
	RecentScoresWindow = 10 * time.Minute
)
