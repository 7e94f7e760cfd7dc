// Package grpcserver exposes the standard gRPC health service for the
// monitor and a small client for probing it.
package grpcserver

import "time"

// Server and client defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 5 * time.Second
	HealthCheckTimeout         = 2 * time.Second

	// CaptureService reports whether live capture can be started.
	CaptureService = "machine-listener.capture"
)
