// Package main provides machinectl, the offline companion of the machine
// listener server.
//
// Usage:
//
//	machinectl [flags] <command> [args]
//
// Commands:
//
//	train     - Train a machine reference from WAV recordings
//	diagnose  - Score a WAV recording against a stored reference
//	models    - List, show, inspect history of, or delete references
//	health    - Probe a running server's gRPC health service
//
// Data is read from and written to the same store the server uses
// (--data-dir, DATA_DIR), so the server must not hold it open.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
