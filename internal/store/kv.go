// Package store persists trained models and diagnosis records on a
// key-value engine.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"
)

// ErrNotFound is returned when a key or model does not exist.
var ErrNotFound = errors.New("store: not found")

// Entry is a key-value pair.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the storage engine contract. Keys are '/'-joined paths; Scan walks
// keys under a prefix in lexicographic order.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutBatch(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) iter.Seq2[Entry, error]
	Close() error
}

const sep = "/"

// Key joins path segments.
func Key(parts ...string) string { return strings.Join(parts, sep) }

// dir returns the scan prefix for everything below parts.
func dir(parts ...string) string { return Key(parts...) + sep }

var machineIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ErrInvalidMachineID is returned for IDs that cannot be used as key segments.
var ErrInvalidMachineID = errors.New("store: invalid machine id")

// ValidateMachineID checks that id is 1-64 characters of letters, digits,
// '_', '.' or '-', starting with a letter or digit.
func ValidateMachineID(id string) error {
	if !machineIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidMachineID, id)
	}
	return nil
}
