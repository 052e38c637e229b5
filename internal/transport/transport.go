// internal/transport/transport.go
package transport

import (
	"context"
	"errors"

	"instrument-link/internal/config"
)

// Transport represents the physical channel to the instrument
type Transport interface {
	// Connection lifecycle. Open establishes one link attempt; Close
	// tears down the active link but keeps reusable resources (a server
	// listener) alive; Shutdown releases everything.
	Open(ctx context.Context) error
	Close() error
	Shutdown() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	// Channel information
	Kind() config.Kind
}

// Sentinel errors for connect-phase and I/O failures
var (
	// ErrConnectTimeout is returned when a connect attempt does not
	// complete within the configured connection timeout.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrPortUnavailable is returned when the configured serial port is
	// not among the enumerable ports on this host.
	ErrPortUnavailable = errors.New("serial port unavailable")

	// ErrNotOpen is returned for reads and writes on a closed transport.
	ErrNotOpen = errors.New("transport not open")
)

// readResult carries the outcome of a pumped blocking read
type readResult struct {
	data []byte
	err  error
}
