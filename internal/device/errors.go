package device

import "errors"

// Domain-specific errors for device exchanges.
var (
	// ErrTimeout is returned when no matching answer arrived within the
	// request timeout after all retries.
	ErrTimeout = errors.New("device: request timed out")

	// ErrTransport is returned when opening or writing the transport failed.
	ErrTransport = errors.New("device: transport failure")

	// ErrNotConnected is returned when the transport is still unusable after open.
	ErrNotConnected = errors.New("device: transport not connected")

	// ErrQueueCleared is returned to queued requests discarded after a failure.
	ErrQueueCleared = errors.New("device: queue cleared after failure")

	// ErrClosed is returned for requests pushed to or pending on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrDuplicateDevice is returned when registering a name twice.
	ErrDuplicateDevice = errors.New("device: duplicate name")

	// ErrNoOutlet is returned when a power action needs an outlet that is not configured.
	ErrNoOutlet = errors.New("device: no outlet configured")
)
