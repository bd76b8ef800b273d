package transport

import "errors"

// Domain-specific errors for device transports.
var (
	// ErrNotOpen is returned when writing to a transport that is not open.
	ErrNotOpen = errors.New("transport: not open")

	// ErrReadOnly is returned when writing to a receive-only transport.
	ErrReadOnly = errors.New("transport: read only")

	// ErrNoDevice is returned when the device node or socket does not exist.
	ErrNoDevice = errors.New("transport: no such device")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrNoGreeting is returned when a server did not greet in time.
	ErrNoGreeting = errors.New("transport: no greeting")
)
