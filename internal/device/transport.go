package device

import "context"

// Transport is what the core needs from a device connection.
//
// Implementations live in the transport package; tests use in-memory fakes.
type Transport interface {
	// Open makes the transport ready. It returns immediately when already
	// open and may block for a reconnect or a protocol greeting.
	Open(ctx context.Context) error

	// Write sends already encoded data including the line terminator.
	Write(data []byte) error

	// Connected reports whether the transport is currently usable.
	Connected() bool

	// SetReceiver installs the callback for every line read from the device.
	SetReceiver(fn func(line string))

	// Close releases the connection.
	Close() error
}
