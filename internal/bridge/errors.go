package bridge

import "errors"

var (
	// ErrMQTTRequired is returned by New without an MQTT client.
	ErrMQTTRequired = errors.New("bridge: mqtt client is required")

	// ErrDispatcherRequired is returned by New without a dispatcher.
	ErrDispatcherRequired = errors.New("bridge: dispatcher is required")

	// ErrInvalidCommand is reported for a command payload that cannot be decoded.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrUnknownAction is reported for a command naming no known action.
	ErrUnknownAction = errors.New("bridge: unknown action")
)
