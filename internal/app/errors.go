package app

import "errors"

// Wiring errors returned by Build. They are fatal at startup.
var (
	// ErrUnknownDriver is returned for a device whose driver is not built in.
	ErrUnknownDriver = errors.New("app: unknown driver")

	// ErrUnknownAction is returned for a trigger or timer naming an action
	// no device offers.
	ErrUnknownAction = errors.New("app: unknown action")

	// ErrUnknownSource is returned for a pattern whose source is not a device.
	ErrUnknownSource = errors.New("app: unknown event source")
)
