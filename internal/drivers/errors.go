package drivers

import "errors"

// Errors shared by the driver packages.
var (
	// ErrMissingArgument is returned when an action is called without its argument.
	ErrMissingArgument = errors.New("drivers: missing action argument")

	// ErrBadValue is returned when a device answers with a value the driver cannot use.
	ErrBadValue = errors.New("drivers: unexpected value from device")
)
