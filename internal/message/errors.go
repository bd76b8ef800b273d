package message

import "errors"

// Domain-specific errors for message construction.
var (
	// ErrNoForm is returned when neither the decoded nor the encoded form is given.
	ErrNoForm = errors.New("message: neither decoded nor encoded form given")

	// ErrBothForms is returned when both forms are given.
	ErrBothForms = errors.New("message: both decoded and encoded form given")

	// ErrUndecodable is returned when a codec cannot classify the data.
	ErrUndecodable = errors.New("message: cannot decode")

	// ErrUnknownCommand is returned when a human command is not in the device table.
	ErrUnknownCommand = errors.New("message: unknown command")
)
