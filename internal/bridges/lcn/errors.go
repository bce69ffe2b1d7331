package lcn

import "errors"

// Domain errors for the LCN integration.
var (
	// ErrInvalidConfig is returned when a config entry or import block
	// cannot be decoded.
	ErrInvalidConfig = errors.New("lcn: invalid configuration")

	// ErrInvalidAddress is returned when an address triplet or address
	// string cannot be parsed.
	ErrInvalidAddress = errors.New("lcn: invalid address")

	// ErrUnknownResource is returned for an output or relay name the
	// integration does not support.
	ErrUnknownResource = errors.New("lcn: unknown resource")

	// ErrEntityNotFound is returned when no entity matches a unique ID.
	ErrEntityNotFound = errors.New("lcn: entity not found")

	// ErrUnknownCommand is returned for an unsupported MQTT command.
	ErrUnknownCommand = errors.New("lcn: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("lcn: invalid command parameters")

	// ErrCommandRejected is returned when a module refuses a command
	// (negative acknowledgement).
	ErrCommandRejected = errors.New("lcn: command rejected by module")

	// ErrEntryNotLoaded is returned when an operation needs a loaded
	// config entry.
	ErrEntryNotLoaded = errors.New("lcn: config entry not loaded")
)
