package pchk

import "errors"

// Domain errors for the PCHK client package.
var (
	// ErrConnectionFailed is returned when the TCP connection to PCHK
	// cannot be established or is lost during the handshake.
	ErrConnectionFailed = errors.New("pchk: connection failed")

	// ErrAuthenticationFailed is returned when PCHK rejects the credentials.
	ErrAuthenticationFailed = errors.New("pchk: authentication failed")

	// ErrLicenseError is returned when PCHK reports that the maximum number
	// of licensed connections is reached.
	ErrLicenseError = errors.New("pchk: license error")

	// ErrNotConnected is returned when sending on a closed connection.
	ErrNotConnected = errors.New("pchk: not connected")

	// ErrTimeout is returned when PCHK or a module did not answer in time.
	ErrTimeout = errors.New("pchk: operation timed out")

	// ErrInvalidAddress is returned when an LCN address cannot be parsed
	// or is out of range.
	ErrInvalidAddress = errors.New("pchk: invalid address")
)
