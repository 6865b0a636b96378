package protocol

import (
	"errors"
	"fmt"
)

// Domain errors for the protocol package.
var (
	// ErrMalformedResponse is returned when a response line does not match
	// the protocol grammar.
	ErrMalformedResponse = errors.New("protocol: malformed response")

	// ErrInvalidCommand is returned when a command cannot be encoded
	// (bad class, opcode, or parameter).
	ErrInvalidCommand = errors.New("protocol: invalid command")

	// ErrFrameTooLong is returned when an encoded frame would exceed the
	// maximum frame length.
	ErrFrameTooLong = errors.New("protocol: frame too long")

	// ErrMalformedGreeting is returned when the connection greeting line
	// cannot be parsed.
	ErrMalformedGreeting = errors.New("protocol: malformed greeting")

	// ErrUnknownDialect is returned when no dialect is registered under
	// the requested name.
	ErrUnknownDialect = errors.New("protocol: unknown dialect")

	// ErrUnknownValue is returned when a response value cannot be mapped
	// to a known enumeration (power state, error flags).
	ErrUnknownValue = errors.New("protocol: unknown response value")
)

// ResponseCode identifies one of the four wire-level error codes.
type ResponseCode int

// Wire-level error codes carried by ERRn responses.
const (
	CodeUndefinedCommand ResponseCode = 1 // ERR1
	CodeOutOfRange       ResponseCode = 2 // ERR2
	CodeUnavailable      ResponseCode = 3 // ERR3
	CodeDeviceFailure    ResponseCode = 4 // ERR4
)

// String returns a human-readable name for the code.
func (c ResponseCode) String() string {
	switch c {
	case CodeUndefinedCommand:
		return "undefined command"
	case CodeOutOfRange:
		return "parameter out of range"
	case CodeUnavailable:
		return "device temporarily unavailable"
	case CodeDeviceFailure:
		return "device-internal failure"
	default:
		return fmt.Sprintf("unknown code %d", int(c))
	}
}

// ResponseError is a well-formed failure response from the device.
//
// It is terminal: the command reached the device and was rejected, so
// retrying it without change is pointless.
type ResponseError struct {
	Opcode string
	Code   ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("protocol: %s rejected: ERR%d (%s)", e.Opcode, int(e.Code), e.Code)
}
