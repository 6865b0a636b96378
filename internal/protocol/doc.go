// Package protocol implements the wire codec for the ViewLink display
// control protocol.
//
// The protocol is line oriented: every request and response is a single
// ASCII frame terminated by a carriage return.
//
//	Request:  %<class><opcode> <parameter>\r
//	Success:  %<class><opcode>=<value>\r
//	Failure:  %<class><opcode>=ERRn\r
//
// The class digit is the capability class of the device (1 or 2) and the
// opcode is a fixed four character command name such as POWR or INPT.
//
// # Error Taxonomy
//
// Failure responses carry one of four error codes:
//
//   - ERR1: undefined command
//   - ERR2: parameter out of range
//   - ERR3: device temporarily unavailable
//   - ERR4: device-internal failure
//
// Anything that does not match the response grammar decodes to
// ErrMalformedResponse.
//
// # Authentication
//
// On connection open the device sends a greeting line. If the greeting
// carries a challenge token, the first outgoing frame must be prefixed
// with a one-way digest computed over challenge+secret. The digest
// function is pluggable via the Digester interface; the shipped default
// is an MD5 hex digest. See auth.go.
//
// # Dialects
//
// Device families that deviate from the generic command set register a
// Dialect factory by name. Dispatch code asks the registry for a dialect
// and never switches on device types itself. Only the "generic" dialect
// ships today.
//
// # Thread Safety
//
// All exported types are immutable values or stateless and safe for
// concurrent use.
package protocol
