package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Frame layout constants.
const (
	// headerByte opens every request and response frame.
	headerByte = '%'

	// terminator ends every frame on the wire.
	terminator = '\r'

	// opcodeLen is the fixed opcode length.
	opcodeLen = 4

	// maxFrameLen bounds a full frame including the terminator. Responses
	// longer than this indicate a desynchronised or hostile peer.
	maxFrameLen = 136
)

// Command is one request to a device: opcode, parameter, and the response
// deadline the caller is willing to wait for. Commands are immutable values
// created per invocation.
type Command struct {
	// Class is the protocol capability class digit (1 or 2).
	Class int

	// Opcode is the four character command name (e.g. "POWR").
	Opcode string

	// Param is the request parameter. "?" marks a query.
	Param string

	// Timeout overrides the transport read timeout for this command.
	// Zero means use the connection default.
	Timeout time.Duration
}

// IsQuery reports whether the command is a status query rather than a set.
func (c Command) IsQuery() bool {
	return c.Param == queryParam
}

// queryParam is the parameter that marks a read request.
const queryParam = "?"

// Response is one decoded success line from a device.
type Response struct {
	Class  int
	Opcode string
	Value  string
}

// Encode serialises a command into a wire frame.
//
// Returns:
//   - []byte: The frame including the trailing carriage return
//   - error: ErrInvalidCommand or ErrFrameTooLong
func Encode(cmd Command) ([]byte, error) {
	if cmd.Class < 1 || cmd.Class > 9 {
		return nil, fmt.Errorf("%w: class %d out of range", ErrInvalidCommand, cmd.Class)
	}
	if len(cmd.Opcode) != opcodeLen || !isUpperASCII(cmd.Opcode) {
		return nil, fmt.Errorf("%w: opcode %q must be %d uppercase characters", ErrInvalidCommand, cmd.Opcode, opcodeLen)
	}
	if !isPrintableASCII(cmd.Param) {
		return nil, fmt.Errorf("%w: parameter contains non-printable bytes", ErrInvalidCommand)
	}

	// header(1) + class(1) + opcode(4) + space(1) + param + CR(1)
	frameLen := 1 + 1 + opcodeLen + 1 + len(cmd.Param) + 1
	if frameLen > maxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLong, frameLen, maxFrameLen)
	}

	frame := make([]byte, 0, frameLen)
	frame = append(frame, headerByte, byte('0'+cmd.Class))
	frame = append(frame, cmd.Opcode...)
	frame = append(frame, ' ')
	frame = append(frame, cmd.Param...)
	frame = append(frame, terminator)
	return frame, nil
}

// Decode parses a raw response line into a Response.
//
// The input may retain or omit the trailing carriage return. A well-formed
// failure response (ERRn) decodes to a *ResponseError; anything outside the
// grammar decodes to ErrMalformedResponse.
//
// Parameters:
//   - raw: One response line from the wire
//
// Returns:
//   - Response: Decoded class, opcode, and value on success
//   - error: *ResponseError for ERRn responses, otherwise ErrMalformedResponse
func Decode(raw []byte) (Response, error) {
	line := strings.TrimSuffix(string(raw), string(terminator))

	if len(line) > maxFrameLen {
		return Response{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedResponse, len(line), maxFrameLen)
	}
	// header(1) + class(1) + opcode(4) + '='(1) + at least one value byte
	if len(line) < 1+1+opcodeLen+1+1 {
		return Response{}, fmt.Errorf("%w: %q too short", ErrMalformedResponse, line)
	}
	if line[0] != headerByte {
		return Response{}, fmt.Errorf("%w: missing %q header", ErrMalformedResponse, string(headerByte))
	}

	class := int(line[1] - '0')
	if class < 1 || class > 9 {
		return Response{}, fmt.Errorf("%w: class byte %q", ErrMalformedResponse, line[1])
	}

	opcode := line[2 : 2+opcodeLen]
	if !isUpperASCII(opcode) {
		return Response{}, fmt.Errorf("%w: opcode %q", ErrMalformedResponse, opcode)
	}

	if line[2+opcodeLen] != '=' {
		return Response{}, fmt.Errorf("%w: missing separator in %q", ErrMalformedResponse, line)
	}

	value := line[2+opcodeLen+1:]
	if !isPrintableASCII(value) {
		return Response{}, fmt.Errorf("%w: non-printable value", ErrMalformedResponse)
	}

	if strings.HasPrefix(value, "ERR") {
		code, ok := parseErrorCode(value)
		if !ok {
			return Response{}, fmt.Errorf("%w: unknown error code %q", ErrMalformedResponse, value)
		}
		return Response{}, &ResponseError{Opcode: opcode, Code: code}
	}

	return Response{Class: class, Opcode: opcode, Value: value}, nil
}

// Matches reports whether the response answers the given command.
// Devices echo the opcode of the request they are answering.
func (r Response) Matches(cmd Command) bool {
	return r.Opcode == cmd.Opcode
}

// parseErrorCode maps an "ERRn" value to its ResponseCode.
func parseErrorCode(value string) (ResponseCode, bool) {
	if len(value) != 4 || value[:3] != "ERR" {
		return 0, false
	}
	switch value[3] {
	case '1':
		return CodeUndefinedCommand, true
	case '2':
		return CodeOutOfRange, true
	case '3':
		return CodeUnavailable, true
	case '4':
		return CodeDeviceFailure, true
	default:
		return 0, false
	}
}

// isUpperASCII reports whether s consists only of A-Z and 0-9.
func isUpperASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// isPrintableASCII reports whether s consists only of printable ASCII bytes.
func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
