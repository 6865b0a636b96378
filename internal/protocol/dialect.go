package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// PowerValue is the device-reported power state carried by a power query
// response.
type PowerValue int

// Wire values for the power status query.
const (
	PowerStandby PowerValue = 0
	PowerOn      PowerValue = 1
	PowerCooling PowerValue = 2
	PowerWarming PowerValue = 3
)

// String returns a human-readable name for the value.
func (p PowerValue) String() string {
	switch p {
	case PowerStandby:
		return "standby"
	case PowerOn:
		return "on"
	case PowerCooling:
		return "cooling"
	case PowerWarming:
		return "warming"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Severity grades one error-flag position.
type Severity int

// Error-flag severities.
const (
	SeverityOK      Severity = 0
	SeverityWarning Severity = 1
	SeverityError   Severity = 2
)

// ErrorFlags is the decoded device self-test report. Each field grades one
// subsystem.
type ErrorFlags struct {
	Fan         Severity
	Lamp        Severity
	Temperature Severity
	Cover       Severity
	Filter      Severity
	Other       Severity
}

// Dialect maps engine-level operations onto the opcode set of one device
// family and decodes its response values.
//
// Implementations must be stateless and safe for concurrent use.
type Dialect interface {
	// Name returns the registered dialect name.
	Name() string

	PowerOn() Command
	PowerOff() Command
	PowerQuery() Command
	SetInput(source string) Command
	InputQuery() Command
	Mute(on bool) Command
	Freeze(on bool) Command
	LampQuery() Command
	ErrorQuery() Command

	// ParsePower decodes a power query response value.
	ParsePower(value string) (PowerValue, error)

	// ParseLampHours decodes a lamp query response value into hours.
	ParseLampHours(value string) (int, error)

	// ParseErrorFlags decodes an error status response value.
	ParseErrorFlags(value string) (ErrorFlags, error)
}

// DialectFactory constructs a dialect for a device of the given
// capability class.
type DialectFactory func(class int) Dialect

var (
	dialectMu       sync.RWMutex
	dialectRegistry = make(map[string]DialectFactory)
)

// RegisterDialect registers a dialect factory under a name. Registering
// the same name twice panics; dialect names are a compile-time namespace.
func RegisterDialect(name string, factory DialectFactory) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	if _, exists := dialectRegistry[name]; exists {
		panic(fmt.Sprintf("protocol: dialect %q registered twice", name))
	}
	dialectRegistry[name] = factory
}

// NewDialect constructs the dialect registered under name.
//
// Returns:
//   - Dialect: Ready-to-use dialect for the given class
//   - error: ErrUnknownDialect if the name is not registered
func NewDialect(name string, class int) (Dialect, error) {
	dialectMu.RLock()
	factory, ok := dialectRegistry[name]
	dialectMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	return factory(class), nil
}

func init() {
	RegisterDialect("generic", func(class int) Dialect {
		return genericDialect{class: class}
	})
}

// Generic dialect opcodes.
const (
	opPower  = "POWR"
	opInput  = "INPT"
	opMute   = "AVMT"
	opFreeze = "FREZ"
	opLamp   = "LAMP"
	opError  = "ERST"
)

// genericDialect implements the baseline command set shared by compliant
// devices.
type genericDialect struct {
	class int
}

func (g genericDialect) Name() string { return "generic" }

func (g genericDialect) PowerOn() Command {
	return Command{Class: g.class, Opcode: opPower, Param: "1"}
}

func (g genericDialect) PowerOff() Command {
	return Command{Class: g.class, Opcode: opPower, Param: "0"}
}

func (g genericDialect) PowerQuery() Command {
	return Command{Class: g.class, Opcode: opPower, Param: queryParam}
}

func (g genericDialect) SetInput(source string) Command {
	return Command{Class: g.class, Opcode: opInput, Param: source}
}

func (g genericDialect) InputQuery() Command {
	return Command{Class: g.class, Opcode: opInput, Param: queryParam}
}

func (g genericDialect) Mute(on bool) Command {
	// 31 mutes audio and video together, 30 releases both.
	param := "30"
	if on {
		param = "31"
	}
	return Command{Class: g.class, Opcode: opMute, Param: param}
}

func (g genericDialect) Freeze(on bool) Command {
	param := "0"
	if on {
		param = "1"
	}
	return Command{Class: g.class, Opcode: opFreeze, Param: param}
}

func (g genericDialect) LampQuery() Command {
	return Command{Class: g.class, Opcode: opLamp, Param: queryParam}
}

func (g genericDialect) ErrorQuery() Command {
	return Command{Class: g.class, Opcode: opError, Param: queryParam}
}

func (g genericDialect) ParsePower(value string) (PowerValue, error) {
	switch value {
	case "0":
		return PowerStandby, nil
	case "1":
		return PowerOn, nil
	case "2":
		return PowerCooling, nil
	case "3":
		return PowerWarming, nil
	default:
		return 0, fmt.Errorf("%w: power %q", ErrUnknownValue, value)
	}
}

func (g genericDialect) ParseLampHours(value string) (int, error) {
	// Lamp responses carry "hours state" pairs; hours of the first lamp
	// is the leading field.
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty lamp value", ErrUnknownValue)
	}
	hours, err := strconv.Atoi(fields[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("%w: lamp hours %q", ErrUnknownValue, fields[0])
	}
	return hours, nil
}

func (g genericDialect) ParseErrorFlags(value string) (ErrorFlags, error) {
	if len(value) != 6 {
		return ErrorFlags{}, fmt.Errorf("%w: error flags %q must be 6 digits", ErrUnknownValue, value)
	}
	var digits [6]Severity
	for i := 0; i < 6; i++ {
		c := value[i]
		if c < '0' || c > '2' {
			return ErrorFlags{}, fmt.Errorf("%w: error flag digit %q", ErrUnknownValue, string(c))
		}
		digits[i] = Severity(c - '0')
	}
	return ErrorFlags{
		Fan:         digits[0],
		Lamp:        digits[1],
		Temperature: digits[2],
		Cover:       digits[3],
		Filter:      digits[4],
		Other:       digits[5],
	}, nil
}
