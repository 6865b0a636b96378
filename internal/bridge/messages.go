package bridge

import (
	"time"

	"github.com/ashdown-av/viewlink-core/internal/protocol"
)

// Command names accepted on the command topic.
const (
	CommandPowerOn     = "power_on"
	CommandPowerOff    = "power_off"
	CommandSetInput    = "set_input"
	CommandMute        = "mute"
	CommandUnmute      = "unmute"
	CommandFreeze      = "freeze"
	CommandUnfreeze    = "unfreeze"
	CommandQueryStatus = "query_status"
	CommandDiagnostics = "run_diagnostics"
)

// CommandMessage is a device command received over MQTT.
type CommandMessage struct {
	// ID correlates the command with its result message.
	ID string `json:"id"`

	// Timestamp is when the sender created the command.
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is informational; the command topic determines the
	// target device.
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of the Command* constants.
	Command string `json:"command"`

	// Parameters carries command arguments, e.g. {"source": "31"} for
	// set_input.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source identifies the sender, e.g. "control-panel-1".
	Source string `json:"source,omitempty"`
}

// ResultStatus is the outcome classification of a command.
type ResultStatus string

const (
	ResultOK     ResultStatus = "ok"
	ResultFailed ResultStatus = "error"
)

// Error kinds surfaced in result messages, mirroring the engine's error
// taxonomy.
const (
	ErrorKindNetwork     = "network"
	ErrorKindProtocol    = "protocol"
	ErrorKindAuth        = "authentication"
	ErrorKindState       = "state"
	ErrorKindCircuitOpen = "circuit_open"
	ErrorKindStale       = "stale"
	ErrorKindCancelled   = "cancelled"
	ErrorKindInvalid     = "invalid_request"
	ErrorKindInternal    = "internal"
)

// ResultError is the structured failure detail in a result message.
type ResultError struct {
	// Kind is one of the ErrorKind* constants.
	Kind string `json:"kind"`

	// Message is human-readable detail.
	Message string `json:"message"`

	// RetryInSeconds carries the remaining wait for state vetoes and
	// open circuits, zero otherwise.
	RetryInSeconds int `json:"retry_in_seconds,omitempty"`
}

// ResultMessage is the outcome of one command, published to the result
// topic.
type ResultMessage struct {
	RequestID string       `json:"request_id"`
	Timestamp time.Time    `json:"timestamp"`
	DeviceID  string       `json:"device_id"`
	Status    ResultStatus `json:"status"`

	// Value is the decoded response payload on success.
	Value string `json:"value,omitempty"`

	// LatencyMs is the round-trip time including retries.
	LatencyMs float64 `json:"latency_ms,omitempty"`

	Error *ResultError `json:"error,omitempty"`
}

// StateMessage is the retained composite device state snapshot.
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// Power is the state machine's view: unknown, standby, warming_up,
	// on, cooling_down.
	Power string `json:"power"`

	Input     string `json:"input,omitempty"`
	LampHours int    `json:"lamp_hours,omitempty"`

	// Errors maps indicator name to severity (0 ok, 1 warning, 2 error).
	Errors map[string]int `json:"errors,omitempty"`
}

// HealthStatus classifies a device's operational health.
type HealthStatus string

const (
	HealthOnline   HealthStatus = "online"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// HealthMessage is the retained per-device health snapshot.
type HealthMessage struct {
	DeviceID  string       `json:"device_id"`
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`

	Connected  bool   `json:"connected"`
	Circuit    string `json:"circuit"`
	Power      string `json:"power"`
	QueueDepth int    `json:"queue_depth"`

	CommandsTx  uint64 `json:"commands_tx"`
	ErrorsTotal uint64 `json:"errors_total"`
	Reconnects  uint64 `json:"reconnects"`
}

// errorFlagsMap flattens wire error flags into the state message shape.
func errorFlagsMap(flags protocol.ErrorFlags) map[string]int {
	m := map[string]int{
		"fan":         int(flags.Fan),
		"lamp":        int(flags.Lamp),
		"temperature": int(flags.Temperature),
		"cover":       int(flags.Cover),
		"filter":      int(flags.Filter),
		"other":       int(flags.Other),
	}
	for k, v := range m {
		if v == 0 {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
