package mqtt

import "fmt"

// Topic prefixes for the ViewLink MQTT surface.
//
// All topics use the flat scheme: viewlink/{category}/{device_or_id}.
const (
	// TopicPrefix is the base for all ViewLink topics.
	TopicPrefix = "viewlink"

	// TopicPrefixService is the base for service-level topics.
	TopicPrefixService = "viewlink/service"
)

// Topics provides builders for ViewLink MQTT topics. Using these helpers
// keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("projector-hall")
//	// Returns: "viewlink/state/projector-hall"
type Topics struct{}

// DeviceCommand returns the topic on which commands for one device are
// received.
//
// Example: viewlink/command/projector-hall
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceState returns the retained topic carrying a device's composite
// status snapshot.
//
// Example: viewlink/state/projector-hall
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceResult returns the topic carrying the outcome of one command
// request.
//
// Example: viewlink/result/projector-hall/req-abc123
func (Topics) DeviceResult(deviceID, requestID string) string {
	return fmt.Sprintf("%s/result/%s/%s", TopicPrefix, deviceID, requestID)
}

// DeviceHealth returns the retained per-device health topic.
//
// Example: viewlink/health/projector-hall
func (Topics) DeviceHealth(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// DeviceDiagnostics returns the topic carrying diagnostic probe reports.
//
// Example: viewlink/diagnostics/projector-hall
func (Topics) DeviceDiagnostics(deviceID string) string {
	return fmt.Sprintf("%s/diagnostics/%s", TopicPrefix, deviceID)
}

// Event returns the topic for engine events of one type.
//
// Example: viewlink/event/power_transition
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// ServiceStatus returns the retained service status topic, also used as
// the LWT target.
//
// Example: viewlink/service/status
func (Topics) ServiceStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixService)
}

// AllDeviceCommands returns a pattern matching command topics for every
// device.
//
// Pattern: viewlink/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: viewlink/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllDeviceHealth returns a pattern matching every device health topic.
//
// Pattern: viewlink/health/+
func (Topics) AllDeviceHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// AllEvents returns a pattern matching every engine event topic.
//
// Pattern: viewlink/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllTopics returns a pattern matching all ViewLink topics. Use with
// caution - this receives ALL traffic.
//
// Pattern: viewlink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
