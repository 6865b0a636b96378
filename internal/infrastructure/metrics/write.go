package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordCommand writes one completed device command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "projector-hall")
//   - op: Logical operation name (e.g., "power_on")
//   - latency: Full round-trip time including retries
//   - err: The command outcome, nil on success
func (s *Sink) RecordCommand(deviceID, op string, latency time.Duration, err error) {
	if !s.IsConnected() {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	point := write.NewPoint(
		"device_commands",
		map[string]string{
			"device_id": deviceID,
			"op":        op,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// RecordCircuitState writes a circuit breaker state change.
//
// Parameters:
//   - deviceID: Device identifier
//   - state: The new breaker state name ("closed", "open", "half_open")
func (s *Sink) RecordCircuitState(deviceID, state string) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		"circuit_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// RecordPowerTransition writes a power state machine transition.
//
// Parameters:
//   - deviceID: Device identifier
//   - from, to: State names (e.g., "standby", "warming_up")
func (s *Sink) RecordPowerTransition(deviceID, from, to string) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		"power_transitions",
		map[string]string{
			"device_id": deviceID,
			"from":      from,
			"to":        to,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Example:
//
//	sink.WritePoint("session_stats",
//	    map[string]string{"device_id": "projector-hall"},
//	    map[string]interface{}{"queued": 3, "reconnects": 1})
func (s *Sink) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	s.writeAPI.WritePoint(point)
}
