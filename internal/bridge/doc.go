// Package bridge connects the device control engine to MQTT.
//
// It translates in both directions:
//   - Command messages arriving on viewlink/command/{device} are decoded
//     and dispatched to the device's engine session; the outcome is
//     published to viewlink/result/{device}/{request}.
//   - Engine events (power transitions, circuit changes, connection
//     loss/restore) are forwarded to viewlink/event/{type}.
//   - Retained per-device state and health snapshots are published on a
//     fixed interval, so dashboards see current values on subscribe
//     without polling the engine.
//
// The bridge holds no device state of its own; the engine is the single
// source of truth and the bridge is a stateless translator around it.
package bridge
