// Package diagnostics runs connectivity checks against a display device
// outside the normal command path.
//
// The probe is deliberately independent of the command queue and circuit
// breaker: it opens its own short-lived connection, so it can answer
// "is this device reachable at all?" even while the breaker holds the
// command path open. Checks run in a fixed order (address format, name
// resolution, port open, protocol handshake), each with its own timeout
// and no retries, and every check reports a result even when an earlier
// one failed.
package diagnostics
