// Package power tracks the power/transition state of one display device
// and vetoes commands that would reach the device at an unsafe moment.
//
// # State Model
//
//	UNKNOWN ──(first confirmed status)──► any state
//	STANDBY ──power_on──► WARMING_UP ──(timer or confirmed ON)──► ON
//	ON ──power_off──► COOLING_DOWN ──(timer or confirmed STANDBY)──► STANDBY
//
// Warm-up and cool-down durations are configurable (defaults 30s and 90s).
// A power-on request during cool-down is rejected with the remaining wait;
// whether power-off is permitted during warm-up is a policy flag, because
// some devices accept it and some do not.
//
// # Purity
//
// The machine never touches the network. State changes come only from
// confirmed command acknowledgments, confirmed status queries (Observe),
// or elapsed-timer checks. Callers consult the guard before issuing a
// command and feed outcomes back in.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex guards the
// state; transition callbacks are invoked outside the lock.
package power
