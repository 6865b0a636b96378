// Package engine ties the device control stack together: one Session per
// device, each owning a command queue, a worker goroutine, a connection
// manager, a power state machine, and a resilience executor.
//
// All device commands flow through the session's FIFO queue, so at most
// one command is in flight per device and completion order matches
// submission order. Power commands are guarded by the state machine
// before they touch the queue; the resilience executor applies retry and
// circuit breaking around each exchange.
//
// The Engine is the per-device registry: Connect returns the existing
// Session when one is already registered for the endpoint, so two
// configurations pointing at the same listener share every piece of
// per-device state.
package engine
