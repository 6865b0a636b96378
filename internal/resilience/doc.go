// Package resilience wraps device operations with retry, backoff, and a
// per-device circuit breaker.
//
// # Retry
//
// Only errors classified as transient (network timeouts, refused or reset
// connections) are retried. Protocol rejections, authentication failures,
// and power-guard vetoes are terminal: the device answered, or the call
// never should reach it, so repeating the attempt cannot help.
//
// Backoff for retry n (counting from 0) is:
//
//	delay(n) = min(base × multiplier^n, maxDelay)
//
// so the default policy sleeps 1s, 2s, 4s. When jitter is enabled each
// delay is scaled by a uniform factor in [0.5, 1.0] so fleets of devices
// do not retry in lockstep.
//
// # Circuit Breaker
//
// The breaker counts consecutive failed operations. Reaching the failure
// threshold (default 5) opens the circuit: further calls are rejected
// immediately with *CircuitOpenError carrying the remaining cooldown and
// no network attempt is made. After the cooldown (default 60s) the
// breaker goes half-open and admits a bounded number of trial calls; any
// trial failure reopens the circuit and restarts the cooldown clock,
// enough trial successes close it and zero the failure counter.
//
// # Statistics
//
// The executor keeps per-operation counters (attempts, successes,
// failures, rejections, cumulative latency) exposed read-only through
// Stats() for health publishing and the metrics sink.
package resilience
