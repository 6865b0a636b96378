// Package conn owns the transport to one display device.
//
// Each device has exactly one Manager and the Manager holds at most one
// connection. The connection is created lazily on the first exchange,
// reused across commands, proactively closed after the idle timeout, and
// transparently re-established on the next exchange. Any I/O error
// invalidates the connection: it is closed and discarded, never reused,
// and the caller sees a network-classified error rather than a protocol
// failure.
//
// # Handshake
//
// On open the device sends a greeting line. If the greeting carries a
// challenge token, the digest over challenge+secret is prepended to the
// first outgoing frame (see the protocol package). A device that answers
// the digest with an authentication rejection surfaces *AuthError,
// distinct from ordinary protocol errors.
//
// # Timeouts
//
// Connect, read, and write each have their own deadline (defaults 3s,
// 5s, 3s). Exceeding any of them yields an error wrapped in ErrNetwork.
//
// # Keep-Alive
//
// An optional keep-alive issues a harmless status query after a
// configurable stretch of inactivity so devices with aggressive
// server-side idle disconnects keep the session open. Keep-alive
// exchanges go through the same mutex as commands, so they can never
// interleave with a caller's frame.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex serialises
// exchanges, which also provides the engine's no-interleaving guarantee
// at the transport level.
package conn
