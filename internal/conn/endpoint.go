package conn

import (
	"fmt"
	"net"
)

// Endpoint identifies one controllable display device. Immutable once a
// session starts; owned by the caller and passed by reference into the
// engine.
type Endpoint struct {
	// ID is the stable identifier used in topics, logs, and metrics.
	ID string

	// Host and Port locate the device's control listener.
	Host string
	Port int

	// Secret is the shared secret for the challenge handshake. Empty
	// means the device is expected not to require authentication.
	Secret string

	// Class is the protocol capability class (1 or 2).
	Class int
}

// Addr returns the dialable host:port address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// Key returns the registry identity of the endpoint. Two configurations
// pointing at the same listener share engine state.
func (e Endpoint) Key() string {
	return e.Addr()
}
