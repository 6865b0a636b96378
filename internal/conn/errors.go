package conn

import (
	"errors"
	"fmt"
)

// Domain errors for the conn package.
var (
	// ErrNetwork wraps every transport-level failure: dial, deadline,
	// write, and read errors. Errors wrapping ErrNetwork are transient
	// and safe to retry.
	ErrNetwork = errors.New("conn: network error")

	// ErrClosed is returned after Close; the manager will not reconnect.
	ErrClosed = errors.New("conn: manager closed")
)

// AuthError reports a rejected authentication handshake: the device
// refused the digest computed from its challenge and the configured
// secret. Terminal; retrying with the same secret cannot succeed.
type AuthError struct {
	// Detail is the rejection line received from the device.
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("conn: authentication rejected by device (%s)", e.Detail)
}
