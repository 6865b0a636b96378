package protocol

import (
	"crypto/md5" // #nosec G501 -- mandated by the device protocol, not used for security decisions here
	"encoding/hex"
	"fmt"
	"strings"
)

// greetingKeyword opens the banner line a device sends on connect.
const greetingKeyword = "VLINK"

// Greeting is the parsed connection banner.
//
//	"VLINK 0"            — no authentication required
//	"VLINK 1 <token>"    — challenge/response required, token is the challenge
type Greeting struct {
	// AuthRequired reports whether the device demands a digest on the
	// first command.
	AuthRequired bool

	// Challenge is the random token issued by the device. Empty when
	// AuthRequired is false.
	Challenge string
}

// ParseGreeting decodes the banner line sent by the device on connect.
//
// Parameters:
//   - raw: The banner line, with or without the trailing carriage return
//
// Returns:
//   - Greeting: Parsed authentication mode and challenge
//   - error: ErrMalformedGreeting if the line does not match the grammar
func ParseGreeting(raw []byte) (Greeting, error) {
	line := strings.TrimSuffix(string(raw), string(terminator))

	fields := strings.Split(line, " ")
	if len(fields) < 2 || fields[0] != greetingKeyword {
		return Greeting{}, fmt.Errorf("%w: %q", ErrMalformedGreeting, line)
	}

	switch fields[1] {
	case "0":
		if len(fields) != 2 {
			return Greeting{}, fmt.Errorf("%w: trailing data after auth mode", ErrMalformedGreeting)
		}
		return Greeting{}, nil
	case "1":
		if len(fields) != 3 || fields[2] == "" {
			return Greeting{}, fmt.Errorf("%w: missing challenge token", ErrMalformedGreeting)
		}
		if !isPrintableASCII(fields[2]) {
			return Greeting{}, fmt.Errorf("%w: non-printable challenge token", ErrMalformedGreeting)
		}
		return Greeting{AuthRequired: true, Challenge: fields[2]}, nil
	default:
		return Greeting{}, fmt.Errorf("%w: unknown auth mode %q", ErrMalformedGreeting, fields[1])
	}
}

// Digester computes the one-way digest prepended to the first command on
// an authenticated connection.
//
// The exact construction is device-family specific, so it is pluggable:
// a dialect or deployment can swap the digest without touching the
// surrounding handshake logic.
type Digester interface {
	// Digest returns the printable digest over challenge and secret.
	Digest(challenge, secret string) string
}

// DigesterFunc adapts a plain function to the Digester interface.
type DigesterFunc func(challenge, secret string) string

// Digest calls f.
func (f DigesterFunc) Digest(challenge, secret string) string {
	return f(challenge, secret)
}

// MD5Digester is the default digest: lowercase hex MD5 over the
// concatenation challenge+secret.
var MD5Digester Digester = DigesterFunc(func(challenge, secret string) string {
	sum := md5.Sum([]byte(challenge + secret)) // #nosec G401 -- protocol-mandated algorithm
	return hex.EncodeToString(sum[:])
})

// AuthPrefix computes the bytes to prepend to the first frame of an
// authenticated session. Returns nil when the greeting requires no
// authentication.
func AuthPrefix(d Digester, g Greeting, secret string) []byte {
	if !g.AuthRequired {
		return nil
	}
	if d == nil {
		d = MD5Digester
	}
	return []byte(d.Digest(g.Challenge, secret))
}
