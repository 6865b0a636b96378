package engine

import (
	"errors"
	"fmt"
	"time"
)

// Package-level errors.
var (
	// ErrEngineClosed is returned by Connect after the engine shut down.
	ErrEngineClosed = errors.New("engine: closed")

	// ErrSessionClosed is returned for commands submitted to a closed
	// session.
	ErrSessionClosed = errors.New("engine: session closed")
)

// StaleCommandError reports a command discarded because it waited in the
// queue past the configured timeout without starting.
type StaleCommandError struct {
	// Op is the logical operation name, e.g. "power_on".
	Op string

	// Age is how long the command sat in the queue.
	Age time.Duration
}

func (e *StaleCommandError) Error() string {
	return fmt.Sprintf("engine: %s discarded, queued for %s without starting", e.Op, e.Age.Round(time.Millisecond))
}
