package power

import (
	"fmt"
	"time"
)

// StateError reports a command vetoed by the power guard. It never
// reaches the network.
type StateError struct {
	// Op is the vetoed operation ("power_on", "power_off").
	Op string

	// State is the machine state that caused the veto.
	State State

	// Reason is a human-readable explanation.
	Reason string

	// Wait is the remaining transition time, zero when not applicable.
	Wait time.Duration
}

func (e *StateError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("power: %s rejected: %s, retry in %ds", e.Op, e.Reason, int(e.Wait.Seconds()+0.999))
	}
	return fmt.Sprintf("power: %s rejected: %s", e.Op, e.Reason)
}
