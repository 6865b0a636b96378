package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrTrialInProgress is returned while the breaker is half-open and its
// trial budget is already consumed.
var ErrTrialInProgress = errors.New("resilience: circuit half-open, trial call in progress")

// CircuitOpenError rejects a call while the circuit is open. No network
// attempt was made.
type CircuitOpenError struct {
	// RetryIn is the remaining cooldown before trial calls are admitted.
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit open, retry in %ds", int(e.RetryIn.Seconds()+0.999))
}
