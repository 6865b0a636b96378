package resilience

import (
	"sync"
	"time"
)

// BreakerState enumerates circuit breaker states.
type BreakerState int

// Circuit breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the lowercase state name used in logs and events.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker defaults.
const (
	defaultFailureThreshold = 5
	defaultCooldown         = 60 * time.Second
	defaultHalfOpenTrials   = 1
)

// BreakerConfig holds circuit breaker settings for one device.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open. Default: 60s.
	Cooldown time.Duration

	// HalfOpenTrials is the number of trial successes required to close
	// a half-open circuit. Default: 1.
	HalfOpenTrials int
}

// Breaker is a consecutive-failure circuit breaker. One Breaker exists
// per device.
//
// Thread Safety: all methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state        BreakerState
	consecFails  int
	lastFailure  time.Time
	trialsOpen   int // trial calls admitted since entering half-open
	trialsPassed int // trial successes since entering half-open

	now     func() time.Time
	onTrans func(from, to BreakerState)
}

// NewBreaker creates a Breaker with defaults applied for zero settings.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.HalfOpenTrials == 0 {
		cfg.HalfOpenTrials = defaultHalfOpenTrials
	}
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}
}

// SetOnStateChange registers a callback invoked after every breaker
// transition. The callback runs outside the breaker's lock.
func (b *Breaker) SetOnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onTrans = fn
	b.mu.Unlock()
}

// State returns the current breaker state, applying the open→half-open
// cooldown transition if it is due.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	trans := b.advanceLocked()
	s := b.state
	b.mu.Unlock()
	b.notify(trans)
	return s
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecFails
}

// Allow decides whether a call may proceed.
//
// Returns:
//   - nil: The call is admitted (closed, or a half-open trial slot)
//   - *CircuitOpenError: The circuit is open, carries remaining cooldown
//   - ErrTrialInProgress: Half-open and the trial budget is consumed
func (b *Breaker) Allow() error {
	b.mu.Lock()
	trans := b.advanceLocked()

	var err error
	switch b.state {
	case BreakerClosed:
		// admitted
	case BreakerOpen:
		err = &CircuitOpenError{RetryIn: b.remainingLocked()}
	case BreakerHalfOpen:
		if b.trialsOpen < b.cfg.HalfOpenTrials {
			b.trialsOpen++
		} else {
			err = ErrTrialInProgress
		}
	}
	b.mu.Unlock()
	b.notify(trans)
	return err
}

// RecordSuccess records a successful operation outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var trans []breakerTransition
	switch b.state {
	case BreakerClosed:
		b.consecFails = 0
	case BreakerHalfOpen:
		b.trialsPassed++
		if b.trialsPassed >= b.cfg.HalfOpenTrials {
			trans = append(trans, b.transitionLocked(BreakerClosed))
			b.consecFails = 0
		}
	}
	b.mu.Unlock()
	b.notify(trans)
}

// RecordFailure records a failed operation outcome. In the closed state
// it advances the consecutive-failure counter; any half-open trial
// failure reopens the circuit and restarts the cooldown clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var trans []breakerTransition
	switch b.state {
	case BreakerClosed:
		b.consecFails++
		if b.consecFails >= b.cfg.FailureThreshold {
			b.lastFailure = b.now()
			trans = append(trans, b.transitionLocked(BreakerOpen))
		}
	case BreakerHalfOpen:
		b.lastFailure = b.now()
		trans = append(trans, b.transitionLocked(BreakerOpen))
	case BreakerOpen:
		// Late failure report while already open; refresh the clock.
		b.lastFailure = b.now()
	}
	b.mu.Unlock()
	b.notify(trans)
}

// breakerTransition is a from/to pair queued for callback delivery.
type breakerTransition struct {
	from, to BreakerState
}

// transitionLocked moves to a new state. Caller holds the lock.
func (b *Breaker) transitionLocked(to BreakerState) breakerTransition {
	t := breakerTransition{from: b.state, to: to}
	b.state = to
	if to == BreakerHalfOpen {
		b.trialsOpen = 0
		b.trialsPassed = 0
	}
	return t
}

// advanceLocked applies the cooldown transition. Caller holds the lock.
func (b *Breaker) advanceLocked() []breakerTransition {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return []breakerTransition{b.transitionLocked(BreakerHalfOpen)}
	}
	return nil
}

// remainingLocked returns the cooldown time left. Caller holds the lock.
func (b *Breaker) remainingLocked() time.Duration {
	elapsed := b.now().Sub(b.lastFailure)
	if elapsed >= b.cfg.Cooldown {
		return 0
	}
	return b.cfg.Cooldown - elapsed
}

// notify delivers queued transitions to the callback, outside the lock.
func (b *Breaker) notify(trans []breakerTransition) {
	if len(trans) == 0 {
		return
	}
	b.mu.Lock()
	fn := b.onTrans
	b.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range trans {
		fn(t.from, t.to)
	}
}
