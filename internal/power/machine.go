package power

import (
	"sync"
	"time"
)

// State enumerates the tracked power states.
type State int

// Power states.
const (
	StateUnknown State = iota
	StateStandby
	StateWarmingUp
	StateOn
	StateCoolingDown
)

// String returns the lowercase state name used in logs and events.
func (s State) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StateWarmingUp:
		return "warming_up"
	case StateOn:
		return "on"
	case StateCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// Default transition durations.
const (
	defaultWarmUp   = 30 * time.Second
	defaultCoolDown = 90 * time.Second
)

// Config holds transition timings and guard policy for one device.
type Config struct {
	// WarmUp is how long the device needs after power-on. Default: 30s.
	WarmUp time.Duration

	// CoolDown is how long the device needs after power-off. Default: 90s.
	CoolDown time.Duration

	// AllowPowerOffDuringWarmUp permits power-off while warming up.
	// Default: false.
	AllowPowerOffDuringWarmUp bool
}

// Decision is the outcome of a guard request.
type Decision struct {
	// Allowed reports whether the command may be sent to the device.
	Allowed bool

	// Reason explains a veto. Empty when Allowed.
	Reason string

	// Wait is the remaining transition time behind the veto, zero when
	// not applicable.
	Wait time.Duration
}

// Err converts a vetoing decision into a *StateError for the given
// operation. Returns nil for an allowing decision.
func (d Decision) Err(op string, state State) error {
	if d.Allowed {
		return nil
	}
	return &StateError{Op: op, State: state, Reason: d.Reason, Wait: d.Wait}
}

// Machine tracks the power state of a single device.
//
// One Machine exists per device. It starts in StateUnknown and leaves it
// only through a confirmed observation or acknowledgment.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	state   State
	since   time.Time // when the current state was entered
	now     func() time.Time
	onTrans func(from, to State)
}

// NewMachine creates a Machine with defaults applied for zero timings.
func NewMachine(cfg Config) *Machine {
	if cfg.WarmUp == 0 {
		cfg.WarmUp = defaultWarmUp
	}
	if cfg.CoolDown == 0 {
		cfg.CoolDown = defaultCoolDown
	}
	m := &Machine{
		cfg:   cfg,
		state: StateUnknown,
		now:   time.Now,
	}
	m.since = m.now()
	return m
}

// SetOnTransition registers a callback invoked after every state change.
// The callback runs outside the machine's lock and must not call back
// into the machine synchronously.
func (m *Machine) SetOnTransition(fn func(from, to State)) {
	m.mu.Lock()
	m.onTrans = fn
	m.mu.Unlock()
}

// State returns the current state after applying elapsed-timer transitions.
func (m *Machine) State() State {
	m.mu.Lock()
	trans := m.advanceLocked()
	s := m.state
	m.mu.Unlock()
	m.notify(trans)
	return s
}

// Remaining returns the time left in the current warm-up or cool-down,
// zero for settled states.
func (m *Machine) Remaining() time.Duration {
	m.mu.Lock()
	trans := m.advanceLocked()
	d := m.remainingLocked()
	m.mu.Unlock()
	m.notify(trans)
	return d
}

// RequestPowerOn decides whether a power-on command may be issued now.
//
// Vetoes:
//   - COOLING_DOWN: rejected with the remaining cool-down time
//   - WARMING_UP: redundant, rejected with the remaining warm-up time
//   - ON: redundant
//
// STANDBY and UNKNOWN allow the command; UNKNOWN cannot veto because no
// confirmed state exists yet.
func (m *Machine) RequestPowerOn() Decision {
	m.mu.Lock()
	trans := m.advanceLocked()
	var d Decision
	switch m.state {
	case StateCoolingDown:
		d = Decision{Reason: "cooling down", Wait: m.remainingLocked()}
	case StateWarmingUp:
		d = Decision{Reason: "already warming up", Wait: m.remainingLocked()}
	case StateOn:
		d = Decision{Reason: "already on"}
	default: // StateStandby, StateUnknown
		d = Decision{Allowed: true}
	}
	m.mu.Unlock()
	m.notify(trans)
	return d
}

// RequestPowerOff decides whether a power-off command may be issued now.
//
// Power-off during warm-up follows the AllowPowerOffDuringWarmUp policy
// flag; during cool-down and standby it is redundant and rejected.
func (m *Machine) RequestPowerOff() Decision {
	m.mu.Lock()
	trans := m.advanceLocked()
	var d Decision
	switch m.state {
	case StateWarmingUp:
		if m.cfg.AllowPowerOffDuringWarmUp {
			d = Decision{Allowed: true}
		} else {
			d = Decision{Reason: "warming up", Wait: m.remainingLocked()}
		}
	case StateCoolingDown:
		d = Decision{Reason: "already cooling down", Wait: m.remainingLocked()}
	case StateStandby:
		d = Decision{Reason: "already in standby"}
	default: // StateOn, StateUnknown
		d = Decision{Allowed: true}
	}
	m.mu.Unlock()
	m.notify(trans)
	return d
}

// AckPowerOn records a device acknowledgment of a power-on command and
// starts the warm-up timer.
func (m *Machine) AckPowerOn() {
	m.mu.Lock()
	trans := m.advanceLocked()
	if m.state == StateStandby || m.state == StateUnknown {
		trans = append(trans, m.transitionLocked(StateWarmingUp))
	}
	m.mu.Unlock()
	m.notify(trans)
}

// AckPowerOff records a device acknowledgment of a power-off command and
// starts the cool-down timer.
func (m *Machine) AckPowerOff() {
	m.mu.Lock()
	trans := m.advanceLocked()
	if m.state == StateOn || m.state == StateWarmingUp || m.state == StateUnknown {
		trans = append(trans, m.transitionLocked(StateCoolingDown))
	}
	m.mu.Unlock()
	m.notify(trans)
}

// Observe records a confirmed state from a successful status query.
//
// Observing the current state is a no-op and never restarts transition
// timers, so repeated status polling cannot perturb the machine.
// StateUnknown is not a valid observation and is ignored.
func (m *Machine) Observe(confirmed State) {
	if confirmed == StateUnknown {
		return
	}
	m.mu.Lock()
	trans := m.advanceLocked()
	if m.state != confirmed {
		trans = append(trans, m.transitionLocked(confirmed))
	}
	m.mu.Unlock()
	m.notify(trans)
}

// transition is a from/to pair queued for callback delivery.
type transition struct {
	from, to State
}

// transitionLocked moves to a new state. Caller holds the lock.
func (m *Machine) transitionLocked(to State) transition {
	t := transition{from: m.state, to: to}
	m.state = to
	m.since = m.now()
	return t
}

// advanceLocked applies elapsed-timer transitions. Caller holds the lock.
func (m *Machine) advanceLocked() []transition {
	var trans []transition
	switch m.state {
	case StateWarmingUp:
		if m.now().Sub(m.since) >= m.cfg.WarmUp {
			trans = append(trans, m.transitionLocked(StateOn))
		}
	case StateCoolingDown:
		if m.now().Sub(m.since) >= m.cfg.CoolDown {
			trans = append(trans, m.transitionLocked(StateStandby))
		}
	}
	return trans
}

// remainingLocked returns time left in the active transition. Caller
// holds the lock.
func (m *Machine) remainingLocked() time.Duration {
	var total time.Duration
	switch m.state {
	case StateWarmingUp:
		total = m.cfg.WarmUp
	case StateCoolingDown:
		total = m.cfg.CoolDown
	default:
		return 0
	}
	elapsed := m.now().Sub(m.since)
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

// notify delivers queued transitions to the callback, outside the lock.
func (m *Machine) notify(trans []transition) {
	if len(trans) == 0 {
		return
	}
	m.mu.Lock()
	fn := m.onTrans
	m.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range trans {
		fn(t.from, t.to)
	}
}
