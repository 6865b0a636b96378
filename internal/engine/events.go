package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies engine events.
type EventType string

// Event types emitted on the engine's event stream.
const (
	// EventPowerTransition fires on every power state change, whether
	// command-driven or timer-driven.
	EventPowerTransition EventType = "power_transition"

	// EventCircuitChange fires when a device's circuit breaker changes
	// state.
	EventCircuitChange EventType = "circuit_change"

	// EventConnectionLost and EventConnectionRestored track the device
	// transport.
	EventConnectionLost     EventType = "connection_lost"
	EventConnectionRestored EventType = "connection_restored"
)

// Event is one state change on the engine's event stream. Subscribers
// receive events for every device; filter on DeviceID.
type Event struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Type     EventType `json:"type"`

	// From and To carry the state names for transition events; empty
	// for connection events.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	At time.Time `json:"at"`
}

// bus fans events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining its channel loses events rather than
// blocking the engine.
type bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

func newBus() *bus {
	return &bus{subs: make(map[string]chan Event)}
}

// subscribe registers a new subscriber with the given channel buffer.
// The returned cancel function removes the subscription and closes the
// channel.
func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeAll closes every subscriber channel. Called once, on engine
// shutdown.
func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// newEvent builds a stamped event with a fresh ID.
func newEvent(deviceID string, typ EventType, from, to string) Event {
	return Event{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Type:     typ,
		From:     from,
		To:       to,
		At:       time.Now().UTC(),
	}
}
