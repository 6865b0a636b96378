package engine

import (
	"sync"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/power"
	"github.com/ashdown-av/viewlink-core/internal/resilience"
)

// Device is the configuration handed to Connect for one display device.
type Device struct {
	// Endpoint locates and authenticates the device.
	Endpoint conn.Endpoint

	// Dialect names the command dialect. Empty selects "generic".
	Dialect string
}

// Config holds the per-device policies applied to every session.
type Config struct {
	// Conn carries transport timeouts, idle expiry, and keep-alive.
	Conn conn.Config

	// Retry is the backoff policy for transient failures.
	Retry resilience.RetryPolicy

	// Breaker is the circuit breaker policy.
	Breaker resilience.BreakerConfig

	// Power carries warm-up/cool-down timings and the guard policy.
	Power power.Config

	// QueueSize bounds each device's command queue. Default: 32.
	QueueSize int

	// QueueTimeout discards a command that waited this long without
	// starting. Default: 10s.
	QueueTimeout time.Duration

	// StatusPollInterval refreshes each device's cached status through
	// its command queue. Zero disables polling.
	StatusPollInterval time.Duration
}

func (c Config) queueSize() int {
	if c.QueueSize <= 0 {
		return defaultQueueSize
	}
	return c.QueueSize
}

func (c Config) queueTimeout() time.Duration {
	if c.QueueTimeout <= 0 {
		return defaultQueueTimeout
	}
	return c.QueueTimeout
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder receives command and circuit measurements for external
// observability. Implementations must not block.
type Recorder interface {
	// RecordCommand reports one completed command, err nil on success.
	RecordCommand(deviceID, op string, latency time.Duration, err error)

	// RecordCircuitState reports a circuit breaker state change.
	RecordCircuitState(deviceID, state string)
}

// Engine is the per-device session registry and event hub.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	events   *bus
	logger   Logger
	recorder Recorder
}

// New creates an engine with the given per-device policies.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		events:   newBus(),
	}
}

// SetLogger sets the logger propagated to new sessions. Call before
// Connect.
func (e *Engine) SetLogger(logger Logger) {
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// SetRecorder sets the measurement sink propagated to new sessions.
// Call before Connect.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	e.recorder = r
	e.mu.Unlock()
}

// Connect returns the session for the device, creating and starting one
// on first use. Two devices with the same endpoint identity share a
// session, and with it every piece of per-device state.
func (e *Engine) Connect(dev Device) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	key := dev.Endpoint.Key()
	if s, ok := e.sessions[key]; ok {
		return s, nil
	}

	s, err := newSession(dev, e.cfg, e.events.publish, e.recorder, e.logger)
	if err != nil {
		return nil, err
	}
	s.start()
	e.sessions[key] = s

	if e.logger != nil {
		e.logger.Info("session registered", "device", dev.Endpoint.ID, "addr", dev.Endpoint.Addr())
	}
	return s, nil
}

// Session returns the registered session for a device ID, or nil.
func (e *Engine) Session(deviceID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.deviceID == deviceID {
			return s
		}
	}
	return nil
}

// Sessions returns a snapshot of all registered sessions.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Subscribe registers an event stream subscriber. Delivery is
// best-effort: events are dropped for a subscriber whose buffer is
// full. The cancel function releases the subscription.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

// Close shuts down every session and the event stream. Safe to call
// multiple times; Connect returns ErrEngineClosed afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil && e.logger != nil {
			e.logger.Warn("session close failed", "device", s.deviceID, "error", err)
		}
	}
	e.events.closeAll()
	return nil
}
