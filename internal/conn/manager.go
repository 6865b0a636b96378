package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/protocol"
)

// Default timeouts and intervals for device communication.
const (
	// defaultConnectTimeout bounds the TCP connect plus greeting read.
	defaultConnectTimeout = 3 * time.Second

	// defaultReadTimeout bounds waiting for a response line.
	defaultReadTimeout = 5 * time.Second

	// defaultWriteTimeout bounds writing a frame.
	defaultWriteTimeout = 3 * time.Second

	// defaultIdleTimeout is how long a connection may sit without
	// command activity before it is proactively closed.
	defaultIdleTimeout = 30 * time.Second

	// maintenanceInterval is how often the idle/keep-alive sweep runs.
	maintenanceInterval = 1 * time.Second

	// authRejectPrefix opens the line a device sends when it refuses
	// the authentication digest.
	authRejectPrefix = "VLINK ERRA"
)

// Config holds transport settings for one device connection.
type Config struct {
	// ConnectTimeout, ReadTimeout, WriteTimeout bound the respective
	// transport operations. Defaults: 3s, 5s, 3s.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// IdleTimeout closes a connection with no command activity.
	// Default: 30s.
	IdleTimeout time.Duration

	// KeepAliveInterval issues KeepAlive after this much inactivity.
	// Zero disables keep-alive. Must be below IdleTimeout to have any
	// effect; otherwise the idle sweep closes the connection before a
	// probe ever comes due.
	KeepAliveInterval time.Duration

	// KeepAlive is the harmless status query used as the keep-alive
	// probe. Required when KeepAliveInterval is set.
	KeepAlive protocol.Command

	// Digester computes the authentication digest. Nil selects the
	// protocol default (MD5).
	Digester protocol.Digester
}

// withDefaults returns the config with zero timeouts replaced.
func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return c
}

// Dialer abstracts the transport dial for testability.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational counters for one device connection.
type Stats struct {
	CommandsTx   uint64
	ErrorsTotal  uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
}

// connection is the live transport state: one per device, destroyed on
// idle timeout or I/O error, recreated lazily on the next exchange.
type connection struct {
	conn          net.Conn
	reader        *bufio.Reader
	createdAt     time.Time
	lastActivity  time.Time
	authenticated bool

	// authPrefix is the digest prepended to the first frame of an
	// authenticated session. Nil once consumed or when no auth.
	authPrefix []byte
}

// Manager owns the single reusable connection to one device.
type Manager struct {
	endpoint Endpoint
	cfg      Config
	dialer   Dialer

	mu     sync.Mutex
	active *connection
	closed bool

	// pendingState queues connect/disconnect notifications recorded
	// under mu for delivery after it is released.
	pendingState []bool

	// Shutdown coordination for the maintenance goroutine.
	done chan struct{}
	wg   sync.WaitGroup

	// Statistics (atomic for cheap reads)
	commandsTx   atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64

	now func() time.Time

	onState  func(connected bool)
	stateMu  sync.RWMutex
	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a Manager for one endpoint. No connection is opened
// until the first Exchange. Start launches the idle/keep-alive sweep.
func NewManager(endpoint Endpoint, cfg Config) *Manager {
	return &Manager{
		endpoint: endpoint,
		cfg:      cfg.withDefaults(),
		dialer:   &net.Dialer{},
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetDialer replaces the transport dialer. Call before Start.
func (m *Manager) SetDialer(d Dialer) {
	if d != nil {
		m.dialer = d
	}
}

// SetLogger sets the logger for this manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// SetOnStateChange registers a callback invoked when the connection is
// established or lost. The callback runs outside the manager's mutex.
func (m *Manager) SetOnStateChange(fn func(connected bool)) {
	m.stateMu.Lock()
	m.onState = fn
	m.stateMu.Unlock()
}

// Start launches the background idle-expiry and keep-alive sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.maintenanceLoop()
}

// maintenanceLoop periodically closes idle connections and issues
// keep-alive probes.
func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep applies idle expiry and keep-alive once. Split out of the loop
// so tests can drive it with a fake clock.
func (m *Manager) sweep() {
	m.mu.Lock()
	if m.closed || m.active == nil {
		m.mu.Unlock()
		return
	}
	idle := m.now().Sub(m.active.lastActivity)

	// Keep-alive wins over idle expiry when both are due: the probe
	// refreshes activity and keeps the device-side session open.
	if m.cfg.KeepAliveInterval > 0 && idle >= m.cfg.KeepAliveInterval {
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReadTimeout)
		defer cancel()
		if _, err := m.Exchange(ctx, m.cfg.KeepAlive); err != nil {
			m.logWarn("keep-alive probe failed", "error", err)
		}
		return
	}

	if idle >= m.cfg.IdleTimeout {
		m.logDebug("closing idle connection", "idle", idle.String())
		m.invalidateLocked()
	}
	m.mu.Unlock()
	m.flushStateChanges()
}

// Exchange sends one command and reads its response over the device
// connection, establishing the connection first if needed.
//
// Exactly one exchange runs at a time; concurrent callers serialise on
// the manager's mutex, so two frames can never interleave on the wire.
//
// Parameters:
//   - ctx: Bounds the implicit connect; does not interrupt an in-flight read
//   - cmd: The command to send; cmd.Timeout overrides the read timeout
//
// Returns:
//   - protocol.Response: The decoded success response
//   - error: ErrNetwork-wrapped transport failures (transient),
//     *protocol.ResponseError, *AuthError, or protocol decode errors
func (m *Manager) Exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	m.mu.Lock()
	defer m.flushStateChanges()
	defer m.mu.Unlock()

	if m.closed {
		return protocol.Response{}, ErrClosed
	}

	c, err := m.acquireLocked(ctx)
	if err != nil {
		return protocol.Response{}, err
	}

	resp, err := m.exchangeLocked(c, cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

// acquireLocked returns the live connection, dialing and handshaking a
// new one if none exists. Caller holds the lock.
func (m *Manager) acquireLocked(ctx context.Context) (*connection, error) {
	if m.active != nil {
		return m.active, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	raw, err := m.dialer.DialContext(dialCtx, "tcp", m.endpoint.Addr())
	if err != nil {
		m.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: dial %s: %w", ErrNetwork, m.endpoint.Addr(), err)
	}

	c := &connection{
		conn:         raw,
		reader:       bufio.NewReader(raw),
		createdAt:    m.now(),
		lastActivity: m.now(),
	}

	// The device speaks first: read and parse the greeting.
	if err := raw.SetReadDeadline(m.now().Add(m.cfg.ConnectTimeout)); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: set deadline: %w", ErrNetwork, err)
	}
	line, err := c.reader.ReadString('\r')
	if err != nil {
		raw.Close()
		m.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: read greeting: %w", ErrNetwork, err)
	}

	greeting, err := protocol.ParseGreeting([]byte(line))
	if err != nil {
		raw.Close()
		m.errorsTotal.Add(1)
		return nil, err
	}
	c.authPrefix = protocol.AuthPrefix(m.cfg.Digester, greeting, m.endpoint.Secret)
	c.authenticated = !greeting.AuthRequired

	m.active = c
	m.reconnects.Add(1)
	m.lastActivity.Store(m.now().Unix())
	m.logInfo("connected", "addr", m.endpoint.Addr(), "auth", greeting.AuthRequired)
	m.notifyState(true)
	return c, nil
}

// exchangeLocked performs one write/read round trip. Caller holds the
// lock and guarantees c is the active connection.
func (m *Manager) exchangeLocked(c *connection, cmd protocol.Command) (protocol.Response, error) {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	if c.authPrefix != nil {
		frame = append(c.authPrefix, frame...)
		c.authPrefix = nil
	}

	if err := c.conn.SetWriteDeadline(m.now().Add(m.cfg.WriteTimeout)); err != nil {
		m.dropLocked("set write deadline", err)
		return protocol.Response{}, fmt.Errorf("%w: set write deadline: %w", ErrNetwork, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		m.dropLocked("write", err)
		return protocol.Response{}, fmt.Errorf("%w: write: %w", ErrNetwork, err)
	}

	readTimeout := m.cfg.ReadTimeout
	if cmd.Timeout > 0 {
		readTimeout = cmd.Timeout
	}
	if err := c.conn.SetReadDeadline(m.now().Add(readTimeout)); err != nil {
		m.dropLocked("set read deadline", err)
		return protocol.Response{}, fmt.Errorf("%w: set read deadline: %w", ErrNetwork, err)
	}

	line, err := c.reader.ReadString('\r')
	if err != nil {
		m.dropLocked("read", err)
		return protocol.Response{}, fmt.Errorf("%w: read: %w", ErrNetwork, err)
	}

	// An authentication rejection is its own line, outside the response
	// grammar, and only ever follows a digest-prefixed frame.
	if strings.HasPrefix(line, authRejectPrefix) {
		m.dropLocked("auth rejected", nil)
		return protocol.Response{}, &AuthError{Detail: strings.TrimSuffix(line, "\r")}
	}

	resp, err := protocol.Decode([]byte(line))
	if err != nil {
		var respErr *protocol.ResponseError
		if errors.As(err, &respErr) {
			// A well-formed rejection: the link is healthy, keep it.
			c.lastActivity = m.now()
			m.lastActivity.Store(m.now().Unix())
			m.commandsTx.Add(1)
			return protocol.Response{}, respErr
		}
		// Malformed response means the stream may be desynchronised;
		// reuse is unsafe.
		m.dropLocked("malformed response", err)
		return protocol.Response{}, err
	}

	c.authenticated = true
	c.lastActivity = m.now()
	m.lastActivity.Store(m.now().Unix())
	m.commandsTx.Add(1)
	return resp, nil
}

// dropLocked invalidates the connection after an I/O failure. Caller
// holds the lock.
func (m *Manager) dropLocked(reason string, err error) {
	m.errorsTotal.Add(1)
	m.logWarn("connection invalidated", "reason", reason, "error", err)
	m.invalidateLocked()
}

// invalidateLocked closes and discards the active connection. Caller
// holds the lock.
func (m *Manager) invalidateLocked() {
	if m.active == nil {
		return
	}
	m.active.conn.Close()
	m.active = nil
	m.notifyState(false)
}

// Invalidate closes and discards the active connection, if any. The
// next Exchange reconnects transparently.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.invalidateLocked()
	m.mu.Unlock()
	m.flushStateChanges()
}

// Connected reports whether a live connection exists right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Stats returns current operational counters.
func (m *Manager) Stats() Stats {
	return Stats{
		CommandsTx:   m.commandsTx.Load(),
		ErrorsTotal:  m.errorsTotal.Load(),
		Reconnects:   m.reconnects.Load(),
		LastActivity: time.Unix(m.lastActivity.Load(), 0),
		Connected:    m.Connected(),
	}
}

// Close shuts the manager down. Safe to call multiple times; Exchange
// returns ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
		if m.active != nil {
			m.active.conn.Close()
			m.active = nil
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// notifyState records a connection state change. Caller holds the lock;
// delivery happens in flushStateChanges once the lock is released.
func (m *Manager) notifyState(connected bool) {
	m.pendingState = append(m.pendingState, connected)
}

// flushStateChanges delivers queued state notifications in order. Must
// be called without the lock held, so callbacks are free to call back
// into the manager.
func (m *Manager) flushStateChanges() {
	m.mu.Lock()
	pending := m.pendingState
	m.pendingState = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	m.stateMu.RLock()
	fn := m.onState
	m.stateMu.RUnlock()
	if fn == nil {
		return
	}
	for _, connected := range pending {
		fn(connected)
	}
}

// logDebug logs a debug message if a logger is set.
func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
