package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/diagnostics"
	"github.com/ashdown-av/viewlink-core/internal/power"
	"github.com/ashdown-av/viewlink-core/internal/protocol"
	"github.com/ashdown-av/viewlink-core/internal/resilience"
)

// Queue defaults.
const (
	defaultQueueSize    = 32
	defaultQueueTimeout = 10 * time.Second
)

// Operation names used for stats, metrics, and error messages.
const (
	opPowerOn  = "power_on"
	opPowerOff = "power_off"
	opSetInput = "set_input"
	opMute     = "mute"
	opFreeze   = "freeze"
	opStatus   = "query_status"
)

// CommandResult carries the outcome of one device command.
type CommandResult struct {
	// Value is the decoded response payload.
	Value string

	// Latency is the full round-trip time including retries.
	Latency time.Duration
}

// Status is the cached composite device status.
type Status struct {
	Power      protocol.PowerValue `json:"power"`
	PowerState power.State         `json:"power_state"`
	Input      string              `json:"input"`
	LampHours  int                 `json:"lamp_hours"`
	Errors     protocol.ErrorFlags `json:"errors"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// SessionStats is a read-only snapshot of one session's counters.
type SessionStats struct {
	Conn    conn.Stats
	Ops     map[string]resilience.OpStats
	Queued  int
	Power   power.State
	Circuit resilience.BreakerState
}

// pending is one queued command awaiting its turn on the wire.
type pending struct {
	op         string
	cmd        protocol.Command
	ctx        context.Context
	enqueuedAt time.Time

	// onSuccess runs in the worker after a successful exchange, before
	// the result is delivered. Used to acknowledge power transitions.
	onSuccess func(protocol.Response)

	// result is buffered so the worker never blocks on an abandoned
	// caller.
	result chan outcome
}

type outcome struct {
	resp    protocol.Response
	latency time.Duration
	err     error
}

// Session is the engine handle for one device. All commands funnel
// through its FIFO queue and single worker goroutine.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Session struct {
	deviceID    string
	endpoint    conn.Endpoint
	dialectName string
	dialect     protocol.Dialect
	digester    protocol.Digester

	manager *conn.Manager
	exec    *resilience.Executor
	machine *power.Machine

	queue        chan *pending
	queueTimeout time.Duration
	pollInterval time.Duration

	statusMu sync.RWMutex
	status   Status

	emit     func(Event)
	recorder Recorder
	logger   Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	now func() time.Time
}

// newSession wires one device's full stack. The caller (Engine.Connect)
// owns registry bookkeeping; the session owns everything device-local.
func newSession(dev Device, cfg Config, emit func(Event), recorder Recorder, logger Logger) (*Session, error) {
	dialectName := dev.Dialect
	if dialectName == "" {
		dialectName = "generic"
	}
	dialect, err := protocol.NewDialect(dialectName, dev.Endpoint.Class)
	if err != nil {
		return nil, err
	}

	connCfg := cfg.Conn
	if connCfg.KeepAliveInterval > 0 && connCfg.KeepAlive.Opcode == "" {
		connCfg.KeepAlive = dialect.PowerQuery()
	}

	s := &Session{
		deviceID:     dev.Endpoint.ID,
		endpoint:     dev.Endpoint,
		dialectName:  dialectName,
		dialect:      dialect,
		digester:     connCfg.Digester,
		manager:      conn.NewManager(dev.Endpoint, connCfg),
		exec:         resilience.NewExecutor(cfg.Retry, resilience.NewBreaker(cfg.Breaker)),
		machine:      power.NewMachine(cfg.Power),
		queue:        make(chan *pending, cfg.queueSize()),
		queueTimeout: cfg.queueTimeout(),
		pollInterval: cfg.StatusPollInterval,
		emit:         emit,
		recorder:     recorder,
		logger:       logger,
		done:         make(chan struct{}),
		now:          time.Now,
	}

	if logger != nil {
		s.manager.SetLogger(logger)
		s.exec.SetLogger(logger)
	}

	// Anything the connection manager wraps as a network fault is worth
	// retrying; everything else is terminal on first occurrence.
	s.exec.SetClassifier(func(err error) bool {
		return errors.Is(err, conn.ErrNetwork) || resilience.IsTransient(err)
	})

	s.manager.SetOnStateChange(func(connected bool) {
		typ := EventConnectionLost
		if connected {
			typ = EventConnectionRestored
		}
		s.emit(newEvent(s.deviceID, typ, "", ""))
	})
	s.exec.Breaker().SetOnStateChange(func(from, to resilience.BreakerState) {
		s.emit(newEvent(s.deviceID, EventCircuitChange, from.String(), to.String()))
		if s.recorder != nil {
			s.recorder.RecordCircuitState(s.deviceID, to.String())
		}
	})
	s.machine.SetOnTransition(func(from, to power.State) {
		s.emit(newEvent(s.deviceID, EventPowerTransition, from.String(), to.String()))
	})
	return s, nil
}

// start launches the worker and, when configured, the status poller and
// connection maintenance sweep.
func (s *Session) start() {
	s.manager.Start()
	s.wg.Add(1)
	go s.worker()
	if s.pollInterval > 0 {
		s.wg.Add(1)
		go s.poller()
	}
}

// DeviceID returns the stable device identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// Endpoint returns the device endpoint this session controls.
func (s *Session) Endpoint() conn.Endpoint { return s.endpoint }

// PowerState returns the machine's current view of device power.
func (s *Session) PowerState() power.State { return s.machine.State() }

// PowerOn requests device power-on. The power state machine may veto the
// request with a *power.StateError before anything is queued; on a
// confirmed acknowledgement the machine enters warm-up.
func (s *Session) PowerOn(ctx context.Context) (CommandResult, error) {
	if d := s.machine.RequestPowerOn(); !d.Allowed {
		return CommandResult{}, d.Err(opPowerOn, s.machine.State())
	}
	return s.submit(ctx, opPowerOn, s.dialect.PowerOn(), func(protocol.Response) {
		s.machine.AckPowerOn()
	})
}

// PowerOff requests device power-off, guarded like PowerOn; on success
// the machine enters cool-down.
func (s *Session) PowerOff(ctx context.Context) (CommandResult, error) {
	if d := s.machine.RequestPowerOff(); !d.Allowed {
		return CommandResult{}, d.Err(opPowerOff, s.machine.State())
	}
	return s.submit(ctx, opPowerOff, s.dialect.PowerOff(), func(protocol.Response) {
		s.machine.AckPowerOff()
	})
}

// SetInput switches the device input source.
func (s *Session) SetInput(ctx context.Context, source string) (CommandResult, error) {
	return s.submit(ctx, opSetInput, s.dialect.SetInput(source), nil)
}

// Mute blanks or unblanks audio/video output.
func (s *Session) Mute(ctx context.Context, on bool) (CommandResult, error) {
	return s.submit(ctx, opMute, s.dialect.Mute(on), nil)
}

// Freeze freezes or unfreezes the displayed image.
func (s *Session) Freeze(ctx context.Context, on bool) (CommandResult, error) {
	return s.submit(ctx, opFreeze, s.dialect.Freeze(on), nil)
}

// QueryStatus refreshes the composite device status through the command
// queue and returns the fresh snapshot. The power reading feeds the
// state machine via Observe; lamp and error-flag queries tolerate a
// device rejection (older devices omit them) and keep their previous
// values.
func (s *Session) QueryStatus(ctx context.Context) (Status, error) {
	res, err := s.submit(ctx, opStatus, s.dialect.PowerQuery(), nil)
	if err != nil {
		return Status{}, err
	}
	pv, err := s.dialect.ParsePower(res.Value)
	if err != nil {
		return Status{}, err
	}
	s.machine.Observe(powerStateOf(pv))

	status := Status{
		Power:      pv,
		PowerState: s.machine.State(),
		UpdatedAt:  s.now(),
	}

	// Carry forward fields a rejected sub-query leaves unknown.
	s.statusMu.RLock()
	status.Input = s.status.Input
	status.LampHours = s.status.LampHours
	status.Errors = s.status.Errors
	s.statusMu.RUnlock()

	if res, err := s.submit(ctx, opStatus, s.dialect.InputQuery(), nil); err == nil {
		status.Input = res.Value
	} else if !rejected(err) {
		return Status{}, err
	}
	if res, err := s.submit(ctx, opStatus, s.dialect.LampQuery(), nil); err == nil {
		if hours, err := s.dialect.ParseLampHours(res.Value); err == nil {
			status.LampHours = hours
		}
	} else if !rejected(err) {
		return Status{}, err
	}
	if res, err := s.submit(ctx, opStatus, s.dialect.ErrorQuery(), nil); err == nil {
		if flags, err := s.dialect.ParseErrorFlags(res.Value); err == nil {
			status.Errors = flags
		}
	} else if !rejected(err) {
		return Status{}, err
	}

	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
	return status, nil
}

// Status returns the cached snapshot from the last successful
// QueryStatus, zero-valued before the first refresh.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// RunDiagnostics executes the standalone probe against this session's
// endpoint. It opens its own connection and bypasses the queue and
// breaker entirely, so it works even while the circuit is open.
func (s *Session) RunDiagnostics(ctx context.Context) diagnostics.Report {
	probe := diagnostics.NewProbe(s.endpoint, diagnostics.Config{
		Dialect:  s.dialectName,
		Digester: s.digester,
	})
	return probe.Run(ctx)
}

// Stats returns a point-in-time snapshot of session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Conn:    s.manager.Stats(),
		Ops:     s.exec.Stats(),
		Queued:  len(s.queue),
		Power:   s.machine.State(),
		Circuit: s.exec.Breaker().State(),
	}
}

// submit enqueues one command and blocks until it completes, the context
// is cancelled, or the session closes. Cancelling a queued command is
// immediate for the caller; the worker discards it without touching the
// network when its turn comes.
func (s *Session) submit(ctx context.Context, op string, cmd protocol.Command, onSuccess func(protocol.Response)) (CommandResult, error) {
	p := &pending{
		op:         op,
		cmd:        cmd,
		ctx:        ctx,
		enqueuedAt: s.now(),
		onSuccess:  onSuccess,
		result:     make(chan outcome, 1),
	}

	select {
	case s.queue <- p:
		// The queue send and the done case can both be ready when Close
		// races a submit; losing that coin flip would strand the command
		// in a queue the worker has already drained. Re-check done so a
		// post-close submit always fails.
		select {
		case <-s.done:
			select {
			case out := <-p.result:
				return CommandResult{Value: out.resp.Value, Latency: out.latency}, out.err
			default:
				return CommandResult{}, ErrSessionClosed
			}
		default:
		}
	case <-s.done:
		return CommandResult{}, ErrSessionClosed
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}

	select {
	case out := <-p.result:
		return CommandResult{Value: out.resp.Value, Latency: out.latency}, out.err
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// worker drains the queue one command at a time, preserving submission
// order.
func (s *Session) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case p := <-s.queue:
			s.process(p)
		}
	}
}

// drain fails everything still queued at shutdown.
func (s *Session) drain() {
	for {
		select {
		case p := <-s.queue:
			p.result <- outcome{err: ErrSessionClosed}
		default:
			return
		}
	}
}

// process runs one queued command through the resilience executor.
func (s *Session) process(p *pending) {
	if err := p.ctx.Err(); err != nil {
		p.result <- outcome{err: err}
		return
	}
	if age := s.now().Sub(p.enqueuedAt); age > s.queueTimeout {
		s.logWarn("discarding stale command", "op", p.op, "age", age.String())
		p.result <- outcome{err: &StaleCommandError{Op: p.op, Age: age}}
		return
	}

	start := s.now()
	var resp protocol.Response
	err := s.exec.Execute(p.ctx, p.op, func(ctx context.Context) error {
		r, exErr := s.manager.Exchange(ctx, p.cmd)
		if exErr != nil {
			return exErr
		}
		resp = r
		return nil
	})
	latency := s.now().Sub(start)

	if s.recorder != nil {
		s.recorder.RecordCommand(s.deviceID, p.op, latency, err)
	}
	if err == nil && p.onSuccess != nil {
		p.onSuccess(resp)
	}
	p.result <- outcome{resp: resp, latency: latency, err: err}
}

// poller refreshes the cached status on a fixed interval, sharing the
// command queue so it can never race a user command on the wire.
func (s *Session) poller() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.queueTimeout)
			if _, err := s.QueryStatus(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
				s.logDebug("status poll failed", "error", err)
			}
			cancel()
		}
	}
}

// Close shuts the session down: the worker finishes its in-flight
// command, queued commands fail with ErrSessionClosed, and the device
// connection is closed. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return s.manager.Close()
}

// powerStateOf maps a confirmed wire power reading onto the machine's
// state space.
func powerStateOf(pv protocol.PowerValue) power.State {
	switch pv {
	case protocol.PowerStandby:
		return power.StateStandby
	case protocol.PowerOn:
		return power.StateOn
	case protocol.PowerCooling:
		return power.StateCoolingDown
	case protocol.PowerWarming:
		return power.StateWarmingUp
	default:
		return power.StateUnknown
	}
}

// rejected reports whether err is a well-formed device rejection rather
// than a transport or state failure.
func rejected(err error) bool {
	var respErr *protocol.ResponseError
	return errors.As(err, &respErr)
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}
