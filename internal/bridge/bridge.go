package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/diagnostics"
	"github.com/ashdown-av/viewlink-core/internal/engine"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/mqtt"
	"github.com/ashdown-av/viewlink-core/internal/power"
	"github.com/ashdown-av/viewlink-core/internal/protocol"
	"github.com/ashdown-av/viewlink-core/internal/resilience"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command topic.
	minTopicParts = 3

	// defaultCommandTimeout bounds one dispatched command end to end,
	// including queue wait and retries.
	defaultCommandTimeout = 30 * time.Second

	// defaultHealthInterval is how often retained state and health
	// snapshots are published.
	defaultHealthInterval = 30 * time.Second

	// eventBuffer is the engine event subscription buffer.
	eventBuffer = 64
)

// DeviceSession is the per-device engine surface the bridge dispatches
// to. Satisfied by *engine.Session.
type DeviceSession interface {
	DeviceID() string
	PowerOn(ctx context.Context) (engine.CommandResult, error)
	PowerOff(ctx context.Context) (engine.CommandResult, error)
	SetInput(ctx context.Context, source string) (engine.CommandResult, error)
	Mute(ctx context.Context, on bool) (engine.CommandResult, error)
	Freeze(ctx context.Context, on bool) (engine.CommandResult, error)
	QueryStatus(ctx context.Context) (engine.Status, error)
	Status() engine.Status
	PowerState() power.State
	RunDiagnostics(ctx context.Context) diagnostics.Report
	Stats() engine.SessionStats
}

// Controller is the engine surface the bridge depends on. Satisfied by
// *engine.Engine via a thin adapter in main.go.
type Controller interface {
	// Session returns the session for a device ID, or nil.
	Session(deviceID string) DeviceSession

	// Sessions returns every registered session.
	Sessions() []DeviceSession

	// Subscribe registers an engine event subscriber.
	Subscribe(buffer int) (<-chan engine.Event, func())
}

// MQTTClient is the interface for MQTT operations. This allows mocking
// in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	// Controller is the device control engine. Required.
	Controller Controller

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// QoS applied to every publish and subscription.
	QoS byte

	// CommandTimeout bounds one dispatched command. Default: 30s.
	CommandTimeout time.Duration

	// HealthInterval is how often retained state/health snapshots are
	// published. Zero disables the loop.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Bridge translates between the engine and MQTT.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	controller Controller
	mqtt       MQTTClient
	topics     mqtt.Topics
	qos        byte

	commandTimeout time.Duration
	healthInterval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// stopMu orders dispatch goroutine launches against Stop: no
	// wg.Add may happen once Stop has begun waiting.
	stopMu  sync.Mutex
	stopped bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge around the given engine and MQTT client.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("bridge: controller is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: mqtt client is required")
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	healthInterval := opts.HealthInterval
	if healthInterval < 0 {
		healthInterval = defaultHealthInterval
	}

	return &Bridge{
		controller:     opts.Controller,
		mqtt:           opts.MQTT,
		qos:            opts.QoS,
		commandTimeout: commandTimeout,
		healthInterval: healthInterval,
		done:           make(chan struct{}),
		logger:         opts.Logger,
	}, nil
}

// Start subscribes to the command topics and launches the event
// forwarder and the state/health publisher.
func (b *Bridge) Start() error {
	if err := b.mqtt.Subscribe(b.topics.AllDeviceCommands(), b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("bridge: subscribe commands: %w", err)
	}

	events, cancel := b.controller.Subscribe(eventBuffer)
	b.wg.Add(1)
	go b.eventLoop(events, cancel)

	if b.healthInterval > 0 {
		b.wg.Add(1)
		go b.healthLoop()
	}

	b.logInfo("bridge started", "command_topic", b.topics.AllDeviceCommands())
	return nil
}

// Stop shuts the bridge down. Commands arriving afterwards are dropped;
// the MQTT subscription itself is torn down when the client disconnects.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()
		close(b.done)
	})
	b.wg.Wait()
}

// beginDispatch reserves a slot for one dispatch goroutine, refusing
// once Stop has begun.
func (b *Bridge) beginDispatch() bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	return true
}

// handleCommandMessage decodes and dispatches one inbound command. The
// handler returns quickly; execution happens on its own goroutine so a
// slow device never blocks the MQTT client.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		b.logWarn("ignoring message on malformed topic", "topic", topic)
		return nil
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("dropping undecodable command", "topic", topic, "error", err)
		return nil
	}
	if cmd.Command == "" {
		b.publishResult(deviceID, cmd, engine.CommandResult{}, fmt.Errorf("command field is empty"), ErrorKindInvalid)
		return nil
	}

	session := b.controller.Session(deviceID)
	if session == nil {
		b.publishResult(deviceID, cmd, engine.CommandResult{}, fmt.Errorf("unknown device %q", deviceID), ErrorKindInvalid)
		return nil
	}

	if !b.beginDispatch() {
		b.logDebug("dropping command during shutdown", "device_id", deviceID, "command", cmd.Command)
		return nil
	}
	go func() {
		defer b.wg.Done()
		b.dispatch(deviceID, session, cmd)
	}()
	return nil
}

// dispatch executes one command against the session and publishes the
// result.
func (b *Bridge) dispatch(deviceID string, session DeviceSession, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
	defer cancel()

	var (
		res engine.CommandResult
		err error
	)
	switch cmd.Command {
	case CommandPowerOn:
		res, err = session.PowerOn(ctx)
	case CommandPowerOff:
		res, err = session.PowerOff(ctx)
	case CommandSetInput:
		source, ok := cmd.Parameters["source"].(string)
		if !ok || source == "" {
			b.publishResult(deviceID, cmd, res, fmt.Errorf("set_input requires a source parameter"), ErrorKindInvalid)
			return
		}
		res, err = session.SetInput(ctx, source)
	case CommandMute:
		res, err = session.Mute(ctx, true)
	case CommandUnmute:
		res, err = session.Mute(ctx, false)
	case CommandFreeze:
		res, err = session.Freeze(ctx, true)
	case CommandUnfreeze:
		res, err = session.Freeze(ctx, false)
	case CommandQueryStatus:
		var status engine.Status
		status, err = session.QueryStatus(ctx)
		if err == nil {
			b.publishState(deviceID, status)
		}
	case CommandDiagnostics:
		report := session.RunDiagnostics(ctx)
		b.publishDiagnostics(deviceID, report)
	default:
		b.publishResult(deviceID, cmd, res, fmt.Errorf("unknown command %q", cmd.Command), ErrorKindInvalid)
		return
	}

	b.publishResult(deviceID, cmd, res, err, "")
}

// publishResult publishes the command outcome. kindOverride forces the
// error kind for request-shape failures; otherwise the kind is derived
// from the error's type.
func (b *Bridge) publishResult(deviceID string, cmd CommandMessage, res engine.CommandResult, err error, kindOverride string) {
	msg := ResultMessage{
		RequestID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    ResultOK,
		Value:     res.Value,
		LatencyMs: float64(res.Latency) / float64(time.Millisecond),
	}
	if err != nil {
		msg.Status = ResultFailed
		msg.Value = ""
		msg.Error = classifyError(err)
		if kindOverride != "" {
			msg.Error.Kind = kindOverride
		}
	}

	b.publishJSON(b.topics.DeviceResult(deviceID, cmd.ID), msg, false)
}

// publishState publishes the retained composite state snapshot.
func (b *Bridge) publishState(deviceID string, status engine.Status) {
	msg := StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Power:     status.PowerState.String(),
		Input:     status.Input,
		LampHours: status.LampHours,
		Errors:    errorFlagsMap(status.Errors),
	}
	b.publishJSON(b.topics.DeviceState(deviceID), msg, true)
}

// publishDiagnostics publishes a probe report.
func (b *Bridge) publishDiagnostics(deviceID string, report diagnostics.Report) {
	b.publishJSON(b.topics.DeviceDiagnostics(deviceID), report, false)
}

// eventLoop forwards engine events to the event topics.
func (b *Bridge) eventLoop(events <-chan engine.Event, cancel func()) {
	defer b.wg.Done()
	defer cancel()
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.publishJSON(b.topics.Event(string(ev.Type)), ev, false)
		}
	}
}

// healthLoop publishes retained per-device state and health snapshots.
func (b *Bridge) healthLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.publishSnapshots()
		}
	}
}

// publishSnapshots publishes one round of state and health for every
// session.
func (b *Bridge) publishSnapshots() {
	for _, session := range b.controller.Sessions() {
		deviceID := session.DeviceID()
		b.publishState(deviceID, session.Status())
		b.publishJSON(b.topics.DeviceHealth(deviceID), b.buildHealth(session), true)
	}
}

// buildHealth derives the health classification from session counters.
func (b *Bridge) buildHealth(session DeviceSession) HealthMessage {
	stats := session.Stats()

	status := HealthOnline
	switch {
	case stats.Circuit == resilience.BreakerOpen:
		status = HealthOffline
	case !stats.Conn.Connected || stats.Circuit == resilience.BreakerHalfOpen:
		status = HealthDegraded
	}

	return HealthMessage{
		DeviceID:    session.DeviceID(),
		Timestamp:   time.Now().UTC(),
		Status:      status,
		Connected:   stats.Conn.Connected,
		Circuit:     stats.Circuit.String(),
		Power:       stats.Power.String(),
		QueueDepth:  stats.Queued,
		CommandsTx:  stats.Conn.CommandsTx,
		ErrorsTotal: stats.Conn.ErrorsTotal,
		Reconnects:  stats.Conn.Reconnects,
	}
}

// publishJSON marshals and publishes one message, logging failures
// rather than propagating them.
func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("marshal failed", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logWarn("publish failed", "topic", topic, "error", err)
	}
}

// classifyError maps an engine error onto the wire taxonomy.
func classifyError(err error) *ResultError {
	out := &ResultError{Kind: ErrorKindInternal, Message: err.Error()}

	var (
		stateErr   *power.StateError
		circuitErr *resilience.CircuitOpenError
		staleErr   *engine.StaleCommandError
		authErr    *conn.AuthError
		respErr    *protocol.ResponseError
	)
	switch {
	case errors.As(err, &stateErr):
		out.Kind = ErrorKindState
		out.RetryInSeconds = ceilSeconds(stateErr.Wait)
	case errors.As(err, &circuitErr):
		out.Kind = ErrorKindCircuitOpen
		out.RetryInSeconds = ceilSeconds(circuitErr.RetryIn)
	case errors.As(err, &staleErr):
		out.Kind = ErrorKindStale
	case errors.As(err, &authErr):
		out.Kind = ErrorKindAuth
	case errors.As(err, &respErr):
		out.Kind = ErrorKindProtocol
	case errors.Is(err, conn.ErrNetwork):
		out.Kind = ErrorKindNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Kind = ErrorKindCancelled
	case errors.Is(err, protocol.ErrMalformedResponse):
		out.Kind = ErrorKindProtocol
	}
	return out
}

// ceilSeconds rounds a wait up to whole seconds for display.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// deviceFromTopic extracts the device ID from a command topic.
func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("bridge: malformed command topic %q", topic)
	}
	return parts[len(parts)-1], nil
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
