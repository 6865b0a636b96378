package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/diagnostics"
	"github.com/ashdown-av/viewlink-core/internal/engine"
	"github.com/ashdown-av/viewlink-core/internal/power"
	"github.com/ashdown-av/viewlink-core/internal/protocol"
	"github.com/ashdown-av/viewlink-core/internal/resilience"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte) error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte) error),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler registered for the
// matching subscription pattern.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(topic string, payload []byte) error
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

// topicMatches is a minimal MQTT wildcard matcher for tests.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// waitForPublish polls until at least n messages have been published.
func (m *MockMQTTClient) waitForPublish(t *testing.T, n int) []mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub := m.GetPublished(); len(pub) >= n {
			return pub
		}
		time.Sleep(5 * time.Millisecond)
	}
	pub := m.GetPublished()
	t.Fatalf("timed out waiting for %d publishes, got %d", n, len(pub))
	return pub
}

// MockSession implements DeviceSession for testing.
type MockSession struct {
	mu     sync.Mutex
	id     string
	result engine.CommandResult
	err    error
	status engine.Status
	pstate power.State
	stats  engine.SessionStats
	report diagnostics.Report
	calls  []string
}

func NewMockSession(id string) *MockSession {
	return &MockSession{
		id:     id,
		result: engine.CommandResult{Value: "OK", Latency: 42 * time.Millisecond},
		pstate: power.StateOn,
	}
}

func (m *MockSession) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

func (m *MockSession) outcome() (engine.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

func (m *MockSession) DeviceID() string { return m.id }

func (m *MockSession) PowerOn(ctx context.Context) (engine.CommandResult, error) {
	m.record("power_on")
	return m.outcome()
}

func (m *MockSession) PowerOff(ctx context.Context) (engine.CommandResult, error) {
	m.record("power_off")
	return m.outcome()
}

func (m *MockSession) SetInput(ctx context.Context, source string) (engine.CommandResult, error) {
	m.record("set_input:" + source)
	return m.outcome()
}

func (m *MockSession) Mute(ctx context.Context, on bool) (engine.CommandResult, error) {
	if on {
		m.record("mute")
	} else {
		m.record("unmute")
	}
	return m.outcome()
}

func (m *MockSession) Freeze(ctx context.Context, on bool) (engine.CommandResult, error) {
	if on {
		m.record("freeze")
	} else {
		m.record("unfreeze")
	}
	return m.outcome()
}

func (m *MockSession) QueryStatus(ctx context.Context) (engine.Status, error) {
	m.record("query_status")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.err
}

func (m *MockSession) Status() engine.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockSession) PowerState() power.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pstate
}

func (m *MockSession) RunDiagnostics(ctx context.Context) diagnostics.Report {
	m.record("run_diagnostics")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

func (m *MockSession) Stats() engine.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MockSession) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockSession) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockController implements Controller for testing.
type MockController struct {
	mu       sync.Mutex
	sessions map[string]*MockSession
	events   chan engine.Event
}

func NewMockController(sessions ...*MockSession) *MockController {
	c := &MockController{
		sessions: make(map[string]*MockSession),
		events:   make(chan engine.Event, 16),
	}
	for _, s := range sessions {
		c.sessions[s.id] = s
	}
	return c
}

func (c *MockController) Session(deviceID string) DeviceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[deviceID]
	if !ok {
		return nil
	}
	return s
}

func (c *MockController) Sessions() []DeviceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *MockController) Subscribe(buffer int) (<-chan engine.Event, func()) {
	return c.events, func() {}
}

func startTestBridge(t *testing.T, mqttClient *MockMQTTClient, controller Controller, opts ...func(*Options)) *Bridge {
	t.Helper()
	o := Options{
		Controller: controller,
		MQTT:       mqttClient,
		QoS:        1,
	}
	for _, fn := range opts {
		fn(&o)
	}
	b, err := NewBridge(o)
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func commandPayload(t *testing.T, id, command string, params map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(CommandMessage{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		Command:    command,
		Parameters: params,
	})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return payload
}

func decodeResult(t *testing.T, pub mockPublish) ResultMessage {
	t.Helper()
	var msg ResultMessage
	if err := json.Unmarshal(pub.Payload, &msg); err != nil {
		t.Fatalf("unmarshal result from %s: %v", pub.Topic, err)
	}
	return msg
}

// === Construction ===

func TestNewBridgeMissingController(t *testing.T) {
	_, err := NewBridge(Options{MQTT: NewMockMQTTClient()})
	if err == nil {
		t.Error("NewBridge() expected error for nil controller")
	}
}

func TestNewBridgeMissingMQTT(t *testing.T) {
	_, err := NewBridge(Options{Controller: NewMockController()})
	if err == nil {
		t.Error("NewBridge() expected error for nil MQTT client")
	}
}

func TestBridgeStartSubscribesToCommands(t *testing.T) {
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController())

	subs := mqttClient.GetSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].Topic != "viewlink/command/+" {
		t.Errorf("subscribed to %q, want viewlink/command/+", subs[0].Topic)
	}
}

// === Command dispatch ===

func TestBridgeDispatchesPowerOn(t *testing.T) {
	session := NewMockSession("proj-boardroom")
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-boardroom",
		commandPayload(t, "req-1", CommandPowerOn, nil))

	pub := mqttClient.waitForPublish(t, 1)
	msg := decodeResult(t, pub[0])

	if pub[0].Topic != "viewlink/result/proj-boardroom/req-1" {
		t.Errorf("result topic = %q", pub[0].Topic)
	}
	if msg.Status != ResultOK {
		t.Errorf("status = %q, want ok (error: %+v)", msg.Status, msg.Error)
	}
	if msg.Value != "OK" {
		t.Errorf("value = %q, want OK", msg.Value)
	}
	if msg.LatencyMs != 42 {
		t.Errorf("latency_ms = %v, want 42", msg.LatencyMs)
	}
	calls := session.GetCalls()
	if len(calls) != 1 || calls[0] != "power_on" {
		t.Errorf("session calls = %v", calls)
	}
}

func TestBridgeDispatchesSetInput(t *testing.T) {
	session := NewMockSession("proj-a")
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-2", CommandSetInput, map[string]any{"source": "hdmi1"}))

	mqttClient.waitForPublish(t, 1)
	calls := session.GetCalls()
	if len(calls) != 1 || calls[0] != "set_input:hdmi1" {
		t.Errorf("session calls = %v", calls)
	}
}

func TestBridgeSetInputMissingSource(t *testing.T) {
	session := NewMockSession("proj-a")
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-3", CommandSetInput, nil))

	pub := mqttClient.waitForPublish(t, 1)
	msg := decodeResult(t, pub[0])
	if msg.Status != ResultFailed {
		t.Fatalf("status = %q, want error", msg.Status)
	}
	if msg.Error == nil || msg.Error.Kind != ErrorKindInvalid {
		t.Errorf("error = %+v, want kind invalid_request", msg.Error)
	}
	if len(session.GetCalls()) != 0 {
		t.Error("session should not have been called")
	}
}

func TestBridgeUnknownCommand(t *testing.T) {
	session := NewMockSession("proj-a")
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-4", "self_destruct", nil))

	pub := mqttClient.waitForPublish(t, 1)
	msg := decodeResult(t, pub[0])
	if msg.Error == nil || msg.Error.Kind != ErrorKindInvalid {
		t.Errorf("error = %+v, want kind invalid_request", msg.Error)
	}
}

func TestBridgeUnknownDevice(t *testing.T) {
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController())

	mqttClient.SimulateMessage("viewlink/command/ghost",
		commandPayload(t, "req-5", CommandPowerOn, nil))

	pub := mqttClient.waitForPublish(t, 1)
	msg := decodeResult(t, pub[0])
	if msg.Status != ResultFailed {
		t.Errorf("status = %q, want error", msg.Status)
	}
	if msg.Error == nil || msg.Error.Kind != ErrorKindInvalid {
		t.Errorf("error = %+v, want kind invalid_request", msg.Error)
	}
}

func TestBridgeDropsUndecodablePayload(t *testing.T) {
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(NewMockSession("proj-a")))

	mqttClient.SimulateMessage("viewlink/command/proj-a", []byte("{not json"))

	time.Sleep(50 * time.Millisecond)
	if pub := mqttClient.GetPublished(); len(pub) != 0 {
		t.Errorf("expected no publishes for garbage payload, got %d", len(pub))
	}
}

// === Error classification ===

func TestBridgeErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantWait int
	}{
		{
			name:     "power state veto",
			err:      &power.StateError{Op: "power_on", State: power.StateCoolingDown, Reason: "cooling down", Wait: 42 * time.Second},
			wantKind: ErrorKindState,
			wantWait: 42,
		},
		{
			name:     "circuit open",
			err:      &resilience.CircuitOpenError{RetryIn: 15 * time.Second},
			wantKind: ErrorKindCircuitOpen,
			wantWait: 15,
		},
		{
			name:     "stale command",
			err:      &engine.StaleCommandError{Op: "power_on", Age: 12 * time.Second},
			wantKind: ErrorKindStale,
		},
		{
			name:     "auth rejected",
			err:      &conn.AuthError{Detail: "VLINK ERRA"},
			wantKind: ErrorKindAuth,
		},
		{
			name:     "device rejection",
			err:      &protocol.ResponseError{Code: protocol.CodeUndefinedCommand, Opcode: "POWR"},
			wantKind: ErrorKindProtocol,
		},
		{
			name:     "network failure",
			err:      errors.Join(conn.ErrNetwork, errors.New("read tcp: connection reset")),
			wantKind: ErrorKindNetwork,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			wantKind: ErrorKindCancelled,
		},
		{
			name:     "malformed response",
			err:      protocol.ErrMalformedResponse,
			wantKind: ErrorKindProtocol,
		},
		{
			name:     "unclassified",
			err:      errors.New("weird"),
			wantKind: ErrorKindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifyError(tt.err)
			if out.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", out.Kind, tt.wantKind)
			}
			if out.RetryInSeconds != tt.wantWait {
				t.Errorf("retry_in_seconds = %d, want %d", out.RetryInSeconds, tt.wantWait)
			}
		})
	}
}

func TestBridgePublishesClassifiedError(t *testing.T) {
	session := NewMockSession("proj-a")
	session.SetError(&resilience.CircuitOpenError{RetryIn: 10 * time.Second})
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-6", CommandPowerOn, nil))

	pub := mqttClient.waitForPublish(t, 1)
	msg := decodeResult(t, pub[0])
	if msg.Status != ResultFailed {
		t.Fatalf("status = %q, want error", msg.Status)
	}
	if msg.Error.Kind != ErrorKindCircuitOpen {
		t.Errorf("kind = %q, want circuit_open", msg.Error.Kind)
	}
	if msg.Error.RetryInSeconds != 10 {
		t.Errorf("retry_in_seconds = %d, want 10", msg.Error.RetryInSeconds)
	}
	if msg.Value != "" {
		t.Errorf("value should be empty on error, got %q", msg.Value)
	}
}

// === Status and diagnostics ===

func TestBridgeQueryStatusPublishesRetainedState(t *testing.T) {
	session := NewMockSession("proj-a")
	session.mu.Lock()
	session.status = engine.Status{
		Power:      protocol.PowerOn,
		PowerState: power.StateOn,
		Input:      "31",
		LampHours:  8000,
		Errors:     protocol.ErrorFlags{Filter: protocol.SeverityWarning},
	}
	session.mu.Unlock()
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-7", CommandQueryStatus, nil))

	pub := mqttClient.waitForPublish(t, 2)

	var statePub *mockPublish
	for i := range pub {
		if pub[i].Topic == "viewlink/state/proj-a" {
			statePub = &pub[i]
		}
	}
	if statePub == nil {
		t.Fatalf("no state publish found in %d messages", len(pub))
	}
	if !statePub.Retained {
		t.Error("state publish should be retained")
	}

	var state StateMessage
	if err := json.Unmarshal(statePub.Payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Power != "on" {
		t.Errorf("power = %q, want on", state.Power)
	}
	if state.Input != "31" {
		t.Errorf("input = %q, want 31", state.Input)
	}
	if state.LampHours != 8000 {
		t.Errorf("lamp_hours = %d, want 8000", state.LampHours)
	}
	if state.Errors["filter"] != 1 {
		t.Errorf("errors[filter] = %d, want 1", state.Errors["filter"])
	}
}

func TestBridgeRunDiagnosticsPublishesReport(t *testing.T) {
	session := NewMockSession("proj-a")
	session.mu.Lock()
	session.report = diagnostics.Report{
		DeviceID: "proj-a",
		Address:  "10.0.0.5:4352",
		Checks: []diagnostics.CheckResult{
			{Name: diagnostics.CheckAddress, Status: diagnostics.StatusPass},
		},
	}
	session.mu.Unlock()
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session))

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-8", CommandDiagnostics, nil))

	pub := mqttClient.waitForPublish(t, 2)
	var found bool
	for _, p := range pub {
		if p.Topic == "viewlink/diagnostics/proj-a" {
			found = true
			var report diagnostics.Report
			if err := json.Unmarshal(p.Payload, &report); err != nil {
				t.Fatalf("unmarshal report: %v", err)
			}
			if report.DeviceID != "proj-a" {
				t.Errorf("report device = %q", report.DeviceID)
			}
		}
	}
	if !found {
		t.Error("no diagnostics publish found")
	}
}

// === Events ===

func TestBridgeForwardsEngineEvents(t *testing.T) {
	controller := NewMockController()
	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, controller)

	controller.events <- engine.Event{
		ID:       "ev-1",
		DeviceID: "proj-a",
		Type:     engine.EventPowerTransition,
		From:     "standby",
		To:       "warming_up",
		At:       time.Now().UTC(),
	}

	pub := mqttClient.waitForPublish(t, 1)
	if pub[0].Topic != "viewlink/event/power_transition" {
		t.Errorf("event topic = %q", pub[0].Topic)
	}

	var ev engine.Event
	if err := json.Unmarshal(pub[0].Payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.DeviceID != "proj-a" || ev.To != "warming_up" {
		t.Errorf("event = %+v", ev)
	}
}

// === Health loop ===

func TestBridgeHealthLoopPublishesSnapshots(t *testing.T) {
	session := NewMockSession("proj-a")
	session.mu.Lock()
	session.stats = engine.SessionStats{
		Conn:    conn.Stats{Connected: true, CommandsTx: 7},
		Power:   power.StateOn,
		Circuit: resilience.BreakerClosed,
	}
	session.mu.Unlock()

	mqttClient := NewMockMQTTClient()
	startTestBridge(t, mqttClient, NewMockController(session), func(o *Options) {
		o.HealthInterval = 20 * time.Millisecond
	})

	pub := mqttClient.waitForPublish(t, 2)

	var health *HealthMessage
	for _, p := range pub {
		if p.Topic == "viewlink/health/proj-a" {
			if !p.Retained {
				t.Error("health publish should be retained")
			}
			var h HealthMessage
			if err := json.Unmarshal(p.Payload, &h); err != nil {
				t.Fatalf("unmarshal health: %v", err)
			}
			health = &h
		}
	}
	if health == nil {
		t.Fatal("no health publish found")
	}
	if health.Status != HealthOnline {
		t.Errorf("status = %q, want online", health.Status)
	}
	if health.CommandsTx != 7 {
		t.Errorf("commands_tx = %d, want 7", health.CommandsTx)
	}
}

func TestBridgeHealthClassification(t *testing.T) {
	tests := []struct {
		name  string
		stats engine.SessionStats
		want  HealthStatus
	}{
		{
			name:  "connected closed circuit",
			stats: engine.SessionStats{Conn: conn.Stats{Connected: true}, Circuit: resilience.BreakerClosed},
			want:  HealthOnline,
		},
		{
			name:  "disconnected",
			stats: engine.SessionStats{Conn: conn.Stats{Connected: false}, Circuit: resilience.BreakerClosed},
			want:  HealthDegraded,
		},
		{
			name:  "half-open circuit",
			stats: engine.SessionStats{Conn: conn.Stats{Connected: true}, Circuit: resilience.BreakerHalfOpen},
			want:  HealthDegraded,
		},
		{
			name:  "open circuit",
			stats: engine.SessionStats{Conn: conn.Stats{Connected: false}, Circuit: resilience.BreakerOpen},
			want:  HealthOffline,
		},
	}

	b, err := NewBridge(Options{Controller: NewMockController(), MQTT: NewMockMQTTClient()})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewMockSession("proj-x")
			session.mu.Lock()
			session.stats = tt.stats
			session.mu.Unlock()
			if got := b.buildHealth(session).Status; got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

// === Topic parsing ===

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"viewlink/command/proj-a", "proj-a", false},
		{"viewlink/command/lobby-display-2", "lobby-display-2", false},
		{"viewlink/command/", "", true},
		{"viewlink/command", "", true},
		{"viewlink", "", true},
	}

	for _, tt := range tests {
		got, err := deviceFromTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("deviceFromTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("deviceFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBridgeStopIdempotent(t *testing.T) {
	mqttClient := NewMockMQTTClient()
	b := startTestBridge(t, mqttClient, NewMockController())
	b.Stop()
	b.Stop()
}

// A command arriving once Stop has begun must be dropped, not handed to
// a new dispatch goroutine racing the WaitGroup.
func TestBridgeDropsCommandsAfterStop(t *testing.T) {
	session := NewMockSession("proj-a")
	mqttClient := NewMockMQTTClient()
	b := startTestBridge(t, mqttClient, NewMockController(session))
	b.Stop()

	mqttClient.SimulateMessage("viewlink/command/proj-a",
		commandPayload(t, "req-late", CommandPowerOn, nil))

	time.Sleep(50 * time.Millisecond)
	if pub := mqttClient.GetPublished(); len(pub) != 0 {
		t.Errorf("expected no publishes after Stop, got %d", len(pub))
	}
	if calls := session.GetCalls(); len(calls) != 0 {
		t.Errorf("session called after Stop: %v", calls)
	}
}
