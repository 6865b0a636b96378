package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ashdown-av/viewlink-core/internal/infrastructure/config"
)

// Operation timeouts.
const (
	// connectTimeout bounds the initial broker connection.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds waiting for a publish or subscribe acknowledgment.
	ackTimeout = 5 * time.Second

	// disconnectQuiesce is how long pending operations get to finish on
	// Close, in milliseconds as paho expects.
	disconnectQuiesce = 1000

	// brokerKeepAlive is the MQTT ping interval that detects a dead
	// broker connection.
	brokerKeepAlive = 60 * time.Second
)

// MessageHandler receives one inbound message. Paho invokes handlers on
// its own goroutines; a handler that must do real work should hand off
// and return, as the bridge's command intake does. A returned error is
// logged, not redelivered.
type MessageHandler func(topic string, payload []byte) error

// subscription is one active topic registration, kept so it can be
// replayed after a broker reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is the broker connection shared by the bridge: command intake
// subscriptions in one direction, results, retained state/health
// snapshots, and engine events in the other. It maintains the service
// presence topic (online on connect, offline via LWT or graceful close)
// and replays subscriptions after an automatic reconnect.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	mu        sync.Mutex
	connected bool
	subs      []subscription

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging. Satisfied by logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect dials the broker, registers the offline LWT, and announces
// the service as online. Auto-reconnect stays on for the lifetime of
// the client; lost subscriptions are replayed on every reconnect.
//
// Parameters:
//   - cfg: Broker address, credentials, QoS, and reconnect pacing
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectFailed when the broker cannot be reached in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay)*time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay)*time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(brokerKeepAlive).
		SetWill(Topics{}.ServiceStatus(), string(presencePayload(cfg.Broker.ClientID, presenceLost)), 1, true).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no response within %v", ErrConnectFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark connected here so
	// IsConnected holds as soon as Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// handleConnect runs on the initial connection and on every reconnect:
// replay subscriptions, refresh presence, then notify.
func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.adaptHandler(sub.handler))
		if token.WaitTimeout(ackTimeout) && token.Error() != nil {
			c.logError("subscription replay failed", "topic", sub.topic, "error", token.Error())
		}
	}

	c.client.Publish(Topics{}.ServiceStatus(), byte(c.cfg.QoS), true,
		presencePayload(c.cfg.Broker.ClientID, presenceOnline))

	c.callbackMu.RLock()
	fn := c.onConnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// handleConnectionLost marks the client offline; paho keeps retrying in
// the background and the broker publishes the LWT on our behalf.
func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.callbackMu.RLock()
	fn := c.onDisconnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Publish sends one message.
//
// Parameters:
//   - topic: Destination topic, normally built via Topics
//   - payload: Message body, JSON throughout this codebase
//   - qos: Delivery guarantee (0, 1, or 2)
//   - retained: Broker keeps the last message for new subscribers; used
//     for state, health, and presence topics, never for commands
//
// Returns:
//   - error: ErrNotConnected, or ErrPublishFailed on timeout/refusal
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrPublishFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrPublishFailed, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers a handler for a topic pattern ("+" and "#"
// wildcards supported). The registration survives reconnects.
//
// Returns:
//   - error: ErrNotConnected, or ErrSubscribeFailed on timeout/refusal
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrSubscribeFailed)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.adaptHandler(handler))
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrSubscribeFailed, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, qos: qos, handler: handler})
	c.mu.Unlock()
	return nil
}

// adaptHandler converts a MessageHandler into paho's callback shape,
// containing panics and logging handler errors.
func (c *Client) adaptHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("message handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("message handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

// Close announces a graceful shutdown on the presence topic (so watchers
// can tell it apart from the LWT) and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.ServiceStatus(), byte(c.cfg.QoS), true,
			presencePayload(c.cfg.Broker.ClientID, presenceShutdown))
		token.WaitTimeout(ackTimeout)
	}

	c.client.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports whether the broker connection is live.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return connected && c.client.IsConnected()
}

// SetOnConnect registers a callback for the initial connection and
// every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.callbackMu.Lock()
	c.onConnect = fn
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback for connection loss.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

// brokerURL builds the paho broker address, ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}
