// ViewLink Core - Display Device Control Engine
//
// This is the main entry point for the ViewLink Core service. ViewLink
// drives networked display devices (projectors, flat panels) over their
// TCP control protocol and exposes them to control systems via MQTT:
//   - Persistent per-device connections with keep-alive and idle expiry
//   - Power state modelling with warm-up/cool-down guards
//   - Retry, circuit breaking, and per-device command serialisation
//   - Retained state/health snapshots and command results over MQTT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/bridge"
	"github.com/ashdown-av/viewlink-core/internal/conn"
	"github.com/ashdown-av/viewlink-core/internal/engine"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/config"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/logging"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/metrics"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/mqtt"
	"github.com/ashdown-av/viewlink-core/internal/power"
	"github.com/ashdown-av/viewlink-core/internal/resilience"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ViewLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Create the control engine
	eng := engine.New(engineConfig(cfg))
	eng.SetLogger(log)
	defer func() {
		log.Info("closing engine")
		if closeErr := eng.Close(); closeErr != nil {
			log.Error("error closing engine", "error", closeErr)
		}
	}()

	// Connect to InfluxDB metrics sink (optional)
	if cfg.Metrics.Enabled {
		sink, sinkErr := metrics.Connect(cfg.Metrics)
		if sinkErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", sinkErr)
		}
		defer func() {
			log.Info("closing metrics sink")
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("error closing metrics sink", "error", closeErr)
			}
		}()
		sink.SetOnError(func(err error) {
			log.Error("metrics write error", "error", err)
		})
		eng.SetRecorder(sink)
		log.Info("metrics sink connected",
			"url", cfg.Metrics.URL,
			"org", cfg.Metrics.Org,
			"bucket", cfg.Metrics.Bucket,
		)
	} else {
		log.Info("metrics disabled")
	}

	// Register configured devices
	for _, dev := range cfg.Devices {
		if _, connectErr := eng.Connect(engine.Device{
			Endpoint: conn.Endpoint{
				ID:     dev.ID,
				Host:   dev.Host,
				Port:   dev.Port,
				Secret: dev.Secret,
				Class:  dev.Class,
			},
			Dialect: dev.Dialect,
		}); connectErr != nil {
			return fmt.Errorf("registering device %q: %w", dev.ID, connectErr)
		}
		log.Info("device registered",
			"device_id", dev.ID,
			"address", fmt.Sprintf("%s:%d", dev.Host, dev.Port),
			"dialect", dev.Dialect,
		)
	}

	// Connect to MQTT broker and start the bridge (if enabled)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		b, bridgeErr := bridge.NewBridge(bridge.Options{
			Controller:     &engineController{engine: eng},
			MQTT:           &mqttBridgeAdapter{client: mqttClient},
			QoS:            byte(cfg.MQTT.QoS),
			HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			Logger:         log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating bridge: %w", bridgeErr)
		}
		if startErr := b.Start(); startErr != nil {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping bridge")
			b.Stop()
		}()
		log.Info("bridge started")

		// Verify the broker connection is healthy before declaring ready
		if healthErr := mqttClient.HealthCheck(ctx); healthErr != nil {
			return fmt.Errorf("mqtt health check: %w", healthErr)
		}
	} else {
		log.Info("MQTT disabled, engine running standalone")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Bridge
	// 2. MQTT
	// 3. Metrics sink (if enabled)
	// 4. Engine (drains device queues, closes connections)

	log.Info("ViewLink Core stopped")
	return nil
}

// engineConfig converts file configuration into engine policies.
func engineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine
	return engine.Config{
		Conn: conn.Config{
			ConnectTimeout:    e.ConnectTimeout(),
			ReadTimeout:       e.ReadTimeout(),
			WriteTimeout:      e.WriteTimeout(),
			IdleTimeout:       time.Duration(e.IdleTimeout) * time.Second,
			KeepAliveInterval: time.Duration(e.KeepAliveInterval) * time.Second,
		},
		Retry: resilience.RetryPolicy{
			MaxAttempts: e.Retry.MaxAttempts,
			BaseDelay:   time.Duration(e.Retry.BaseDelay) * time.Second,
			Multiplier:  e.Retry.Multiplier,
			MaxDelay:    time.Duration(e.Retry.MaxDelay) * time.Second,
			Jitter:      e.Retry.Jitter,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: e.Breaker.FailureThreshold,
			Cooldown:         time.Duration(e.Breaker.Cooldown) * time.Second,
			HalfOpenTrials:   e.Breaker.HalfOpenTrials,
		},
		Power: power.Config{
			WarmUp:                    time.Duration(e.Power.WarmUp) * time.Second,
			CoolDown:                  time.Duration(e.Power.CoolDown) * time.Second,
			AllowPowerOffDuringWarmUp: e.Power.AllowPowerOffDuringWarmUp,
		},
		QueueSize:          e.QueueSize,
		QueueTimeout:       time.Duration(e.QueueTimeout) * time.Second,
		StatusPollInterval: time.Duration(e.StatusPollInterval) * time.Second,
	}
}

// getConfigPath returns the configuration file path.
// Uses VIEWLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VIEWLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// engineController adapts *engine.Engine to the bridge's Controller
// interface. The indirection exists because engine.Session is a concrete
// type and a nil *Session must become a nil bridge.DeviceSession.
type engineController struct {
	engine *engine.Engine
}

// Session implements bridge.Controller.
func (c *engineController) Session(deviceID string) bridge.DeviceSession {
	s := c.engine.Session(deviceID)
	if s == nil {
		return nil
	}
	return s
}

// Sessions implements bridge.Controller.
func (c *engineController) Sessions() []bridge.DeviceSession {
	sessions := c.engine.Sessions()
	out := make([]bridge.DeviceSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// Subscribe implements bridge.Controller.
func (c *engineController) Subscribe(buffer int) (<-chan engine.Event, func()) {
	return c.engine.Subscribe(buffer)
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the Subscribe handler
// parameter type: the client takes the named mqtt.MessageHandler, the
// bridge an unnamed func type.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, mqtt.MessageHandler(handler))
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
