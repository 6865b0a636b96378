package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ViewLink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
	Engine  EngineConfig   `yaml:"engine"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes one controllable display endpoint.
type DeviceConfig struct {
	// ID is the stable identifier used in topics, logs, and metrics.
	ID string `yaml:"id"`

	// Host is the device's network address (IP or hostname).
	Host string `yaml:"host"`

	// Port is the TCP control port. Default: 4352.
	Port int `yaml:"port"`

	// Secret is the shared secret for the challenge/response handshake.
	// Empty means the device does not require authentication.
	Secret string `yaml:"secret"`

	// Class is the protocol capability class advertised by the device (1 or 2).
	Class int `yaml:"class"`

	// Dialect selects the command dialect. Default: "generic".
	Dialect string `yaml:"dialect"`
}

// EngineConfig contains control-engine tuning parameters.
type EngineConfig struct {
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// IdleTimeout is how long (seconds) a connection may sit without command
	// activity before it is proactively closed. Default: 30.
	IdleTimeout int `yaml:"idle_timeout"`

	// KeepAliveInterval is how often (seconds) a keep-alive status query is
	// issued on an otherwise idle connection. 0 disables keep-alive.
	// Only effective when set below idle_timeout: the probe must come due
	// before the idle sweep closes the connection. With the defaults
	// (60 vs 30) connections simply close when idle; set this to e.g. 20
	// to hold them open instead. Default: 60.
	KeepAliveInterval int `yaml:"keep_alive_interval"`

	// QueueTimeout is how long (seconds) a queued command may wait before it
	// is discarded as stale. Default: 10.
	QueueTimeout int `yaml:"queue_timeout"`

	// QueueSize is the per-device command queue capacity. Default: 32.
	QueueSize int `yaml:"queue_size"`

	// StatusPollInterval is how often (seconds) the cached device status is
	// refreshed through the command queue. 0 disables polling. Default: 30.
	StatusPollInterval int `yaml:"status_poll_interval"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
	Power   PowerConfig   `yaml:"power"`
}

// TimeoutConfig contains transport timeouts in seconds.
type TimeoutConfig struct {
	Connect int `yaml:"connect"`
	Read    int `yaml:"read"`
	Write   int `yaml:"write"`
}

// RetryConfig contains retry policy settings for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (first try + retries). Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the first retry delay in seconds. Default: 1.
	BaseDelay int `yaml:"base_delay"`

	// Multiplier is the exponential backoff factor. Default: 2.0.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the computed backoff delay in seconds. Default: 30.
	MaxDelay int `yaml:"max_delay"`

	// Jitter scales each delay by a uniform factor in [0.5, 1.0] to avoid
	// synchronised retries across devices. Default: true.
	Jitter bool `yaml:"jitter"`
}

// BreakerConfig contains circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long (seconds) the circuit stays open before allowing
	// half-open trial calls. Default: 60.
	Cooldown int `yaml:"cooldown"`

	// HalfOpenTrials is the number of successful trial calls required to
	// close the circuit again. Default: 1.
	HalfOpenTrials int `yaml:"half_open_trials"`
}

// PowerConfig contains power transition timings and guard policy.
type PowerConfig struct {
	// WarmUp is the device warm-up duration in seconds. Default: 30.
	WarmUp int `yaml:"warm_up"`

	// CoolDown is the device cool-down duration in seconds. Default: 90.
	CoolDown int `yaml:"cool_down"`

	// AllowPowerOffDuringWarmUp permits a power-off command while the device
	// is still warming up. Some devices accept this, some do not. Default: false.
	AllowPowerOffDuringWarmUp bool `yaml:"allow_power_off_during_warm_up"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often (seconds) per-device health snapshots are
	// published. 0 disables health publishing. Default: 30.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MetricsConfig contains InfluxDB metrics sink settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VIEWLINK_SECTION_KEY
// For example: VIEWLINK_MQTT_HOST, VIEWLINK_METRICS_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply per-device defaults for fields YAML left at zero
	applyDeviceDefaults(cfg)

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Timeouts: TimeoutConfig{
				Connect: 3,
				Read:    5,
				Write:   3,
			},
			IdleTimeout:        30,
			KeepAliveInterval:  60,
			QueueTimeout:       10,
			QueueSize:          32,
			StatusPollInterval: 30,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1,
				Multiplier:  2.0,
				MaxDelay:    30,
				Jitter:      true,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         60,
				HalfOpenTrials:   1,
			},
			Power: PowerConfig{
				WarmUp:   30,
				CoolDown: 90,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "viewlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyDeviceDefaults fills zero-valued per-device fields.
func applyDeviceDefaults(cfg *Config) {
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Port == 0 {
			d.Port = 4352
		}
		if d.Class == 0 {
			d.Class = 1
		}
		if d.Dialect == "" {
			d.Dialect = "generic"
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VIEWLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("VIEWLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VIEWLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIEWLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Metrics
	if v := os.Getenv("VIEWLINK_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}

	// Logging
	if v := os.Getenv("VIEWLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Host == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 1 and 65535", i))
		}
		if d.Class < 1 || d.Class > 2 {
			errs = append(errs, fmt.Sprintf("devices[%d].class must be 1 or 2", i))
		}
	}

	// Engine validation
	if c.Engine.Retry.MaxAttempts < 1 {
		errs = append(errs, "engine.retry.max_attempts must be at least 1")
	}
	if c.Engine.Retry.Multiplier < 1 {
		errs = append(errs, "engine.retry.multiplier must be at least 1")
	}
	if c.Engine.Breaker.FailureThreshold < 1 {
		errs = append(errs, "engine.breaker.failure_threshold must be at least 1")
	}
	if c.Engine.Breaker.HalfOpenTrials < 1 {
		errs = append(errs, "engine.breaker.half_open_trials must be at least 1")
	}
	if c.Engine.Power.WarmUp < 0 || c.Engine.Power.CoolDown < 0 {
		errs = append(errs, "engine.power durations must not be negative")
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine.queue_size must be at least 1")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.URL == "" {
			errs = append(errs, "metrics.url is required when metrics are enabled")
		}
		if c.Metrics.Token == "" {
			errs = append(errs, "metrics.token is required when metrics are enabled (set VIEWLINK_METRICS_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeout returns the transport connect timeout as a Duration.
func (e EngineConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.Timeouts.Connect) * time.Second
}

// ReadTimeout returns the transport read timeout as a Duration.
func (e EngineConfig) ReadTimeout() time.Duration {
	return time.Duration(e.Timeouts.Read) * time.Second
}

// WriteTimeout returns the transport write timeout as a Duration.
func (e EngineConfig) WriteTimeout() time.Duration {
	return time.Duration(e.Timeouts.Write) * time.Second
}
