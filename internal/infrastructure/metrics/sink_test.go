package metrics_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/engine"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/config"
	"github.com/ashdown-av/viewlink-core/internal/infrastructure/metrics"
)

// The sink is the engine's measurement backend.
var _ engine.Recorder = (*metrics.Sink)(nil)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "viewlink-dev-token",
		Org:           "ashdown",
		Bucket:        "viewlink",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		cfg := testConfig()
		sink, err := metrics.Connect(cfg)
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		sink.Close()
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := metrics.Connect(cfg)
	if !errors.Is(err, metrics.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := metrics.Connect(cfg)
	if !errors.Is(err, metrics.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	if !sink.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	if err := sink.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRecordCommand(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	sink.RecordCommand("projector-hall", "power_on", 230*time.Millisecond, nil)
	sink.RecordCommand("projector-hall", "set_input", 95*time.Millisecond, errors.New("timeout"))
	sink.Flush()
}

func TestRecordCircuitState(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	sink.RecordCircuitState("projector-hall", "open")
	sink.RecordCircuitState("projector-hall", "half_open")
	sink.Flush()
}

func TestRecordPowerTransition(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	sink.RecordPowerTransition("projector-hall", "standby", "warming_up")
	sink.Flush()
}

func TestWritePoint(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sink.Close()

	sink.WritePoint("session_stats",
		map[string]string{"device_id": "projector-hall"},
		map[string]interface{}{"queued": 3, "reconnects": 1})
	sink.Flush()
}

func TestClose_Nil(t *testing.T) {
	sink := &metrics.Sink{}
	if err := sink.Close(); err != nil {
		t.Errorf("Close() on zero sink error = %v, want nil", err)
	}
}

func TestRecordAfterClose(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	sink, err := metrics.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sink.Close()

	// Writes after close are silently dropped.
	sink.RecordCommand("projector-hall", "power_on", time.Millisecond, nil)
	sink.Flush()

	if err := sink.HealthCheck(context.Background()); !errors.Is(err, metrics.ErrNotConnected) {
		t.Errorf("HealthCheck() after close error = %v, want ErrNotConnected", err)
	}
}
