// Package metrics provides the InfluxDB measurement sink for ViewLink.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes, and health monitoring.
//
// # Purpose
//
// This package records engine observability data:
//   - Per-command round-trip latency and outcome
//   - Retry attempt counters
//   - Circuit breaker state changes
//   - Power state transitions
//
// # Usage
//
//	cfg := config.MetricsConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "ashdown",
//	    Bucket: "viewlink",
//	}
//
//	sink, err := metrics.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sink.Close()
//
//	sink.RecordCommand("projector-hall", "power_on", 230*time.Millisecond, nil)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
package metrics
