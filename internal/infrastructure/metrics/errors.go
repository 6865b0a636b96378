package metrics

import "errors"

// Sentinel errors for the metrics sink.
var (
	// ErrNotConnected indicates the sink is not connected to InfluxDB.
	ErrNotConnected = errors.New("metrics: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("metrics: connection failed")

	// ErrDisabled indicates the metrics sink is disabled in config.
	ErrDisabled = errors.New("metrics: disabled in configuration")
)
