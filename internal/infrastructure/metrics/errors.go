package metrics

import "errors"

// Domain-specific errors for the metrics client.
var (
	// ErrDisabled is returned by Connect when metrics are disabled in the
	// configuration.
	ErrDisabled = errors.New("metrics: disabled in configuration")

	// ErrConnectionFailed is returned when the InfluxDB server cannot be
	// reached or reports unhealthy.
	ErrConnectionFailed = errors.New("metrics: connection failed")
)
