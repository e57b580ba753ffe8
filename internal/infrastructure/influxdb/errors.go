package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The daemon then runs without lamp state history in InfluxDB.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server does not answer the
	// start-up health check.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps errors reported for a batch of lamp points.
	// They arrive through the error callback, not from WriteLampState.
	ErrWriteFailed = errors.New("influxdb: lamp point write failed")
)
