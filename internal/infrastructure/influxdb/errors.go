package influxdb

import "errors"

var (
	// ErrDisabled means influxdb.enabled is false; callers skip the sink.
	ErrDisabled = errors.New("influxdb: sink disabled")

	// ErrConnectionFailed is wrapped around a failed startup ping.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrNotConnected is reported once the client has been closed.
	ErrNotConnected = errors.New("influxdb: client closed")
)
