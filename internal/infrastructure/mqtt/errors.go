package mqtt

import "errors"

var (
	// ErrConnectionFailed is wrapped around a refused or timed out connect.
	ErrConnectionFailed = errors.New("mqtt: broker unreachable")

	// ErrNotConnected means the link to the broker is currently down.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrPublishFailed is wrapped around every failed or timed out publish.
	ErrPublishFailed = errors.New("mqtt: publish rejected")

	ErrInvalidQoS   = errors.New("mqtt: qos out of range")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
