package mqtt

import "errors"

var (
	// ErrNotConnected is returned when an operation requires a live
	// broker connection and there is none.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectFailed is returned when the initial broker connection
	// cannot be established.
	ErrConnectFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is refused or not
	// acknowledged in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription is refused or
	// not acknowledged in time.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
)
