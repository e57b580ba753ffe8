package natsbus

import "errors"

var (
	// ErrDisabled is returned by Connect when nats.enabled is false.
	ErrDisabled = errors.New("natsbus: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("natsbus: connection failed")

	// ErrNotConnected is returned when the connection is down or closed.
	ErrNotConnected = errors.New("natsbus: not connected")

	// ErrPublishFailed is returned when a publish cannot be queued.
	ErrPublishFailed = errors.New("natsbus: publish failed")

	// ErrSubscribeFailed is returned when a subscription cannot be created.
	ErrSubscribeFailed = errors.New("natsbus: subscribe failed")

	// ErrInvalidSubject is returned for an empty subject.
	ErrInvalidSubject = errors.New("natsbus: subject cannot be empty")
)
