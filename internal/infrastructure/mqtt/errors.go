package mqtt

import "errors"

var (
	// ErrConnectionFailed is returned when the broker cannot be reached at
	// start-up.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned for publishes and subscriptions while
	// the relay is offline.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when the broker does not acknowledge a
	// lamp state or ack publish in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when the command topic subscription
	// is refused or times out.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when dropping a subscription fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
