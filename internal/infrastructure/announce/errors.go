package announce

import "errors"

var (
	// ErrDisabled is returned by Advertise when mdns.enabled is false.
	ErrDisabled = errors.New("announce: disabled in configuration")

	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("announce: invalid port")

	// ErrAdvertiseFailed is returned when the mDNS zone or server cannot
	// be created.
	ErrAdvertiseFailed = errors.New("announce: advertise failed")
)
