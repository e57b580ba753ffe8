package yeelight

import (
	"errors"
	"fmt"
)

// Domain errors for the yeelight package.
var (
	// ErrMalformedFrame is returned when a line from a lamp is not valid JSON.
	ErrMalformedFrame = errors.New("yeelight: malformed response frame")

	// ErrUnknownWireKey is returned when a lamp reports a property the
	// translator does not know about.
	ErrUnknownWireKey = errors.New("yeelight: unknown wire key")

	// ErrInvalidWireValue is returned when a known property carries a value
	// that cannot be coerced to its field type.
	ErrInvalidWireValue = errors.New("yeelight: invalid wire value")

	// ErrInvalidArgument is returned by command builders for out-of-range input.
	ErrInvalidArgument = errors.New("yeelight: invalid command argument")

	// ErrConnectionFailed is returned when the TCP connection to a lamp
	// cannot be established.
	ErrConnectionFailed = errors.New("yeelight: connection to lamp failed")

	// ErrConnectionClosed is returned when the lamp socket closes while a
	// command is waiting for its reply.
	ErrConnectionClosed = errors.New("yeelight: connection closed")

	// ErrCommandFailed is returned when a lamp answers with a result other than "ok".
	ErrCommandFailed = errors.New("yeelight: command failed")

	// ErrSessionClosed is returned when using a session after Close.
	ErrSessionClosed = errors.New("yeelight: session closed")

	// ErrNoFreePort is returned when the music server cannot bind any port
	// within the configured number of attempts.
	ErrNoFreePort = errors.New("yeelight: no free port for music server")

	// ErrMusicServerClosed is returned when sending through a closed music server.
	ErrMusicServerClosed = errors.New("yeelight: music server closed")

	// ErrNoMusicConnection is returned when sending through a music server
	// the lamp is no longer connected to.
	ErrNoMusicConnection = errors.New("yeelight: no lamp connected to music server")

	// ErrNoLocalAddress is returned when no non-loopback IPv4 address is
	// available to advertise to a lamp.
	ErrNoLocalAddress = errors.New("yeelight: no local IPv4 address")
)

// DeviceError is an error reported by the lamp itself in an error frame.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("yeelight: lamp error %d: %s", e.Code, e.Message)
}
