package relay

import "errors"

var (
	// ErrNoRegistry is returned by New when no registry is given.
	ErrNoRegistry = errors.New("relay: registry is required")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("relay: already started")

	// ErrInvalidCommand is returned for a command payload that cannot be
	// decoded or has no method.
	ErrInvalidCommand = errors.New("relay: invalid command")
)

// Error codes carried in failed acknowledgments.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownLamp    = "unknown_lamp"
	ErrCodeLampError      = "lamp_error"
	ErrCodeCommandFailed  = "command_failed"
	ErrCodeTimeout        = "timeout"
)
