package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrNotStarted is returned by Probe before Start.
	ErrNotStarted = errors.New("discovery: listener not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("discovery: listener already started")

	// ErrListenerClosed is returned after Close.
	ErrListenerClosed = errors.New("discovery: listener closed")

	// ErrInvalidAddress is returned when the SSDP address cannot be parsed.
	ErrInvalidAddress = errors.New("discovery: invalid address")

	// ErrSocketFailed is returned when a UDP socket cannot be opened.
	ErrSocketFailed = errors.New("discovery: socket setup failed")
)
