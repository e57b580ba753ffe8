package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrLampNotFound) {
//	    // handle not found case
//	}
var (
	// ErrLampNotFound is returned when a lamp id is not in the registry or store.
	ErrLampNotFound = errors.New("device: lamp not found")

	// ErrRegistryEmpty is returned by GetRandom when no lamp is known.
	ErrRegistryEmpty = errors.New("device: registry is empty")

	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("device: registry closed")

	// ErrInvalidLampID is returned for the reserved id 0.
	ErrInvalidLampID = errors.New("device: invalid lamp id")

	// ErrNoRepository is returned by operations that need persistence when
	// none is configured.
	ErrNoRepository = errors.New("device: no repository configured")
)
