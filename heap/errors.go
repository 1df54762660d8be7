package heap

import "errors"

// Error definitions. Sentinel values so callers can use errors.Is.
var (
	// ErrOutOfMemory is returned when the backing region cannot grow any
	// further to satisfy a request.
	ErrOutOfMemory = errors.New("heap: out of memory")
	// ErrZeroCapacity is returned by NewAllocatorWithCapacity for a
	// nonsensical zero-byte region.
	ErrZeroCapacity = errors.New("heap: zero capacity")
)
