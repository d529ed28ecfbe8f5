package alloc

import "errors"

var (
	// ErrNoSpace indicates that no free region large enough was found.
	ErrNoSpace = errors.New("alloc: no free region large enough")

	// ErrBadRef indicates an address that the allocator could not have issued.
	ErrBadRef = errors.New("alloc: bad block reference")

	// ErrBadRegion indicates a heap region that cannot be managed (null start
	// or an end that wraps the address space).
	ErrBadRegion = errors.New("alloc: invalid heap region")

	// ErrAlreadyInitialized indicates a second Init call.
	ErrAlreadyInitialized = errors.New("alloc: already initialized")

	// ErrLockHeld is returned by Locked.TryAlloc when the dispatcher lock is
	// already taken.
	ErrLockHeld = errors.New("alloc: allocator lock is held")

	// ErrUnknownStrategy indicates an unrecognised strategy name.
	ErrUnknownStrategy = errors.New("alloc: unknown strategy")
)
