package lock

import "errors"

// Sentinel errors for lock operations.
var (
	// ErrLockContention reports that another holder owns an unexpired lock.
	// Lockers return (false, nil) on contention; callers use this sentinel
	// when they need to surface the condition as an error value.
	ErrLockContention = errors.New("lock: held by another owner")

	// ErrInvalidTTL is returned when a lock is requested without a positive TTL.
	ErrInvalidTTL = errors.New("lock: ttl must be positive")

	// ErrEmptyKey is returned for an empty lock key.
	ErrEmptyKey = errors.New("lock: key is empty")

	// ErrLockUnavailable wraps backend failures.
	ErrLockUnavailable = errors.New("lock: backend unavailable")
)
