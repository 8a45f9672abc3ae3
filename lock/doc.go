// Package lock provides advisory, non-blocking locks that discourage
// duplicate concurrent fills of the same cache key.
//
// A Locker never waits. TryAcquire reports whether this caller now holds
// the lock; a caller that loses the race still does its own work and simply
// skips writing the shared result. Every record carries an expiry, so a
// crashed holder blocks nobody for longer than its TTL.
//
// Implementations:
//   - MemoryLocker: in-process map, for single-instance deployments and tests.
//   - RedisLocker: SET NX PX on go-redis with a token-checked release.
//   - ValkeyLocker: the same protocol on valkey-go.
//   - SQLLocker: gorm rows with a unique lock_key; expired rows are reaped
//     before each insert.
package lock
