package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is the operation namespace used for cache fills.
const DefaultNamespace = "analyze"

// Record is a held lock.
type Record struct {
	LockKey   string    `json:"lock_key"`
	LockID    string    `json:"lock_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Owner     string    `json:"owner"`
}

// Locker acquires and releases advisory locks.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Non-blocking: TryAcquire returns immediately; ok == false with a nil
//     error means contention.
//   - Expiry: a record stops counting as held once its TTL elapses.
//   - Release: best effort and idempotent. It deletes the record only while
//     it still carries lockID, so a holder whose lock expired and was taken
//     over never removes the new holder's record.
type Locker interface {
	TryAcquire(ctx context.Context, lockKey string, ttl time.Duration) (lockID string, ok bool, err error)
	Release(ctx context.Context, lockKey, lockID string) error
}

// LockKey derives the lock key guarding a cache key within a namespace.
func LockKey(cacheKey, namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return "lock:" + namespace + ":" + cacheKey
}

// DefaultOwner identifies this process as host:pid.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func validate(lockKey string, ttl time.Duration) error {
	if lockKey == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func newToken() string {
	return uuid.NewString()
}
