package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/inferops/clock"
)

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu      sync.Mutex
	records map[string]Record
	owner   string
	clock   clock.Clock
}

// NewMemoryLocker creates an empty MemoryLocker. A nil clock uses the wall
// clock.
func NewMemoryLocker(c clock.Clock) *MemoryLocker {
	return &MemoryLocker{
		records: make(map[string]Record),
		owner:   DefaultOwner(),
		clock:   clock.OrReal(c),
	}
}

// TryAcquire takes lockKey if no unexpired record exists.
func (l *MemoryLocker) TryAcquire(_ context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	if err := validate(lockKey, ttl); err != nil {
		return "", false, err
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[lockKey]; ok && now.Before(rec.ExpiresAt) {
		return "", false, nil
	}
	rec := Record{
		LockKey:   lockKey,
		LockID:    newToken(),
		ExpiresAt: now.Add(ttl),
		Owner:     l.owner,
	}
	l.records[lockKey] = rec
	return rec.LockID, true, nil
}

// Release deletes the record for lockKey if it still carries lockID.
func (l *MemoryLocker) Release(_ context.Context, lockKey, lockID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[lockKey]; ok && rec.LockID == lockID {
		delete(l.records, lockKey)
	}
	return nil
}

// Holder returns the active record for lockKey, if any.
func (l *MemoryLocker) Holder(lockKey string) (Record, bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[lockKey]
	if !ok || !now.Before(rec.ExpiresAt) {
		return Record{}, false
	}
	return rec, true
}

var _ Locker = (*MemoryLocker)(nil)
