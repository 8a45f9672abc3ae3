package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyLocker is a Locker on valkey-go using SET NX PX.
type ValkeyLocker struct {
	client valkey.Client
	prefix string
}

// NewValkeyLocker creates a ValkeyLocker. An empty prefix uses
// DefaultRedisPrefix.
func NewValkeyLocker(client valkey.Client, prefix string) *ValkeyLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &ValkeyLocker{client: client, prefix: prefix}
}

// TryAcquire sets lockKey to a fresh token if it is not already set.
func (l *ValkeyLocker) TryAcquire(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	if err := validate(lockKey, ttl); err != nil {
		return "", false, err
	}
	token := newToken()

	cmd := l.client.B().Set().
		Key(l.prefix + lockKey).
		Value(token).
		Nx().
		Px(ttl).
		Build()

	err := l.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: acquire: %w", ErrLockUnavailable, err)
	}
	return token, true, nil
}

// Release deletes lockKey if it still holds lockID.
func (l *ValkeyLocker) Release(ctx context.Context, lockKey, lockID string) error {
	if lockID == "" {
		return nil
	}
	cmd := l.client.B().Eval().
		Script(releaseScript).
		Numkeys(1).
		Key(l.prefix + lockKey).
		Arg(lockID).
		Build()

	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: release: %w", ErrLockUnavailable, err)
	}
	return nil
}

var _ Locker = (*ValkeyLocker)(nil)
