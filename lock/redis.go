package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces lock keys in Redis and Valkey.
const DefaultRedisPrefix = "inferops:"

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

var redisRelease = redis.NewScript(releaseScript)

// RedisLocker is a Locker on go-redis using SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a RedisLocker. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryAcquire sets lockKey to a fresh token if it is not already set.
func (l *RedisLocker) TryAcquire(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	if err := validate(lockKey, ttl); err != nil {
		return "", false, err
	}
	token := newToken()

	ok, err := l.client.SetNX(ctx, l.prefix+lockKey, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: acquire: %w", ErrLockUnavailable, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes lockKey if it still holds lockID.
func (l *RedisLocker) Release(ctx context.Context, lockKey, lockID string) error {
	if lockID == "" {
		return nil
	}
	if err := redisRelease.Run(ctx, l.client, []string{l.prefix + lockKey}, lockID).Err(); err != nil {
		return fmt.Errorf("%w: release: %w", ErrLockUnavailable, err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
