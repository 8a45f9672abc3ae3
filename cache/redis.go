package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/inferops/clock"
)

// DefaultRedisPrefix namespaces cache hashes in Redis.
const DefaultRedisPrefix = "inferops:cache:"

// Hash fields of a Redis entry.
const (
	fieldValue        = "value"
	fieldContext      = "context"
	fieldCreatedAt    = "created_at"
	fieldExpiresAt    = "expires_at"
	fieldAccessCount  = "access_count"
	fieldLastAccessed = "last_accessed_at"
)

// touchScript records a hit only if the hash still exists, so a hit racing
// with a sweep never resurrects a partial entry.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HINCRBY", KEYS[1], "access_count", 1)
	redis.call("HSET", KEYS[1], "last_accessed_at", ARGV[1])
	return 1
end
return 0
`)

// sweepScript deletes the hash only if it is still expired at ARGV[1].
var sweepScript = redis.NewScript(`
local exp = redis.call("HGET", KEYS[1], "expires_at")
if exp and tonumber(exp) < tonumber(ARGV[1]) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// Prefix is prepended to every key.
	// Default: DefaultRedisPrefix
	Prefix string

	// Grace extends the Redis-side TTL beyond ExpiresAt so expired entries
	// stay visible to Stats until swept.
	// Default: 1 minute
	Grace time.Duration

	// Clock is the time source. Default: wall clock.
	Clock clock.Clock
}

// RedisStore is a Store backed by Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
	clock  clock.Clock
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		grace:  cfg.Grace,
		clock:  clock.OrReal(cfg.Clock),
	}
}

func (s *RedisStore) fullKey(key string) string {
	return s.prefix + key
}

// Get returns the live entry for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	fk := s.fullKey(key)

	fields, err := s.client.HGetAll(ctx, fk).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrCacheUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}

	entry, err := decodeRedisEntry(key, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrCacheUnavailable, err)
	}
	if entry.Expired(now) {
		return nil, ErrMiss
	}

	touched, err := touchScript.Run(ctx, s.client, []string{fk}, now.UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("%w: touch: %w", ErrCacheUnavailable, err)
	}
	if touched == 0 {
		return nil, ErrMiss
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	return entry, nil
}

// Upsert atomically replaces the hash for key.
func (s *RedisStore) Upsert(ctx context.Context, key string, value json.RawMessage, cacheContext string, ttl time.Duration) error {
	if err := validateUpsert(key, ttl); err != nil {
		return err
	}
	now := s.clock.Now()
	fk := s.fullKey(key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fk)
		pipe.HSet(ctx, fk,
			fieldValue, string(value),
			fieldContext, cacheContext,
			fieldCreatedAt, now.UnixMilli(),
			fieldExpiresAt, now.Add(ttl).UnixMilli(),
			fieldAccessCount, 0,
			fieldLastAccessed, 0,
		)
		pipe.PExpire(ctx, fk, ttl+s.grace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// SweepExpired deletes hashes whose expires_at is before now.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.scan(ctx, func(fk string) error {
		n, err := sweepScript.Run(ctx, s.client, []string{fk}, now.UnixMilli()).Int()
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: sweep: %w", ErrCacheUnavailable, err)
	}
	return removed, nil
}

// Stats counts hashes under the prefix as of now.
func (s *RedisStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	nowMs := now.UnixMilli()
	err := s.scan(ctx, func(fk string) error {
		raw, err := s.client.HGet(ctx, fk, fieldExpiresAt).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		exp, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		st.TotalEntries++
		if nowMs >= exp {
			st.ExpiredEntries++
		} else {
			st.ActiveEntries++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrCacheUnavailable, err)
	}
	return st, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) scan(ctx context.Context, fn func(fk string) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func decodeRedisEntry(key string, fields map[string]string) (*Entry, error) {
	created, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	count, _ := strconv.ParseInt(fields[fieldAccessCount], 10, 64)
	lastMs, _ := strconv.ParseInt(fields[fieldLastAccessed], 10, 64)

	entry := &Entry{
		Key:         key,
		Value:       json.RawMessage(fields[fieldValue]),
		Context:     fields[fieldContext],
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
		AccessCount: count,
	}
	if lastMs > 0 {
		entry.LastAccessedAt = time.UnixMilli(lastMs)
	}
	return entry, nil
}

var _ Store = (*RedisStore)(nil)
