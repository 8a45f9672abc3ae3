package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// KeyLength is the length of a derived cache key (hex SHA-256).
const KeyLength = 64

// Sentinel errors for cache operations.
var (
	ErrMiss             = errors.New("cache: miss")
	ErrNilStore         = errors.New("cache: store is nil")
	ErrInvalidKey       = errors.New("cache: key is invalid")
	ErrInvalidTTL       = errors.New("cache: ttl must be positive")
	ErrCacheUnavailable = errors.New("cache: store unavailable")
)

// Entry is a cached analysis result.
//
// ExpiresAt is always after CreatedAt. An upsert replaces Value, CreatedAt
// and ExpiresAt together and resets the access metadata, so the age of an
// entry and its access count always describe the same stored value.
type Entry struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	Context        string          `json:"context"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	AccessCount    int64           `json:"access_count"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
}

// Expired reports whether the entry is logically gone at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats summarizes the entries held by a Store.
type Stats struct {
	TotalEntries   int64 `json:"total_entries"`
	ActiveEntries  int64 `json:"active_entries"`
	ExpiredEntries int64 `json:"expired_entries"`
}

// Store persists cache entries with a TTL.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines where applicable.
//   - Errors: Get returns ErrMiss when the key is absent or expired. Backend
//     failures are wrapped with ErrCacheUnavailable.
//   - Hits: a successful Get increments AccessCount and sets LastAccessedAt,
//     and the returned Entry reflects that update.
type Store interface {
	// Get returns the live entry for key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Upsert writes value under key with expiresAt = now + ttl.
	Upsert(ctx context.Context, key string, value json.RawMessage, cacheContext string, ttl time.Duration) error

	// SweepExpired deletes entries whose ExpiresAt is before now.
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// Stats counts total, active and expired entries as of now.
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// ValidateKey checks that key is a derived 64-character hex digest.
func ValidateKey(key string) error {
	if len(key) != KeyLength {
		return ErrInvalidKey
	}
	if _, err := hex.DecodeString(key); err != nil {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r >= 'A' && r <= 'F' {
			return ErrInvalidKey
		}
	}
	return nil
}

func validateUpsert(key string, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
