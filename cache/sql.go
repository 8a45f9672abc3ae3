package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jonwraymond/inferops/clock"
)

// cacheEntryModel is the persistence model for SQLStore.
type cacheEntryModel struct {
	CacheKey       string    `gorm:"column:cache_key;primaryKey;size:64"`
	Value          string    `gorm:"column:value;type:text;not null"`
	Context        string    `gorm:"column:context;size:128;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime:false;not null"`
	ExpiresAt      time.Time `gorm:"column:expires_at;index;not null"`
	AccessCount    int64     `gorm:"column:access_count;not null;default:0"`
	LastAccessedAt time.Time `gorm:"column:last_accessed_at"`
}

func (cacheEntryModel) TableName() string {
	return "inference_cache"
}

// SQLStore is a Store backed by a relational table through gorm.
// All timestamps are stored in UTC so range predicates compare correctly
// on every dialect.
type SQLStore struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewSQLStore creates a SQL-backed store. Call Init to create the table.
func NewSQLStore(db *gorm.DB, c clock.Clock) *SQLStore {
	return &SQLStore{db: db, clock: clock.OrReal(c)}
}

// Init migrates the inference_cache table.
func (s *SQLStore) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&cacheEntryModel{})
}

// Get returns the live entry for key and records the hit.
func (s *SQLStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	var m cacheEntryModel
	err := s.db.WithContext(ctx).First(&m, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrCacheUnavailable, err)
	}

	entry := fromCacheModel(m)
	if entry.Expired(now) {
		return nil, ErrMiss
	}

	// Guarded by expires_at so a concurrent overwrite keeps its fresh counters.
	res := s.db.WithContext(ctx).Model(&cacheEntryModel{}).
		Where("cache_key = ? AND expires_at = ?", key, m.ExpiresAt).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + ?", 1),
			"last_accessed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: touch: %w", ErrCacheUnavailable, res.Error)
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	return entry, nil
}

// Upsert inserts or replaces the row for key in one statement.
func (s *SQLStore) Upsert(ctx context.Context, key string, value json.RawMessage, cacheContext string, ttl time.Duration) error {
	if err := validateUpsert(key, ttl); err != nil {
		return err
	}
	now := s.clock.Now().UTC()

	m := cacheEntryModel{
		CacheKey:       key,
		Value:          string(value),
		Context:        cacheContext,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		AccessCount:    0,
		LastAccessedAt: time.Time{},
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "context", "created_at", "expires_at", "access_count", "last_accessed_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// SweepExpired deletes rows whose expires_at is before now.
func (s *SQLStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&cacheEntryModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: sweep: %w", ErrCacheUnavailable, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Stats counts rows as of now.
func (s *SQLStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&cacheEntryModel{})
	if err := db.Count(&st.TotalEntries).Error; err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrCacheUnavailable, err)
	}
	err := s.db.WithContext(ctx).Model(&cacheEntryModel{}).
		Where("expires_at > ?", now.UTC()).
		Count(&st.ActiveEntries).Error
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrCacheUnavailable, err)
	}
	st.ExpiredEntries = st.TotalEntries - st.ActiveEntries
	return st, nil
}

// Ping checks connectivity to the database.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func fromCacheModel(m cacheEntryModel) *Entry {
	return &Entry{
		Key:            m.CacheKey,
		Value:          json.RawMessage(m.Value),
		Context:        m.Context,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		AccessCount:    m.AccessCount,
		LastAccessedAt: m.LastAccessedAt,
	}
}

var _ Store = (*SQLStore)(nil)
