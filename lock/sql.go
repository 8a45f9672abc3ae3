package lock

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jonwraymond/inferops/clock"
)

// lockModel is the persistence model for SQLLocker.
type lockModel struct {
	LockKey   string    `gorm:"column:lock_key;primaryKey;size:200"`
	LockID    string    `gorm:"column:lock_id;size:36;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null"`
	Owner     string    `gorm:"column:owner;size:255"`
}

func (lockModel) TableName() string {
	return "inference_locks"
}

// SQLLocker is a Locker on a relational table through gorm.
type SQLLocker struct {
	db    *gorm.DB
	owner string
	clock clock.Clock
}

// NewSQLLocker creates a SQLLocker. Call Init to create the table.
func NewSQLLocker(db *gorm.DB, c clock.Clock) *SQLLocker {
	return &SQLLocker{
		db:    db,
		owner: DefaultOwner(),
		clock: clock.OrReal(c),
	}
}

// Init migrates the inference_locks table.
func (l *SQLLocker) Init(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&lockModel{})
}

// TryAcquire reaps an expired record for lockKey and then inserts a new one.
// A surviving row makes the insert a no-op, which reports contention.
func (l *SQLLocker) TryAcquire(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	if err := validate(lockKey, ttl); err != nil {
		return "", false, err
	}
	now := l.clock.Now().UTC()
	rec := lockModel{
		LockKey:   lockKey,
		LockID:    newToken(),
		ExpiresAt: now.Add(ttl),
		Owner:     l.owner,
	}

	var acquired bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lock_key = ? AND expires_at <= ?", lockKey, now).
			Delete(&lockModel{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: acquire: %w", ErrLockUnavailable, err)
	}
	if !acquired {
		return "", false, nil
	}
	return rec.LockID, true, nil
}

// Release deletes lockKey if it still carries lockID.
func (l *SQLLocker) Release(ctx context.Context, lockKey, lockID string) error {
	if lockID == "" {
		return nil
	}
	err := l.db.WithContext(ctx).
		Where("lock_key = ? AND lock_id = ?", lockKey, lockID).
		Delete(&lockModel{}).Error
	if err != nil {
		return fmt.Errorf("%w: release: %w", ErrLockUnavailable, err)
	}
	return nil
}

// Holder returns the active record for lockKey, if any.
func (l *SQLLocker) Holder(ctx context.Context, lockKey string) (Record, bool, error) {
	var m lockModel
	res := l.db.WithContext(ctx).
		Where("lock_key = ? AND expires_at > ?", lockKey, l.clock.Now().UTC()).
		Limit(1).Find(&m)
	if res.Error != nil {
		return Record{}, false, fmt.Errorf("%w: holder: %w", ErrLockUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return Record{}, false, nil
	}
	return Record{LockKey: m.LockKey, LockID: m.LockID, ExpiresAt: m.ExpiresAt, Owner: m.Owner}, true, nil
}

var _ Locker = (*SQLLocker)(nil)
