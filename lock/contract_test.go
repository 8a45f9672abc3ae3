package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// runLockerContract checks the behavior every Locker shares. expire moves
// time past a TTL, using a fake clock or the backend's own clock.
func runLockerContract(t *testing.T, newLocker func(t *testing.T) (Locker, func(time.Duration))) {
	t.Run("ExclusiveUntilRelease", func(t *testing.T) {
		l, _ := newLocker(t)
		ctx := context.Background()
		key := LockKey("abc", "")

		id, ok, err := l.TryAcquire(ctx, key, time.Minute)
		if err != nil || !ok || id == "" {
			t.Fatalf("first TryAcquire() = %q, %v, %v; want an id, true, nil", id, ok, err)
		}
		other, ok, err := l.TryAcquire(ctx, key, time.Minute)
		if err != nil || ok || other != "" {
			t.Fatalf("second TryAcquire() = %q, %v, %v; want \"\", false, nil", other, ok, err)
		}

		if err := l.Release(ctx, key, id); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		_, ok, err = l.TryAcquire(ctx, key, time.Minute)
		if err != nil || !ok {
			t.Errorf("TryAcquire() after release = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("SelfExpires", func(t *testing.T) {
		l, expire := newLocker(t)
		ctx := context.Background()
		key := LockKey("expiring", "")

		if _, ok, _ := l.TryAcquire(ctx, key, time.Second); !ok {
			t.Fatal("first TryAcquire() should succeed")
		}
		expire(2 * time.Second)

		_, ok, err := l.TryAcquire(ctx, key, time.Second)
		if err != nil || !ok {
			t.Errorf("TryAcquire() after expiry = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("ExpiredHolderCannotReleaseSuccessor", func(t *testing.T) {
		l, expire := newLocker(t)
		ctx := context.Background()
		key := LockKey("takeover", "")

		first, ok, _ := l.TryAcquire(ctx, key, time.Second)
		if !ok {
			t.Fatal("first TryAcquire() should succeed")
		}
		expire(2 * time.Second)

		second, ok, err := l.TryAcquire(ctx, key, time.Minute)
		if err != nil || !ok {
			t.Fatalf("TryAcquire() after expiry = %v, %v; want true, nil", ok, err)
		}
		if second == first {
			t.Fatalf("successor reused lock id %q", first)
		}

		if err := l.Release(ctx, key, first); err != nil {
			t.Fatalf("stale Release() error = %v", err)
		}
		if _, ok, _ := l.TryAcquire(ctx, key, time.Minute); ok {
			t.Fatal("TryAcquire() succeeded while the successor still holds the lock")
		}

		if err := l.Release(ctx, key, second); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if _, ok, _ := l.TryAcquire(ctx, key, time.Minute); !ok {
			t.Error("TryAcquire() after the successor released should succeed")
		}
	})

	t.Run("ReleaseIdempotent", func(t *testing.T) {
		l, _ := newLocker(t)
		ctx := context.Background()
		key := LockKey("idem", "")

		if err := l.Release(ctx, key, "never-issued"); err != nil {
			t.Errorf("Release() of unheld lock error = %v", err)
		}
		id, _, _ := l.TryAcquire(ctx, key, time.Minute)
		if err := l.Release(ctx, key, id); err != nil {
			t.Errorf("Release() error = %v", err)
		}
		if err := l.Release(ctx, key, id); err != nil {
			t.Errorf("second Release() error = %v", err)
		}
	})

	t.Run("KeysIndependent", func(t *testing.T) {
		l, _ := newLocker(t)
		ctx := context.Background()

		_, a, _ := l.TryAcquire(ctx, LockKey("a", ""), time.Minute)
		_, b, _ := l.TryAcquire(ctx, LockKey("b", ""), time.Minute)
		if !a || !b {
			t.Errorf("TryAcquire() on distinct keys = %v, %v; want both true", a, b)
		}
	})

	t.Run("OneWinnerUnderContention", func(t *testing.T) {
		l, _ := newLocker(t)
		ctx := context.Background()
		key := LockKey("contended", "")

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, err := l.TryAcquire(ctx, key, time.Minute); err == nil && ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := winners.Load(); got != 1 {
			t.Errorf("winners = %d, want 1", got)
		}
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		l, _ := newLocker(t)
		ctx := context.Background()

		if _, _, err := l.TryAcquire(ctx, "", time.Second); err != ErrEmptyKey {
			t.Errorf("TryAcquire(empty) error = %v, want ErrEmptyKey", err)
		}
		if _, _, err := l.TryAcquire(ctx, "k", 0); err != ErrInvalidTTL {
			t.Errorf("TryAcquire(ttl=0) error = %v, want ErrInvalidTTL", err)
		}
	})
}
