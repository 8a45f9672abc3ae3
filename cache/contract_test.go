package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/inferops/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func mustKey(t *testing.T, text string) string {
	t.Helper()
	k, err := DeriveKey(text, "reviews", nil)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	return k
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clk *clock.Fake) Store) {
	t.Run("MissOnEmpty", func(t *testing.T) {
		s := newStore(t, clock.NewFake(epoch))
		_, err := s.Get(context.Background(), mustKey(t, "absent"))
		if !errors.Is(err, ErrMiss) {
			t.Errorf("Get() error = %v, want ErrMiss", err)
		}
	})

	t.Run("HitUntilExpiry", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		s := newStore(t, clk)
		ctx := context.Background()
		key := mustKey(t, "Great service!")
		value := json.RawMessage(`{"sentiment":"positive"}`)

		if err := s.Upsert(ctx, key, value, "reviews", time.Second); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got.Value) != string(value) {
			t.Errorf("Value = %s, want %s", got.Value, value)
		}
		if got.Context != "reviews" {
			t.Errorf("Context = %q, want reviews", got.Context)
		}
		if !got.ExpiresAt.After(got.CreatedAt) {
			t.Errorf("ExpiresAt %v should be after CreatedAt %v", got.ExpiresAt, got.CreatedAt)
		}

		clk.Advance(999 * time.Millisecond)
		if _, err := s.Get(ctx, key); err != nil {
			t.Errorf("Get() just before expiry error = %v", err)
		}

		clk.Advance(100 * time.Millisecond)
		if _, err := s.Get(ctx, key); !errors.Is(err, ErrMiss) {
			t.Errorf("Get() after expiry error = %v, want ErrMiss", err)
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		s := newStore(t, clk)
		ctx := context.Background()
		key := mustKey(t, "overwrite")

		if err := s.Upsert(ctx, key, json.RawMessage(`{"v":1}`), "reviews", time.Hour); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		clk.Advance(time.Minute)
		if err := s.Upsert(ctx, key, json.RawMessage(`{"v":2}`), "reviews", time.Hour); err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got.Value) != `{"v":2}` {
			t.Errorf("Value = %s, want {\"v\":2}", got.Value)
		}
		if !got.CreatedAt.Equal(epoch.Add(time.Minute)) {
			t.Errorf("CreatedAt = %v, want reset to %v", got.CreatedAt, epoch.Add(time.Minute))
		}
		if got.AccessCount != 1 {
			t.Errorf("AccessCount = %d, want 1 after overwrite", got.AccessCount)
		}
	})

	t.Run("AccessMetadata", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		s := newStore(t, clk)
		ctx := context.Background()
		key := mustKey(t, "counted")

		if err := s.Upsert(ctx, key, json.RawMessage(`{}`), "reviews", time.Hour); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		clk.Advance(5 * time.Second)
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.AccessCount != 2 {
			t.Errorf("AccessCount = %d, want 2", got.AccessCount)
		}
		if !got.LastAccessedAt.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, epoch.Add(5*time.Second))
		}
	})

	t.Run("SweepAndStats", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		s := newStore(t, clk)
		ctx := context.Background()
		short := mustKey(t, "short lived")
		long := mustKey(t, "long lived")

		if err := s.Upsert(ctx, short, json.RawMessage(`{}`), "reviews", time.Second); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := s.Upsert(ctx, long, json.RawMessage(`{}`), "reviews", time.Hour); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		clk.Advance(2 * time.Second)
		now := clk.Now()

		st, err := s.Stats(ctx, now)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if st.TotalEntries != 2 || st.ActiveEntries != 1 || st.ExpiredEntries != 1 {
			t.Errorf("Stats() = %+v, want total 2 active 1 expired 1", st)
		}

		n, err := s.SweepExpired(ctx, now)
		if err != nil {
			t.Fatalf("SweepExpired() error = %v", err)
		}
		if n != 1 {
			t.Errorf("SweepExpired() = %d, want 1", n)
		}

		st, err = s.Stats(ctx, now)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if st.TotalEntries != 1 || st.ActiveEntries != 1 || st.ExpiredEntries != 0 {
			t.Errorf("Stats() after sweep = %+v, want total 1 active 1", st)
		}

		if _, err := s.Get(ctx, long); err != nil {
			t.Errorf("live entry lost by sweep: %v", err)
		}
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		s := newStore(t, clock.NewFake(epoch))
		ctx := context.Background()

		if err := s.Upsert(ctx, "not-a-key", json.RawMessage(`{}`), "reviews", time.Hour); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Upsert(bad key) error = %v, want ErrInvalidKey", err)
		}
		if err := s.Upsert(ctx, mustKey(t, "x"), json.RawMessage(`{}`), "reviews", 0); !errors.Is(err, ErrInvalidTTL) {
			t.Errorf("Upsert(ttl=0) error = %v, want ErrInvalidTTL", err)
		}
		if _, err := s.Get(ctx, "not-a-key"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(bad key) error = %v, want ErrInvalidKey", err)
		}
	})
}
