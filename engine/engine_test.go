package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/inferops/cache"
	"github.com/jonwraymond/inferops/clock"
	"github.com/jonwraymond/inferops/lock"
	"github.com/jonwraymond/inferops/observe"
	"github.com/jonwraymond/inferops/resilience"
	"github.com/jonwraymond/inferops/upstream"
	"github.com/jonwraymond/inferops/usage"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeProvider echoes the input text into the summary and counts calls.
type fakeProvider struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    func(text string) time.Duration
	fail     func(text string) error

	// stubborn makes delay ignore ctx, like a client without deadlines.
	stubborn bool
}

func (p *fakeProvider) Call(ctx context.Context, pl upstream.Payload, _ time.Duration) (upstream.RawResponse, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if p.delay != nil && p.stubborn {
		time.Sleep(p.delay(pl.Text))
	} else if p.delay != nil {
		select {
		case <-time.After(p.delay(pl.Text)):
		case <-ctx.Done():
			return upstream.RawResponse{}, ctx.Err()
		}
	}
	if p.fail != nil {
		if err := p.fail(pl.Text); err != nil {
			return upstream.RawResponse{}, err
		}
	}

	body, _ := json.Marshal(upstream.AnalysisPayload{
		Sentiment: upstream.SentimentPositive,
		Score:     0.9,
		Summary:   pl.Text,
	})
	return upstream.RawResponse{Body: string(body), PromptTokens: 200, CompletionTokens: 50}, nil
}

// recordingAccountant keeps usage records in memory.
type recordingAccountant struct {
	mu   sync.Mutex
	recs []usage.Record
}

func (a *recordingAccountant) Record(_ context.Context, rec usage.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
}

func (a *recordingAccountant) outcomes() []usage.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]usage.Outcome, len(a.recs))
	for i, r := range a.recs {
		out[i] = r.Outcome
	}
	return out
}

type harness struct {
	engine     *Engine
	provider   *fakeProvider
	store      *cache.MemoryStore
	locker     *lock.MemoryLocker
	breaker    *resilience.CircuitBreaker
	clock      *clock.Fake
	accountant *recordingAccountant
	logs       *bytes.Buffer
}

type harnessOptions struct {
	opts        Options
	callTimeout time.Duration
	store       cache.Store
	locker      lock.Locker
	noLocker    bool
}

func newHarness(t *testing.T, ho harnessOptions) *harness {
	t.Helper()

	h := &harness{
		provider:   &fakeProvider{},
		clock:      clock.NewFake(epoch),
		accountant: &recordingAccountant{},
		logs:       &bytes.Buffer{},
	}
	h.store = cache.NewMemoryStore(h.clock)
	h.locker = lock.NewMemoryLocker(h.clock)
	h.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		WindowSize:               5,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		Clock:                    h.clock,
	})

	inv, err := upstream.NewInvoker(h.provider, h.breaker, upstream.InvokerConfig{
		CallTimeout: ho.callTimeout,
		Clock:       h.clock,
	})
	if err != nil {
		t.Fatalf("NewInvoker() error = %v", err)
	}

	var store cache.Store = h.store
	if ho.store != nil {
		store = ho.store
	}
	var locker lock.Locker = h.locker
	if ho.locker != nil {
		locker = ho.locker
	}
	if ho.noLocker {
		locker = nil
	}

	h.engine, err = New(Deps{
		Store:      store,
		Locker:     locker,
		Invoker:    inv,
		Accountant: h.accountant,
		Clock:      h.clock,
		Logger:     observe.NewLoggerWithWriter("debug", h.logs),
	}, ho.opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func TestNew_MissingDependencies(t *testing.T) {
	inv, _ := upstream.NewInvoker(&fakeProvider{}, nil, upstream.InvokerConfig{})
	tests := []struct {
		name string
		deps Deps
	}{
		{"no store", Deps{Invoker: inv}},
		{"no invoker", Deps{Store: cache.NewMemoryStore(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps, Options{}); !errors.Is(err, ErrMissingDependency) {
				t.Errorf("New() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestAnalyze_MissThenHit(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	first, err := h.engine.Analyze(ctx, "Great service!", "reviews", nil)
	if err != nil {
		t.Fatalf("first Analyze() error = %v", err)
	}
	if first.CacheHit {
		t.Error("first call should miss")
	}
	if first.TokensUsed != 250 || first.Stage != upstream.StageStrict {
		t.Errorf("first = %+v", first)
	}
	if h.store.Len() != 1 {
		t.Errorf("store has %d entries, want 1", h.store.Len())
	}

	second, err := h.engine.Analyze(ctx, "  great   SERVICE! ", "reviews", nil)
	if err != nil {
		t.Fatalf("second Analyze() error = %v", err)
	}
	if !second.CacheHit {
		t.Error("second call should hit")
	}
	if second.Key != first.Key || second.Payload.Summary != "Great service!" {
		t.Errorf("second = %+v", second)
	}
	if n := h.provider.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}

	want := []usage.Outcome{usage.OutcomeSuccess, usage.OutcomeCacheHit}
	if got := h.accountant.outcomes(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("usage outcomes = %v, want %v", got, want)
	}
}

func TestAnalyze_ContextSeparatesEntries(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	a, err := h.engine.Analyze(ctx, "Great service!", "reviews", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	b, err := h.engine.Analyze(ctx, "Great service!", "support", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.Key == b.Key || b.CacheHit {
		t.Error("different contexts must not share an entry")
	}
	if n := h.provider.calls.Load(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestAnalyze_ExpiryReinvokes(t *testing.T) {
	policy := cache.Policy{DefaultTTL: time.Second}
	h := newHarness(t, harnessOptions{opts: Options{Policy: &policy}})
	ctx := context.Background()

	if _, err := h.engine.Analyze(ctx, "Great service!", "reviews", nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	h.clock.Advance(1100 * time.Millisecond)

	res, err := h.engine.Analyze(ctx, "Great service!", "reviews", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.CacheHit {
		t.Error("call after TTL should miss")
	}
	if n := h.provider.calls.Load(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestAnalyze_ContextTTLOverride(t *testing.T) {
	policy := cache.Policy{DefaultTTL: time.Second, MaxTTL: time.Hour}
	h := newHarness(t, harnessOptions{opts: Options{
		Policy:     &policy,
		ContextTTL: map[string]time.Duration{"reviews": 48 * time.Hour},
	}})
	ctx := context.Background()

	for _, c := range []string{"reviews", "news"} {
		if _, err := h.engine.Analyze(ctx, "Great service!", c, nil); err != nil {
			t.Fatalf("Analyze(%s) error = %v", c, err)
		}
	}
	h.clock.Advance(2 * time.Second)

	if res, _ := h.engine.Analyze(ctx, "Great service!", "reviews", nil); res == nil || !res.CacheHit {
		t.Error("reviews entry should outlive the default TTL")
	}
	if res, _ := h.engine.Analyze(ctx, "Great service!", "news", nil); res == nil || res.CacheHit {
		t.Error("news entry should use the default TTL")
	}

	// The 48h override is clamped to MaxTTL.
	h.clock.Advance(time.Hour)
	if res, _ := h.engine.Analyze(ctx, "Great service!", "reviews", nil); res == nil || res.CacheHit {
		t.Error("reviews entry should expire at MaxTTL")
	}
}

func TestAnalyze_NoCachePolicy(t *testing.T) {
	policy := cache.NoCachePolicy()
	h := newHarness(t, harnessOptions{opts: Options{Policy: &policy}})

	if _, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if h.store.Len() != 0 {
		t.Error("NoCachePolicy must not write entries")
	}
}

func TestAnalyze_Validation(t *testing.T) {
	h := newHarness(t, harnessOptions{opts: Options{MaxTextLength: 10}})

	tests := []struct {
		name, text, context string
	}{
		{"empty text", "", "reviews"},
		{"whitespace text", " \n\t ", "reviews"},
		{"too long", "elevenchars", "reviews"},
		{"empty context", "hello", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Analyze(context.Background(), tt.text, tt.context, nil)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Analyze() error = %v, want ErrValidation", err)
			}
		})
	}
	if n := h.provider.calls.Load(); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}

	if _, err := h.engine.Analyze(context.Background(), "ünïcødé!!!", "reviews", nil); err != nil {
		t.Errorf("10 runes should be accepted: %v", err)
	}
}

func TestAnalyze_TimeoutsTripBreaker(t *testing.T) {
	h := newHarness(t, harnessOptions{callTimeout: 10 * time.Millisecond})
	h.provider.delay = func(string) time.Duration { return time.Hour }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.engine.Analyze(ctx, "slow", "reviews", nil); !errors.Is(err, upstream.ErrTimeout) {
			t.Fatalf("call %d error = %v, want ErrTimeout", i+1, err)
		}
	}

	before := h.provider.calls.Load()
	start := time.Now()
	_, err := h.engine.Analyze(ctx, "slow", "reviews", nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("6th call error = %v, want ErrCircuitOpen", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("open circuit should fail fast")
	}
	if h.provider.calls.Load() != before {
		t.Error("open circuit must not reach the provider")
	}
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*cache.Entry, error) {
	return nil, cache.ErrCacheUnavailable
}

func (failingStore) Upsert(context.Context, string, json.RawMessage, string, time.Duration) error {
	return cache.ErrCacheUnavailable
}

func (failingStore) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, cache.ErrCacheUnavailable
}

func (failingStore) Stats(context.Context, time.Time) (cache.Stats, error) {
	return cache.Stats{}, cache.ErrCacheUnavailable
}

func TestAnalyze_StoreUnavailableDegrades(t *testing.T) {
	h := newHarness(t, harnessOptions{store: failingStore{}})

	for i := 0; i < 2; i++ {
		res, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil)
		if err != nil {
			t.Fatalf("Analyze() error = %v, want store failures absorbed", err)
		}
		if res.CacheHit {
			t.Error("unavailable store cannot hit")
		}
	}
	if n := h.provider.calls.Load(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
	for _, msg := range []string{"cache read failed", "cache write failed"} {
		if !strings.Contains(h.logs.String(), msg) {
			t.Errorf("expected %q warning", msg)
		}
	}
}

func TestAnalyze_UndecodableEntryIsMiss(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	key, err := cache.DeriveKey("hello", "reviews", nil)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if err := h.store.Upsert(ctx, key, json.RawMessage(`{"sentiment":"bogus"}`), "reviews", time.Hour); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	res, err := h.engine.Analyze(ctx, "hello", "reviews", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.CacheHit || h.provider.calls.Load() != 1 {
		t.Error("undecodable entry should be treated as a miss")
	}
}

func TestAnalyze_LockContentionSkipsWrite(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	key, _ := cache.DeriveKey("hello", "reviews", nil)
	lockKey := lock.LockKey(key, lock.DefaultNamespace)
	if _, ok, err := h.locker.TryAcquire(ctx, lockKey, time.Minute); !ok || err != nil {
		t.Fatalf("TryAcquire() = %v, %v", ok, err)
	}

	res, err := h.engine.Analyze(ctx, "hello", "reviews", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Payload.Summary != "hello" {
		t.Errorf("loser should still compute its result, got %+v", res)
	}
	if h.store.Len() != 0 {
		t.Error("lock loser must not write the cache")
	}
	if _, held := h.locker.Holder(lockKey); !held {
		t.Error("loser must not release a lock it does not hold")
	}
	if !strings.Contains(h.logs.String(), "fill lock held elsewhere") {
		t.Error("expected contention debug log")
	}
}

func TestAnalyze_LockReleasedAfterFill(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if _, held := h.locker.Holder(lock.LockKey(res.Key, lock.DefaultNamespace)); held {
		t.Error("lock should be released after the fill")
	}
}

// brokenLocker fails every acquire.
type brokenLocker struct{}

func (brokenLocker) TryAcquire(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, lock.ErrLockUnavailable
}

func (brokenLocker) Release(context.Context, string, string) error { return nil }

func TestAnalyze_LockErrorProceeds(t *testing.T) {
	h := newHarness(t, harnessOptions{locker: brokenLocker{}})

	if _, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if h.store.Len() != 1 {
		t.Error("a failing lock backend should not prevent the cache write")
	}
	if !strings.Contains(h.logs.String(), "lock acquire failed") {
		t.Error("expected lock warning")
	}
}

func TestAnalyze_NoLocker(t *testing.T) {
	h := newHarness(t, harnessOptions{noLocker: true})
	if _, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if h.store.Len() != 1 {
		t.Error("without a locker every miss writes")
	}
}

func TestAnalyze_UpstreamErrorPropagates(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.provider.fail = func(string) error { return errors.New("502 bad gateway") }

	_, err := h.engine.Analyze(context.Background(), "hello", "reviews", nil)
	if !errors.Is(err, upstream.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
	if h.store.Len() != 0 {
		t.Error("failures must not be cached")
	}
	if got := h.accountant.outcomes(); len(got) != 1 || got[0] != usage.OutcomeFailure {
		t.Errorf("usage outcomes = %v, want [failure]", got)
	}
}

func TestCacheStatisticsAndPurge(t *testing.T) {
	policy := cache.Policy{DefaultTTL: time.Minute}
	h := newHarness(t, harnessOptions{opts: Options{Policy: &policy}})
	ctx := context.Background()

	for _, text := range []string{"one", "two"} {
		if _, err := h.engine.Analyze(ctx, text, "reviews", nil); err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
	}
	h.clock.Advance(30 * time.Second)
	if _, err := h.engine.Analyze(ctx, "three", "reviews", nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	h.clock.Advance(45 * time.Second)

	stats, err := h.engine.CacheStatistics(ctx)
	if err != nil {
		t.Fatalf("CacheStatistics() error = %v", err)
	}
	want := cache.Stats{TotalEntries: 3, ActiveEntries: 1, ExpiredEntries: 2}
	if stats != want {
		t.Errorf("CacheStatistics() = %+v, want %+v", stats, want)
	}

	n, err := h.engine.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}
	if stats, _ := h.engine.CacheStatistics(ctx); stats.TotalEntries != 1 {
		t.Errorf("after purge TotalEntries = %d, want 1", stats.TotalEntries)
	}
}

func TestPurgeExpired_StoreError(t *testing.T) {
	h := newHarness(t, harnessOptions{store: failingStore{}})
	if _, err := h.engine.PurgeExpired(context.Background()); !errors.Is(err, cache.ErrCacheUnavailable) {
		t.Errorf("PurgeExpired() error = %v, want ErrCacheUnavailable", err)
	}
	if _, err := h.engine.CacheStatistics(context.Background()); !errors.Is(err, cache.ErrCacheUnavailable) {
		t.Errorf("CacheStatistics() error = %v, want ErrCacheUnavailable", err)
	}
}

func TestPurgeExpired_Concurrent(t *testing.T) {
	policy := cache.Policy{DefaultTTL: time.Minute}
	h := newHarness(t, harnessOptions{opts: Options{Policy: &policy}})
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		if _, err := h.engine.Analyze(ctx, text, "reviews", nil); err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
	}
	h.clock.Advance(2 * time.Minute)

	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := h.engine.PurgeExpired(ctx)
			if err != nil {
				t.Errorf("PurgeExpired() error = %v", err)
			}
			if n > 0 {
				total.Store(int64(n))
			}
		}()
	}
	wg.Wait()

	if h.store.Len() != 0 || total.Load() != 3 {
		t.Errorf("Len() = %d, purged = %d; want 0, 3", h.store.Len(), total.Load())
	}
}
