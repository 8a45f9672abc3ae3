package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/inferops/cache"
	"github.com/jonwraymond/inferops/clock"
	"github.com/jonwraymond/inferops/lock"
	"github.com/jonwraymond/inferops/observe"
	"github.com/jonwraymond/inferops/upstream"
	"github.com/jonwraymond/inferops/usage"
)

// Operation names used for spans, metrics and logs.
const (
	OpAnalyze      = "analyze"
	OpAnalyzeBatch = "analyze_batch"
	OpPurge        = "purge"
)

// DefaultMaxTextLength is the longest accepted text, in runes.
const DefaultMaxTextLength = 10000

// Invoker calls the upstream provider.
type Invoker interface {
	Invoke(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// UsageRecorder accepts usage records without blocking.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record)
}

// Deps are the collaborators of an Engine. Store and Invoker are required.
// A nil Locker disables stampede protection and every miss writes its
// result.
type Deps struct {
	Store      cache.Store
	Locker     lock.Locker
	Invoker    Invoker
	Accountant UsageRecorder
	Keyer      cache.Keyer
	Clock      clock.Clock
	Logger     observe.Logger
	Middleware *observe.Middleware
}

// Options tune an Engine.
type Options struct {
	// MaxTextLength bounds input length in runes.
	// Default: DefaultMaxTextLength
	MaxTextLength int

	// Policy sets cache entry lifetimes.
	// Default: cache.DefaultPolicy()
	Policy *cache.Policy

	// ContextTTL overrides Policy.DefaultTTL for entries of the named
	// contexts. Overrides are clamped to Policy.MaxTTL.
	// Default: none
	ContextTTL map[string]time.Duration

	// LockTTL is how long a fill lock lives if never released. It should
	// exceed the upstream call timeout.
	// Default: 60s
	LockTTL time.Duration

	// LockNamespace scopes lock keys.
	// Default: lock.DefaultNamespace
	LockNamespace string

	// Pricing estimates the cost of calls avoided by the cache.
	// Default: usage.PricingFor(usage.DefaultModel)
	Pricing usage.Pricing
}

func (o *Options) applyDefaults() {
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = DefaultMaxTextLength
	}
	if o.Policy == nil {
		p := cache.DefaultPolicy()
		o.Policy = &p
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 60 * time.Second
	}
	if o.LockNamespace == "" {
		o.LockNamespace = lock.DefaultNamespace
	}
	if o.Pricing.IsZero() {
		o.Pricing = usage.PricingFor(usage.DefaultModel)
	}
}

// Result is the outcome of one Analyze call.
type Result struct {
	Payload        upstream.AnalysisPayload `json:"payload"`
	CacheHit       bool                     `json:"cache_hit"`
	ProcessingTime time.Duration            `json:"processing_time"`
	Key            string                   `json:"key"`

	// Set for upstream results only.
	Stage        upstream.ParseStage `json:"stage,omitempty"`
	Model        string              `json:"model,omitempty"`
	TokensUsed   int64               `json:"tokens_used,omitempty"`
	CostEstimate float64             `json:"cost_estimate,omitempty"`
}

// Engine runs inference operations. It is safe for concurrent use.
type Engine struct {
	store      cache.Store
	locker     lock.Locker
	invoker    Invoker
	accountant UsageRecorder
	keyer      cache.Keyer
	clock      clock.Clock
	logger     observe.Logger
	mw         *observe.Middleware
	opts       Options
	purges     singleflight.Group
}

// New builds an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("%w: invoker", ErrMissingDependency)
	}
	opts.applyDefaults()

	if deps.Keyer == nil {
		deps.Keyer = cache.NewDefaultKeyer()
	}
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}
	if deps.Middleware == nil {
		deps.Middleware = observe.NewMiddleware(nil, nil, deps.Logger)
	}

	return &Engine{
		store:      deps.Store,
		locker:     deps.Locker,
		invoker:    deps.Invoker,
		accountant: deps.Accountant,
		keyer:      deps.Keyer,
		clock:      clock.OrReal(deps.Clock),
		logger:     deps.Logger,
		mw:         deps.Middleware,
		opts:       opts,
	}, nil
}

// Analyze returns the analysis of text, from the cache when a live entry
// exists and from the upstream provider otherwise.
func (e *Engine) Analyze(ctx context.Context, text, cacheContext string, options map[string]any) (*Result, error) {
	key, verr := e.validate(text, cacheContext, options)
	meta := observe.CallMeta{Operation: OpAnalyze, Context: cacheContext, CacheKey: key}

	var res *Result
	_, err := e.mw.Wrap(func(ctx context.Context, meta observe.CallMeta) (bool, error) {
		if verr != nil {
			return false, verr
		}
		r, err := e.analyze(ctx, key, text, cacheContext, options)
		if err != nil {
			return false, err
		}
		res = r
		return r.CacheHit, nil
	})(ctx, meta)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) validate(text, cacheContext string, options map[string]any) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(text); n > e.opts.MaxTextLength {
		return "", fmt.Errorf("%w: text has %d characters, limit is %d", ErrValidation, n, e.opts.MaxTextLength)
	}
	if strings.TrimSpace(cacheContext) == "" {
		return "", fmt.Errorf("%w: context is empty", ErrValidation)
	}
	key, err := e.keyer.Key(text, cacheContext, options)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return key, nil
}

func (e *Engine) analyze(ctx context.Context, key, text, cacheContext string, options map[string]any) (*Result, error) {
	start := e.clock.Now()
	log := e.logger.WithCall(observe.CallMeta{Operation: OpAnalyze, Context: cacheContext, CacheKey: key})

	if res, ok := e.lookup(ctx, log, key, cacheContext); ok {
		res.ProcessingTime = e.clock.Now().Sub(start)
		e.recordUsage(ctx, usage.Record{
			Context:        cacheContext,
			ProcessingTime: res.ProcessingTime,
			Outcome:        usage.OutcomeCacheHit,
		})
		return res, nil
	}

	canWrite, release := e.acquire(ctx, log, key)
	defer release()

	resp, err := e.invoker.Invoke(ctx, upstream.Request{Text: text, Context: cacheContext, Options: options})
	if err != nil {
		e.recordUsage(ctx, usage.Record{
			Context:        cacheContext,
			ProcessingTime: e.clock.Now().Sub(start),
			Outcome:        usage.OutcomeFailure,
		})
		return nil, err
	}

	if canWrite && e.opts.Policy.ShouldCache() {
		e.fill(ctx, log, key, cacheContext, resp.Payload)
	}

	res := &Result{
		Payload:        resp.Payload,
		Key:            key,
		ProcessingTime: e.clock.Now().Sub(start),
		Stage:          resp.Stage,
		Model:          resp.Model,
		TokensUsed:     resp.TokensUsed,
		CostEstimate:   resp.CostEstimate,
	}
	e.recordUsage(ctx, usage.Record{
		Context:        cacheContext,
		Model:          resp.Model,
		TokensUsed:     resp.TokensUsed,
		CostEstimate:   resp.CostEstimate,
		ProcessingTime: res.ProcessingTime,
		Outcome:        usage.OutcomeSuccess,
	})
	return res, nil
}

// lookup reads the cache. Any failure is a miss.
func (e *Engine) lookup(ctx context.Context, log observe.Logger, key, cacheContext string) (*Result, bool) {
	entry, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrMiss):
		return nil, false
	default:
		log.Warn(ctx, "cache read failed, treating as miss", observe.F("error", err))
		return nil, false
	}

	payload, err := upstream.UnmarshalPayload(entry.Value)
	if err != nil || !payload.Valid() {
		log.Warn(ctx, "cached value undecodable, treating as miss", observe.F("error", err))
		return nil, false
	}
	return &Result{Payload: payload, CacheHit: true, Key: key}, true
}

// acquire takes the fill lock. It reports whether this call may write the
// cache and returns a release func that is always safe to call. Losing the
// race never waits. A failing lock backend does not block writes.
func (e *Engine) acquire(ctx context.Context, log observe.Logger, key string) (bool, func()) {
	noop := func() {}
	if e.locker == nil {
		return true, noop
	}

	lockKey := lock.LockKey(key, e.opts.LockNamespace)
	lockID, ok, err := e.locker.TryAcquire(ctx, lockKey, e.opts.LockTTL)
	if err != nil {
		log.Warn(ctx, "lock acquire failed, proceeding without lock", observe.F("error", err))
		return true, noop
	}
	if !ok {
		log.Debug(ctx, "fill lock held elsewhere, skipping cache write", observe.F("error", lock.ErrLockContention))
		return false, noop
	}

	return true, func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.locker.Release(rctx, lockKey, lockID); err != nil {
			log.Warn(rctx, "lock release failed", observe.F("error", err))
		}
	}
}

func (e *Engine) fill(ctx context.Context, log observe.Logger, key, cacheContext string, payload upstream.AnalysisPayload) {
	value, err := payload.Marshal()
	if err != nil {
		log.Warn(ctx, "payload encode failed", observe.F("error", err))
		return
	}

	// The result is already paid for; cache it even if the caller left.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.Upsert(wctx, key, value, cacheContext, e.opts.Policy.EffectiveTTL(e.opts.ContextTTL[cacheContext])); err != nil {
		log.Warn(wctx, "cache write failed", observe.F("error", err))
	}
}

func (e *Engine) recordUsage(ctx context.Context, rec usage.Record) {
	if e.accountant == nil {
		return
	}
	rec.Timestamp = e.clock.Now().UTC()
	e.accountant.Record(ctx, rec)
}

// CacheStatistics counts total, active and expired cache entries.
func (e *Engine) CacheStatistics(ctx context.Context) (cache.Stats, error) {
	return e.store.Stats(ctx, e.clock.Now())
}

// PurgeExpired deletes expired cache entries and returns how many were
// removed. Concurrent calls share one sweep.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	v, err, _ := e.purges.Do("purge", func() (any, error) {
		var n int
		_, err := e.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (bool, error) {
			var err error
			n, err = e.store.SweepExpired(ctx, e.clock.Now())
			return false, err
		})(ctx, observe.CallMeta{Operation: OpPurge})
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
