package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/valkey-io/valkey-go"
	"gorm.io/gorm"

	"github.com/jonwraymond/inferops/cache"
	"github.com/jonwraymond/inferops/config"
	"github.com/jonwraymond/inferops/engine"
	"github.com/jonwraymond/inferops/health"
	"github.com/jonwraymond/inferops/lock"
	"github.com/jonwraymond/inferops/observe"
	"github.com/jonwraymond/inferops/resilience"
	"github.com/jonwraymond/inferops/upstream"
	"github.com/jonwraymond/inferops/usage"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg        *config.Config
	logger     observe.Logger
	engine     *engine.Engine
	invoker    *upstream.Invoker
	accountant *usage.Accountant
	checks     *health.Aggregator

	observer observe.Observer
	rdb      *redis.Client
	vk       valkey.Client
	db       *gorm.DB
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, checks: health.NewAggregator()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.observer, err = observe.NewObserver(ctx, observeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	a.logger = a.observer.Logger()
	mw, err := observe.MiddlewareFromObserver(a.observer)
	if err != nil {
		return nil, fmt.Errorf("observe middleware: %w", err)
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.checks.Register("cache", health.NewStoreChecker(store, nil))

	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		WindowSize:               cfg.Breaker.WindowSize,
		MinimumRequests:          cfg.Breaker.MinimumRequests,
		ErrorThresholdPercentage: cfg.Breaker.ErrorThresholdPercentage,
		ResetTimeout:             cfg.Breaker.ResetTimeout,
		OnStateChange:            engine.BreakerTransitionHook(mw.Metrics(), a.logger),
	})
	a.checks.Register("breaker", health.NewBreakerChecker(breaker))

	provider, err := upstream.NewOpenAIProvider(upstream.OpenAIConfig{
		APIKey:       cfg.Upstream.APIKey,
		BaseURL:      cfg.Upstream.BaseURL,
		Model:        cfg.Upstream.Model,
		SystemPrompt: cfg.Upstream.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	a.invoker, err = upstream.NewInvoker(provider, breaker, upstream.InvokerConfig{
		Model:       cfg.Upstream.Model,
		CallTimeout: cfg.Upstream.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Store:      store,
		Invoker:    a.invoker,
		Logger:     a.logger,
		Middleware: mw,
	}
	if locker != nil {
		deps.Locker = locker
	}

	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		a.accountant, err = usage.NewAccountant(sink, usage.AccountantConfig{
			QueueSize: cfg.Usage.QueueSize,
			Logger:    a.logger,
			Metrics:   mw.Metrics(),
		})
		if err != nil {
			return nil, err
		}
		deps.Accountant = a.accountant
		a.checks.Register("usage", health.NewUsageChecker(a.accountant))
	}

	a.engine, err = engine.New(deps, engine.Options{
		MaxTextLength: cfg.Engine.MaxTextLength,
		Policy:        &cache.Policy{DefaultTTL: cfg.Cache.DefaultTTL, MaxTTL: cfg.Cache.MaxTTL},
		ContextTTL:    cfg.Cache.ContextTTL,
		LockTTL:       cfg.Lock.TTL,
		LockNamespace: cfg.Lock.Namespace,
		Pricing:       a.invoker.Pricing(),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func observeConfig(cfg *config.Config) observe.Config {
	o := cfg.Observe
	return observe.Config{
		ServiceName: o.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   o.TracingExporter != "" && o.TracingExporter != "none",
			Exporter:  o.TracingExporter,
			SamplePct: o.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.MetricsExporter != "" && o.MetricsExporter != "none",
			Exporter: o.MetricsExporter,
		},
		Logging: observe.LoggingConfig{Enabled: true, Level: o.LogLevel},
	}
}

func (a *app) buildStore(ctx context.Context) (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		s := cache.NewRedisStore(a.redis(), cache.RedisStoreConfig{Prefix: a.cfg.Cache.Prefix})
		return s, nil
	case "sql":
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		s := cache.NewSQLStore(db, nil)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return cache.NewMemoryStore(nil), nil
	}
}

func (a *app) buildLocker(ctx context.Context) (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case "none":
		return nil, nil
	case "redis":
		return lock.NewRedisLocker(a.redis(), a.cfg.Lock.Prefix), nil
	case "valkey":
		client, err := a.valkey()
		if err != nil {
			return nil, err
		}
		return lock.NewValkeyLocker(client, a.cfg.Lock.Prefix), nil
	case "sql":
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		l := lock.NewSQLLocker(db, nil)
		if err := l.Init(ctx); err != nil {
			return nil, err
		}
		return l, nil
	default:
		return lock.NewMemoryLocker(nil), nil
	}
}

func (a *app) buildSink(ctx context.Context) (usage.Sink, error) {
	switch a.cfg.Usage.Sink {
	case "none":
		return nil, nil
	case "sql":
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		s := usage.NewSQLSink(db)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		return usage.NewRedisStreamSink(a.redis(), usage.RedisStreamSinkConfig{
			Stream: a.cfg.Usage.Stream,
			MaxLen: a.cfg.Usage.StreamMax,
		}), nil
	default:
		return usage.NewLogSink(a.logger), nil
	}
}

// redis returns the shared go-redis client, creating it on first use.
func (a *app) redis() *redis.Client {
	if a.rdb == nil {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.checks.Register("redis", health.NewPingChecker("redis", pingFunc(func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}), health.StatusDegraded))
	}
	return a.rdb
}

func (a *app) valkey() (valkey.Client, error) {
	if a.vk == nil {
		client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{a.cfg.Valkey.Addr}})
		if err != nil {
			return nil, fmt.Errorf("valkey: %w", err)
		}
		a.vk = client
		a.checks.Register("valkey", health.NewPingChecker("valkey", pingFunc(func(ctx context.Context) error {
			return client.Do(ctx, client.B().Ping().Build()).Error()
		}), health.StatusDegraded))
	}
	return a.vk, nil
}

func (a *app) database() (*gorm.DB, error) {
	if a.db == nil {
		db, err := config.OpenDB(a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.checks.Register("database", health.NewPingChecker("database", pingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}), health.StatusDegraded))
	}
	return a.db, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Close drains the usage queue and closes backends.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.accountant != nil {
		errs = append(errs, a.accountant.Close(ctx))
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.vk != nil {
		a.vk.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.observer != nil {
		errs = append(errs, a.observer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
