package engine

import (
	"context"
	"time"

	"github.com/jonwraymond/inferops/observe"
	"github.com/jonwraymond/inferops/resilience"
)

// Sweeper purges expired cache entries on an interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   observe.Logger
}

// NewSweeper creates a Sweeper. Interval defaults to 10 minutes.
func NewSweeper(e *Engine, interval time.Duration, logger observe.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Sweeper{engine: e, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done. Sweep failures are logged.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.engine.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn(ctx, "expired entry sweep failed", observe.F("error", err))
		return
	}
	if n > 0 {
		s.logger.Info(ctx, "expired entries purged", observe.F("count", n))
	}
}

// BreakerTransitionHook returns a CircuitBreakerConfig.OnStateChange hook
// that logs and counts state changes.
func BreakerTransitionHook(metrics observe.Metrics, logger observe.Logger) func(from, to resilience.State) {
	if metrics == nil {
		metrics = observe.NoopMetrics()
	}
	if logger == nil {
		logger = observe.NopLogger()
	}
	return func(from, to resilience.State) {
		ctx := context.Background()
		metrics.RecordBreakerTransition(ctx, from.String(), to.String())
		logger.Warn(ctx, "circuit breaker state changed",
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		)
	}
}
