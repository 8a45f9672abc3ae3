package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/inferops/cache"
	"github.com/jonwraymond/inferops/clock"
	"github.com/jonwraymond/inferops/resilience"
)

// BreakerChecker reports the upstream circuit breaker. Closed is healthy,
// half-open is degraded and open is unhealthy.
type BreakerChecker struct {
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a checker for breaker.
func NewBreakerChecker(breaker *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

// Name returns "breaker".
func (c *BreakerChecker) Name() string {
	return "breaker"
}

// Check reports the breaker state with its window counters.
func (c *BreakerChecker) Check(context.Context) Result {
	m := c.breaker.Metrics()
	details := map[string]any{
		"state":       m.State.String(),
		"failures":    m.Failures,
		"successes":   m.Successes,
		"window_size": m.WindowSize,
	}
	if !m.LastTransition.IsZero() {
		details["last_transition"] = m.LastTransition.UTC().Format(time.RFC3339)
	}

	switch m.State {
	case resilience.StateOpen:
		details["open_until"] = m.OpenUntil.UTC().Format(time.RFC3339)
		return Unhealthy("circuit open, upstream calls rejected", resilience.ErrCircuitOpen).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open, probing upstream", nil).WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}

// StatsSource reports cache entry counts.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (cache.Stats, error)
}

// StoreChecker reports whether the cache store answers. A failing store is
// degraded because calls fall back to the upstream provider.
type StoreChecker struct {
	store StatsSource
	clock clock.Clock
}

// NewStoreChecker creates a checker for store. A nil clock uses the wall
// clock.
func NewStoreChecker(store StatsSource, c clock.Clock) *StoreChecker {
	return &StoreChecker{store: store, clock: clock.OrReal(c)}
}

// Name returns "cache".
func (c *StoreChecker) Name() string {
	return "cache"
}

// Check reads the store statistics.
func (c *StoreChecker) Check(ctx context.Context) Result {
	stats, err := c.store.Stats(ctx, c.clock.Now())
	if err != nil {
		return Degraded("cache store unavailable, serving from upstream", err)
	}
	return Healthy("cache store reachable").WithDetails(map[string]any{
		"total_entries":   stats.TotalEntries,
		"active_entries":  stats.ActiveEntries,
		"expired_entries": stats.ExpiredEntries,
	})
}

// Pinger is a backend that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a backend connection. Failures are reported with
// the given status.
type PingChecker struct {
	name      string
	pinger    Pinger
	onFailure Status
}

// NewPingChecker creates a named checker for pinger.
func NewPingChecker(name string, pinger Pinger, onFailure Status) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, onFailure: onFailure}
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the backend.
func (c *PingChecker) Check(ctx context.Context) Result {
	if err := c.pinger.Ping(ctx); err != nil {
		return Result{Status: c.onFailure, Message: c.name + " unreachable", Error: err}
	}
	return Healthy(c.name + " reachable")
}

// UsageCounter reports written and dropped usage records.
type UsageCounter interface {
	Stats() (written, dropped int64)
}

// UsageChecker reports the usage queue. Any dropped record degrades it.
type UsageChecker struct {
	counter UsageCounter
}

// NewUsageChecker creates a checker for counter.
func NewUsageChecker(counter UsageCounter) *UsageChecker {
	return &UsageChecker{counter: counter}
}

// Name returns "usage".
func (c *UsageChecker) Name() string {
	return "usage"
}

// Check compares written and dropped counts.
func (c *UsageChecker) Check(context.Context) Result {
	written, dropped := c.counter.Stats()
	details := map[string]any{"written": written, "dropped": dropped}
	if dropped > 0 {
		return Degraded(fmt.Sprintf("%d usage records dropped", dropped), ErrCheckFailed).WithDetails(details)
	}
	return Healthy("usage queue draining").WithDetails(details)
}
