// Package resilience provides the fault-tolerance patterns that guard calls
// to the inference provider.
//
// # Patterns
//
//   - Circuit Breaker: a rolling window of recent outcomes. The circuit opens
//     when the failure share of the window meets a threshold, rejects calls
//     for a reset timeout, then admits exactly one trial call.
//
//   - Bulkhead: limits concurrent operations on a weighted semaphore. Used by
//     batch processing to bound in-flight analyses.
//
//   - Timeout: ensures operations complete within a time limit.
//
// There is deliberately no retry pattern. Failed calls surface to the caller,
// which decides whether to try again.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    WindowSize:               20,
//	    ErrorThresholdPercentage: 50,
//	    ResetTimeout:             30 * time.Second,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return callProvider(ctx)
//	})
package resilience
