// Package health reports the readiness of the inference layer.
//
// A Checker reports one component as Healthy, Degraded or Unhealthy.
// Checkers are provided for the circuit breaker, the cache store, backend
// connectivity and the usage queue. An Aggregator runs them together and
// the HTTP handlers expose the result as liveness, readiness and detailed
// JSON endpoints.
//
// Cache and lock failures never fail an analyze call, so their checkers
// report Degraded rather than Unhealthy. An open circuit is Unhealthy: new
// texts cannot be analyzed until it closes.
//
//	agg := health.NewAggregator()
//	agg.Register("breaker", health.NewBreakerChecker(invoker.Breaker()))
//	agg.Register("cache", health.NewStoreChecker(store, nil))
//	health.RegisterHandlers(mux, agg)
package health
