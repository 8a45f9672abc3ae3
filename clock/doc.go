// Package clock provides the time source shared by the cache, lock,
// resilience and engine packages.
//
// Production code uses Real. Tests use Fake to move time forward without
// sleeping, which keeps TTL and circuit breaker timing deterministic.
package clock
