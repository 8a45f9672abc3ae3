// Package upstream performs guarded, timed calls to the external inference
// provider and turns its free-text replies into structured payloads.
//
// An Invoker applies, in order: circuit breaker admission, a hard timeout,
// a two-stage parse (strict schema first, then salvage of an object embedded
// in surrounding text) and usage attachment. Every outcome, including
// timeouts and unparseable replies, is reported to the breaker. Nothing is
// retried.
package upstream
