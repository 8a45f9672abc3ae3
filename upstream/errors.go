package upstream

import (
	"errors"

	"github.com/jonwraymond/inferops/resilience"
)

// Sentinel errors for upstream calls.
var (
	// ErrUpstream wraps transport or remote failures from the provider.
	ErrUpstream = errors.New("upstream: provider call failed")

	// ErrUpstreamParse is returned when neither parse stage yields a payload.
	ErrUpstreamParse = errors.New("upstream: response could not be parsed")

	// ErrNilProvider is returned when an Invoker is built without a provider.
	ErrNilProvider = errors.New("upstream: provider is nil")

	// ErrMissingAPIKey is returned when a hosted provider has no credentials.
	ErrMissingAPIKey = errors.New("upstream: api key is required")

	// ErrCircuitOpen is returned without a network attempt while the
	// breaker is open.
	ErrCircuitOpen = resilience.ErrCircuitOpen

	// ErrTimeout is returned when the call exceeds its deadline.
	ErrTimeout = resilience.ErrTimeout
)
