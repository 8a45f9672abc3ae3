package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/inferops/clock"
	"github.com/jonwraymond/inferops/resilience"
	"github.com/jonwraymond/inferops/usage"
)

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	// Model is sent when the request options name none.
	// Default: usage.DefaultModel
	Model string

	// CallTimeout bounds each provider call.
	// Default: 30s
	CallTimeout time.Duration

	// Pricing overrides the model price table.
	// Default: usage.PricingFor(Model)
	Pricing usage.Pricing

	// Clock measures latency.
	// Default: clock.Real
	Clock clock.Clock
}

// Request is one analysis request.
type Request struct {
	Text    string
	Context string
	Options map[string]any
}

// Response is a parsed reply with usage metadata attached.
type Response struct {
	Payload          AnalysisPayload
	Stage            ParseStage
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TokensUsed       int64
	CostEstimate     float64
	Latency          time.Duration
}

// Invoker calls a Provider behind a circuit breaker and a hard timeout and
// parses the reply. It never retries.
type Invoker struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
	exec     *resilience.Executor
	cfg      InvokerConfig
}

// NewInvoker creates an Invoker. A nil breaker gets a default one, which is
// process-wide state for this provider and should be shared.
func NewInvoker(provider Provider, breaker *resilience.CircuitBreaker, cfg InvokerConfig) (*Invoker, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if cfg.Model == "" {
		cfg.Model = usage.DefaultModel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Pricing.IsZero() {
		cfg.Pricing = usage.PricingFor(cfg.Model)
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Clock: cfg.Clock})
	}

	return &Invoker{
		provider: provider,
		breaker:  breaker,
		exec: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithTimeoutConfig(resilience.NewTimeout(resilience.TimeoutConfig{
				Timeout:       cfg.CallTimeout,
				WaitForReturn: true,
			})),
		),
		cfg: cfg,
	}, nil
}

// Breaker returns the invoker's circuit breaker.
func (i *Invoker) Breaker() *resilience.CircuitBreaker {
	return i.breaker
}

// Model returns the default model.
func (i *Invoker) Model() string {
	return i.cfg.Model
}

// Pricing returns the price used for cost estimates.
func (i *Invoker) Pricing() usage.Pricing {
	return i.cfg.Pricing
}

// Invoke runs one request. Errors match ErrCircuitOpen, ErrTimeout,
// ErrUpstreamParse or ErrUpstream with errors.Is; a canceled ctx is
// returned as-is. Every outcome except cancellation is reported to the
// breaker. Invoke does not return before the provider call does, even after
// a timeout, so callers that bound concurrency keep their bound.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload := Payload{
		Text:    req.Text,
		Context: req.Context,
		Model:   i.modelFor(req.Options),
		Options: req.Options,
	}
	start := i.cfg.Clock.Now()

	var (
		raw    RawResponse
		parsed ParseResult
	)
	err := i.exec.Execute(ctx, func(ctx context.Context) error {
		r, err := i.provider.Call(ctx, payload, i.cfg.CallTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		p, err := Parse(r.Body)
		if err != nil {
			return err
		}
		raw, parsed = r, p
		return nil
	})
	if err != nil {
		// The provider's own request deadline can fire before ours.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, err
	}

	model := raw.Model
	if model == "" {
		model = payload.Model
	}
	pricing := i.cfg.Pricing
	if payload.Model != i.cfg.Model {
		pricing = usage.PricingFor(payload.Model)
	}

	return &Response{
		Payload:          parsed.Payload,
		Stage:            parsed.Stage,
		Model:            model,
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TokensUsed:       raw.PromptTokens + raw.CompletionTokens,
		CostEstimate:     pricing.Cost(raw.PromptTokens, raw.CompletionTokens),
		Latency:          i.cfg.Clock.Now().Sub(start),
	}, nil
}

func (i *Invoker) modelFor(opts map[string]any) string {
	if m, ok := opts["model"].(string); ok && m != "" {
		return m
	}
	return i.cfg.Model
}
