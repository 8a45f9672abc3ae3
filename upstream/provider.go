package upstream

import (
	"context"
	"time"
)

// Payload is what a Provider is asked to analyze.
type Payload struct {
	Text    string
	Context string
	Model   string
	Options map[string]any
}

// RawResponse is an unparsed provider reply with its token accounting.
type RawResponse struct {
	Body             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Provider performs one analysis request against an external service.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Call must honor cancellation and should not outlive timeout.
//   - Errors: Call never retries. Transport and remote failures are returned
//     as-is; the Invoker classifies them.
type Provider interface {
	Call(ctx context.Context, p Payload, timeout time.Duration) (RawResponse, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, p Payload, timeout time.Duration) (RawResponse, error)

// Call calls f.
func (f ProviderFunc) Call(ctx context.Context, p Payload, timeout time.Duration) (RawResponse, error) {
	return f(ctx, p, timeout)
}
