package usage

// DefaultModel is the model priced when a model has no table entry.
const DefaultModel = "gpt-4o-mini"

// Typical token counts for one analyze call, used to estimate the cost of a
// call that did not happen.
const (
	TypicalPromptTokens     = 350
	TypicalCompletionTokens = 150
)

// Pricing is a per-million-token price in USD.
type Pricing struct {
	InputPerMToken  float64
	OutputPerMToken float64
}

// ModelPrices holds list prices for known models.
var ModelPrices = map[string]Pricing{
	"gpt-4o-mini":  {InputPerMToken: 0.15, OutputPerMToken: 0.60},
	"gpt-4o":       {InputPerMToken: 2.50, OutputPerMToken: 10.00},
	"gpt-4.1-mini": {InputPerMToken: 0.40, OutputPerMToken: 1.60},
	"gpt-4.1-nano": {InputPerMToken: 0.10, OutputPerMToken: 0.40},
	"gpt-4.1":      {InputPerMToken: 2.00, OutputPerMToken: 8.00},
}

// PricingFor returns the price for model, falling back to DefaultModel.
func PricingFor(model string) Pricing {
	if p, ok := ModelPrices[model]; ok {
		return p
	}
	return ModelPrices[DefaultModel]
}

// IsZero reports whether no price is configured.
func (p Pricing) IsZero() bool {
	return p.InputPerMToken == 0 && p.OutputPerMToken == 0
}

// Cost returns the estimated USD cost of a call. Negative token counts are
// treated as zero, so cost never decreases as tokens grow.
func (p Pricing) Cost(promptTokens, completionTokens int64) float64 {
	promptTokens = max(promptTokens, 0)
	completionTokens = max(completionTokens, 0)
	in := float64(promptTokens) * max(p.InputPerMToken, 0) / 1_000_000
	out := float64(completionTokens) * max(p.OutputPerMToken, 0) / 1_000_000
	return in + out
}

// EstimatedCallCost is the cost of a call with typical token counts.
func (p Pricing) EstimatedCallCost() float64 {
	return p.Cost(TypicalPromptTokens, TypicalCompletionTokens)
}
