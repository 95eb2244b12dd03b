package orchestrator

import "github.com/skyflo-ai/skyflo/pkg/agentcore/core"

// ModelPrice is the per-million-token cost of one model, used to
// compute the locally-estimated cost recorded on a finalized message.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps a model name to its price. A model absent from the
// table prices at zero rather than erroring: cost is a best-effort
// metric, never a blocker.
type PriceTable map[string]ModelPrice

// Cost estimates the USD cost of one generation given its usage and
// the model that produced it.
func (t PriceTable) Cost(model string, usage core.TokenUsage) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	in := float64(usage.PromptTokens) / 1_000_000 * price.InputPerMillion
	out := float64(usage.CompletionTokens) / 1_000_000 * price.OutputPerMillion
	return in + out
}

// DefaultPrices covers the models wired into the LLM provider
// selector; figures are approximate list prices, and every finalized
// message's cost is computed from them.
var DefaultPrices = PriceTable{
	"claude-opus-4-20250514":     {InputPerMillion: 15, OutputPerMillion: 75},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.8, OutputPerMillion: 4},
	"gpt-4o":                     {InputPerMillion: 2.5, OutputPerMillion: 10},
	"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.6},
}
