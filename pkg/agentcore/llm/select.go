package llm

import "strings"

// ForModel picks the backend by model-name prefix: "claude-*" routes
// to Anthropic, everything else is assumed OpenAI-compatible. Callers
// construct the two concrete providers up front (each needs its own
// API key) and pass both in here.
func ForModel(model string, anthropicProvider, openaiProvider Provider) Provider {
	if strings.HasPrefix(model, "claude-") {
		return anthropicProvider
	}
	return openaiProvider
}
