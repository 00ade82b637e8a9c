package provider

import "github.com/promptwell/llmbatch/pkg/llm"

// Token estimation constants. The heuristic deliberately rounds up:
// overcounting wastes a little budget, undercounting risks
// provider-side throttling.
const (
	// charsPerToken approximates the cl100k-class tokenizers both
	// provider families use (~4 chars per token for English text).
	charsPerToken = 4

	// perMessageOverhead covers role markers and message framing tokens.
	perMessageOverhead = 4
)

// EstimateTokens returns a conservative token estimate for a request:
// input content at ~4 chars/token plus framing overhead, plus the full
// requested output budget (the provider reserves it regardless of how
// much the model actually emits).
func EstimateTokens(req *llm.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	if so := req.StructuredOutput; so != nil {
		chars += len(so.SchemaName) + len(so.Description) + len(so.Schema)
	}

	input := (chars+charsPerToken-1)/charsPerToken + perMessageOverhead*(len(req.Messages)+1)
	return input + req.MaxTokens
}
