package llm

import "unicode/utf8"

// Estimator approximates token counts against a model's context window.
//
// Exact model tokenization is not available in-process, so this uses the
// rune-count heuristic (roughly 3-4 characters per English subword token)
// and deliberately rounds the estimate UP and the remaining allowance DOWN.
// Overestimating a prompt only costs an unnecessary truncation; the reverse
// costs a rejected request.
type Estimator struct {
	// MaxContext is the model's maximum context length in tokens.
	MaxContext int
}

// Estimate returns a conservative token count for text.
func (e Estimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 2) / 3
}

// Fits reports whether a fully rendered prompt fits the context window.
func (e Estimator) Fits(prompt string) bool {
	return e.Estimate(prompt) <= e.MaxContext
}

// BodyBudget returns the token allowance left for the document body once
// the template's own cost is paid. Never negative.
func (e Estimator) BodyBudget(templateText string) int {
	budget := e.MaxContext - e.Estimate(templateText)
	if budget < 0 {
		return 0
	}
	return budget
}
