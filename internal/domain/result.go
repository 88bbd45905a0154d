package domain

// ExtractedEntity is one entity/concept record recovered from a model
// answer, before it is attached to a document.
type ExtractedEntity struct {
	Name        string
	Type        string
	Explanation string
}

// GenerationResult is the validated outcome of a single generation call.
// It lives for one enrichment attempt only and is never persisted as-is.
type GenerationResult struct {
	OneSentenceSummary string
	IsAbout            string
	BulletPoints       []string
	Entities           []ExtractedEntity
	Usage              map[string]any
}

// ModelParameters are the sampling knobs forwarded with every generation
// request.
type ModelParameters struct {
	Temperature       float64
	TopP              float64
	TopK              int
	MaxTokens         int
	RepetitionPenalty float64
}
