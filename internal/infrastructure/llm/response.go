package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/internalerr"
)

// answerSchema is the JSON shape the generation service is asked to return.
type answerSchema struct {
	OneSentenceSummary           string `json:"oneSentenceSummary"`
	WhatThisArticleIsAbout       string `json:"whatThisArticleIsAbout"`
	SummaryInNumericBulletPoints []string `json:"summaryInNumericBulletPoints"`
	EntitiesAndConcepts          []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Explanation string `json:"explanation"`
	} `json:"entitiesAndConcepts"`
}

// ParseAnswer turns raw model output into a GenerationResult.
//
// Schema mode: when the text carries a JSON object, it is extracted (models
// routinely wrap JSON in prose or markdown fences), unmarshalled and
// validated closed — any missing or empty required field fails with
// ErrResponseValidation.
//
// Free-text fallback mode: when no JSON object is present at all, the text
// is treated as a legacy unstructured answer and handed to the regex
// extractor; a result with entities only is returned, or ErrEmptyExtraction
// when nothing matches.
func ParseAnswer(raw string) (domain.GenerationResult, error) {
	content := stripFences(strings.TrimSpace(raw))

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		entities := ExtractFreeText(content)
		if len(entities) == 0 {
			return domain.GenerationResult{}, internalerr.ErrEmptyExtraction
		}
		return domain.GenerationResult{Entities: entities}, nil
	}

	var answer answerSchema
	if err := json.Unmarshal([]byte(content[start:end+1]), &answer); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("%w: %v", internalerr.ErrResponseValidation, err)
	}

	if strings.TrimSpace(answer.OneSentenceSummary) == "" {
		return domain.GenerationResult{}, fmt.Errorf("%w: oneSentenceSummary is empty", internalerr.ErrResponseValidation)
	}
	if len(answer.SummaryInNumericBulletPoints) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("%w: summaryInNumericBulletPoints is empty", internalerr.ErrResponseValidation)
	}
	if len(answer.EntitiesAndConcepts) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("%w: entitiesAndConcepts is empty", internalerr.ErrResponseValidation)
	}

	result := domain.GenerationResult{
		OneSentenceSummary: strings.TrimSpace(answer.OneSentenceSummary),
		IsAbout:            strings.TrimSpace(answer.WhatThisArticleIsAbout),
	}
	for _, p := range answer.SummaryInNumericBulletPoints {
		if p = strings.TrimSpace(p); p != "" {
			result.BulletPoints = append(result.BulletPoints, p)
		}
	}
	if len(result.BulletPoints) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("%w: bullet points are all blank", internalerr.ErrResponseValidation)
	}
	for _, e := range answer.EntitiesAndConcepts {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		result.Entities = append(result.Entities, domain.ExtractedEntity{
			Name:        name,
			Type:        strings.TrimSpace(e.Type),
			Explanation: strings.TrimSpace(e.Explanation),
		})
	}
	if len(result.Entities) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("%w: entities are all blank", internalerr.ErrResponseValidation)
	}

	return result, nil
}

// stripFences removes markdown code fences wrapping a JSON payload.
func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	var (
		lines  = strings.Split(content, "\n")
		kept   []string
		inside bool
	)
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inside = !inside
			continue
		}
		if inside {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
