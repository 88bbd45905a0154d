package llm

import (
	"regexp"
	"strings"

	"BookmarkEnricher/internal/domain"
)

// Ordered recovery rules for legacy free-text answers. For each line the
// first matching rule wins; later rules are not tried. Group 1 is the
// name/concept, group 2 (when present) the explanation.
var fallbackRules = []*regexp.Regexp{
	// "1. Acme Corp: a software company" (also "-" separated)
	regexp.MustCompile(`^\s*\d{1,2}\.\s*(.+?)\s*[:\-]\s*(.+)$`),
	// "1. <c>capitalism</c><e>an economic system</e>"
	regexp.MustCompile(`^\s*\d{1,2}\..*?<c>(.*?)</c>\s*<e>(.*?)</e>`),
	// "1. capitalism <e>an economic system</e>"
	regexp.MustCompile(`^\s*\d{1,2}\.\s*(.+?)\s*<e>(.*?)</e>`),
	// "1. capitalism" — a numbered line with no explanation
	regexp.MustCompile(`^\s*\d{1,2}\.\s*(.+)$`),
}

// ExtractFreeText recovers entity/concept records from an unstructured
// model answer, one record per matching line. Lines shorter than 2
// characters are skipped.
func ExtractFreeText(text string) []domain.ExtractedEntity {
	var results []domain.ExtractedEntity
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(strings.TrimSpace(line)) < 2 {
			continue
		}
		for _, rule := range fallbackRules {
			match := rule.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			entity := domain.ExtractedEntity{
				Name: strings.TrimSpace(match[1]),
				Type: "concept",
			}
			if len(match) > 2 {
				entity.Explanation = strings.TrimSpace(match[2])
			}
			if entity.Name != "" {
				results = append(results, entity)
			}
			break
		}
	}
	return results
}
