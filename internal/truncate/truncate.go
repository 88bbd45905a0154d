// Package truncate shrinks oversized document bodies into shorter extracts
// so they fit a model's context budget, without a second service call.
package truncate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"BookmarkEnricher/internal/internalerr"
)

// EstimateFunc reports the (approximate) token count of a text. The same
// function must be used for the budget the caller computed, otherwise the
// arithmetic below drifts.
type EstimateFunc func(text string) int

// Shrink reduces text until its estimated token count fits bodyBudget.
// Sentences are ranked by extractive salience and the top ones are kept in
// original document order. The loop is iterative with a hard termination:
// when the text cannot be segmented further, or the arithmetic asks to keep
// zero sentences, it fails with ErrTextTooLong instead of spinning.
func Shrink(text string, bodyBudget int, estimate EstimateFunc) (string, error) {
	if bodyBudget <= 0 {
		return "", fmt.Errorf("body budget %d: %w", bodyBudget, internalerr.ErrTextTooLong)
	}

	for {
		total := estimate(text)
		if total <= bodyBudget {
			return text, nil
		}

		sentences := SplitSentences(text)
		if len(sentences) <= 1 {
			return "", fmt.Errorf("single sentence of %d tokens exceeds budget %d: %w",
				total, bodyBudget, internalerr.ErrTextTooLong)
		}

		avgPerSentence := total / len(sentences)
		if avgPerSentence < 1 {
			avgPerSentence = 1
		}
		excess := total - bodyBudget
		keep := len(sentences) - int(math.Ceil(float64(excess)/float64(avgPerSentence)))
		if keep <= 0 {
			return "", fmt.Errorf("%d sentences cannot cover budget %d: %w",
				len(sentences), bodyBudget, internalerr.ErrTextTooLong)
		}
		// keep < len(sentences) always holds here, so every pass shrinks.
		text = extract(sentences, keep)
	}
}

// extract keeps the topN most salient sentences, concatenated in original
// order. Salience is the stopword-filtered average term weight of the
// sentence against document-wide term frequencies; deterministic for a given
// input (ties break on position).
func extract(sentences []string, topN int) string {
	freq := termFrequencies(sentences)

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		terms := contentTerms(s)
		if len(terms) == 0 {
			ranked = append(ranked, scored{index: i})
			continue
		}
		var sum float64
		for _, t := range terms {
			sum += float64(freq[t])
		}
		ranked = append(ranked, scored{index: i, score: sum / math.Sqrt(float64(len(terms)))})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].index < ranked[b].index
	})

	kept := ranked[:topN]
	sort.Slice(kept, func(a, b int) bool { return kept[a].index < kept[b].index })

	parts := make([]string, len(kept))
	for i, s := range kept {
		parts[i] = sentences[s.index]
	}
	return strings.Join(parts, " ")
}

func termFrequencies(sentences []string) map[string]int {
	freq := make(map[string]int)
	for _, s := range sentences {
		for _, t := range contentTerms(s) {
			freq[t]++
		}
	}
	return freq
}

func contentTerms(sentence string) []string {
	fields := strings.FieldsFunc(sentence, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) < 2 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// SplitSentences segments text on terminal punctuation followed by
// whitespace. Abbreviation handling is deliberately minimal; the truncator
// only needs stable, roughly sentence-sized units.
func SplitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			end := i + 1
			for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?' || runes[end] == '"' || runes[end] == '\'') {
				end++
			}
			if end >= len(runes) || unicode.IsSpace(runes[end]) {
				if s := strings.TrimSpace(string(runes[start:end])); s != "" {
					sentences = append(sentences, s)
				}
				start = end
				i = end - 1
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// A compact English stoplist; enough to keep function words from dominating
// the salience scores.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "if": true, "in": true, "is": true, "it": true, "its": true,
	"not": true, "of": true, "on": true, "or": true, "she": true,
	"that": true, "the": true, "their": true, "there": true, "they": true,
	"this": true, "to": true, "was": true, "were": true, "which": true,
	"will": true, "with": true, "would": true, "you": true,
}
