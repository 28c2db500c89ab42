package retrieval

import (
	"strings"
	"unicode"
)

// ExtractTerms derives the fast chunk-scoring terms from a query.
// Non-CJK words keep tokens longer than two runes; CJK words are
// broken into trigrams (short CJK words survive whole). The full
// lowercased query is always included as a phrase term.
func ExtractTerms(query string) []string {
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		return nil
	}

	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	for _, w := range strings.Fields(lower) {
		runes := []rune(w)
		if containsCJK(runes) {
			if len(runes) < 3 {
				add(w)
				continue
			}
			for i := 0; i+3 <= len(runes); i++ {
				add(string(runes[i : i+3]))
			}
			continue
		}
		if len(runes) > 2 {
			add(w)
		}
	}
	add(lower)
	return terms
}

func containsCJK(runes []rune) bool {
	for _, r := range runes {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

// termScore counts term occurrences in a chunk, the cheap relevance
// proxy used to pick which chunks go to the reranker.
func termScore(chunk string, terms []string) int {
	lower := strings.ToLower(chunk)
	score := 0
	for _, t := range terms {
		score += strings.Count(lower, t)
	}
	return score
}
