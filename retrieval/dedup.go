package retrieval

import "strings"

// nearDupThreshold is the Jaccard bigram similarity at or above which
// two bodies count as the same content.
const nearDupThreshold = 0.90

// normalizeWS collapses all whitespace runs to single spaces.
func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// charBigrams returns the set of character bigrams of a normalized
// string.
func charBigrams(s string) map[string]struct{} {
	runes := []rune(normalizeWS(s))
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+2 <= len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// jaccardBigrams computes set-Jaccard similarity over character
// bigrams. Two empty strings are identical; one empty string matches
// nothing.
func jaccardBigrams(a, b string) float64 {
	sa, sb := charBigrams(a), charBigrams(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}
	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// dedupe removes exact docid duplicates and merges near-identical
// bodies, keeping the higher-scored result and recording the losing
// path under AlsoIn. Results must arrive sorted by descending score.
func dedupe(results []Result) []Result {
	var out []Result
	byDocID := make(map[string]int)

	for _, r := range results {
		if i, ok := byDocID[r.DocID]; ok {
			out[i].AlsoIn = append(out[i].AlsoIn, r.File)
			continue
		}

		merged := false
		for i := range out {
			if jaccardBigrams(out[i].Body, r.Body) >= nearDupThreshold {
				out[i].AlsoIn = append(out[i].AlsoIn, r.File)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		byDocID[r.DocID] = len(out)
		out = append(out, r)
	}
	return out
}
