package store

import (
	"math"
	"strings"
)

// BuildFTSQuery turns a raw user query into an FTS5 match expression
// that ranks exact phrase above proximity above any-term:
//
//	("t1 t2") OR NEAR("t1" "t2", 10) OR ("t1" OR "t2")
//
// Input is sanitized to alphanumerics and apostrophes; only terms of
// length >= 2 survive. A single surviving term yields just that quoted
// term; no terms yields the empty string.
func BuildFTSQuery(query string) string {
	terms := ftsTerms(query)
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	if len(terms) == 1 {
		return quoted[0]
	}

	phrase := `"` + strings.Join(terms, " ") + `"`
	near := "NEAR(" + strings.Join(quoted, " ") + ", 10)"
	any := strings.Join(quoted, " OR ")
	return "(" + phrase + ") OR " + near + " OR (" + any + ")"
}

// ftsTerms sanitizes a query to alphanumerics plus apostrophes and
// returns the terms of length >= 2.
func ftsTerms(query string) []string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case r == '\'',
			r >= '0' && r <= '9',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r > 127: // keep non-ASCII letters for unicode61
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	var terms []string
	for _, t := range strings.Fields(b.String()) {
		if len([]rune(t)) >= 2 {
			terms = append(terms, t)
		}
	}
	return terms
}

// NormalizeBM25 maps the raw (negative) FTS5 bm25 score to a stable
// [~0.01, ~0.99] range via a logistic transform.
func NormalizeBM25(raw float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(math.Abs(raw)-5.0)/3.0))
}
