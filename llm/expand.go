package llm

import (
	"context"
	"log/slog"
	"strings"
)

// QueryType classifies an expanded query variant.
type QueryType string

const (
	QueryLex  QueryType = "lex"
	QueryVec  QueryType = "vec"
	QueryHyde QueryType = "hyde"
)

// Queryable is one expanded search input: a lexical keyword form, a
// semantic rephrasing, or a hypothetical-document sentence.
type Queryable struct {
	Type QueryType
	Text string
}

// expansionSystem is the fixed expansion prompt. The model must emit
// the three labeled lines and nothing else.
const expansionSystem = `You rewrite a search query for a hybrid search engine over personal notes.
Reply with exactly three lines and no other text:
lex: <space-separated keywords for full-text search>
vec: <the query rephrased as a natural-language question>
hyde: <one sentence that could appear verbatim in a relevant note>`

// ExpandQuery asks the expansion provider for query variants. This is
// a best-effort operation: a missing provider, open circuit, remote
// failure, or unparsable reply all degrade to the deterministic
// fallback, never to an error.
func (g *Gateway) ExpandQuery(ctx context.Context, query string, includeLex bool, contextHint string) []Queryable {
	if g.expander == nil {
		return fallbackExpansion(query, includeLex)
	}

	user := query
	if contextHint != "" {
		user = "Context: " + contextHint + "\n\nQuery: " + query
	}

	// The cache is consulted before the breaker so cached expansions
	// keep serving through a cooldown.
	key := cacheKey("expand", g.expander.name(), "", []string{expansionSystem, user})
	if out, ok := g.cacheGet(ctx, key); ok {
		if qs := parseExpansion(out, includeLex); len(qs) > 0 {
			return qs
		}
	}

	br := g.breakerFor(g.expander)
	if err := br.allow(); err != nil {
		slog.Debug("llm: expansion skipped, circuit open", "error", err)
		return fallbackExpansion(query, includeLex)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeouts.Generate)
	defer cancel()

	out, err := g.expander.chat(callCtx, expansionSystem, user)
	br.record(err)
	if err != nil {
		slog.Warn("llm: query expansion failed, using fallback", "error", err)
		return fallbackExpansion(query, includeLex)
	}

	qs := parseExpansion(out, includeLex)
	if len(qs) == 0 {
		slog.Warn("llm: unparsable expansion reply, using fallback", "reply", snippet([]byte(out)))
		return fallbackExpansion(query, includeLex)
	}
	g.cachePut(ctx, key, out)
	return qs
}

// parseExpansion reads labeled lines tolerantly: prefixes are matched
// case-insensitively and unknown lines are ignored.
func parseExpansion(out string, includeLex bool) []Queryable {
	var qs []Queryable
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		var qt QueryType
		var text string
		switch {
		case strings.HasPrefix(lower, "lex:"):
			qt, text = QueryLex, line[len("lex:"):]
		case strings.HasPrefix(lower, "vec:"):
			qt, text = QueryVec, line[len("vec:"):]
		case strings.HasPrefix(lower, "hyde:"):
			qt, text = QueryHyde, line[len("hyde:"):]
		default:
			continue
		}
		if qt == QueryLex && !includeLex {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		qs = append(qs, Queryable{Type: qt, Text: text})
	}
	return qs
}

// fallbackExpansion is the deterministic expansion used whenever the
// provider cannot help.
func fallbackExpansion(query string, includeLex bool) []Queryable {
	var qs []Queryable
	if includeLex {
		qs = append(qs, Queryable{Type: QueryLex, Text: query})
	}
	qs = append(qs,
		Queryable{Type: QueryVec, Text: query},
		Queryable{Type: QueryHyde, Text: "Information about " + query},
	)
	return qs
}
