package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Ranked is one rerank result. Index points into the caller's input
// slice; Extract carries the model's supporting quote in LLM mode.
type Ranked struct {
	Index   int
	Score   float64
	Extract string
}

var rerankLineRe = regexp.MustCompile(`^\[(\d+)\]\s*(.*)`)

// Rerank scores the documents against the query. Reranking is a
// strict operation: an open circuit fails fast with *CoolingDownError
// and the caller decides how to degrade.
func (g *Gateway) Rerank(ctx context.Context, query string, docs []string) ([]Ranked, error) {
	if g.reranker == nil {
		return nil, fmt.Errorf("llm: no rerank provider configured")
	}
	if len(docs) == 0 {
		return nil, nil
	}
	br := g.breakerFor(g.reranker)
	if g.rerankMode == "dedicated" {
		return g.rerankDedicated(ctx, br, query, docs)
	}
	return g.rerankChat(ctx, br, query, docs)
}

func (g *Gateway) rerankDedicated(ctx context.Context, br *breaker, query string, docs []string) ([]Ranked, error) {
	rp := g.reranker.(rerankProvider)

	key := cacheKey("rerank", g.reranker.name(), "", append([]string{query}, docs...))
	if cached, ok := g.cacheGet(ctx, key); ok {
		var ranked []Ranked
		if json.Unmarshal([]byte(cached), &ranked) == nil {
			return ranked, nil
		}
	}
	if err := br.allow(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeouts.Rerank)
	defer cancel()

	pairs, err := rp.rerankDocs(callCtx, query, docs)
	br.record(err)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(pairs))
	for _, p := range pairs {
		ranked = append(ranked, Ranked{Index: p.Index, Score: p.Score})
	}
	if blob, err := json.Marshal(ranked); err == nil {
		g.cachePut(ctx, key, string(blob))
	}
	return ranked, nil
}

func (g *Gateway) rerankChat(ctx context.Context, br *breaker, query string, docs []string) ([]Ranked, error) {
	cp := g.reranker.(chatProvider)
	user := renderRerankPrompt(g.rerankPrompt, query, docs)

	key := cacheKey("rerank-llm", g.reranker.name(), "", []string{user})
	if cached, ok := g.cacheGet(ctx, key); ok {
		return parseRerankReply(cached, len(docs)), nil
	}
	if err := br.allow(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeouts.Generate)
	defer cancel()

	out, err := cp.chat(callCtx, rerankSystem, user)
	br.record(err)
	if err != nil {
		return nil, err
	}
	g.cachePut(ctx, key, out)
	return parseRerankReply(out, len(docs)), nil
}

// parseRerankReply extracts "[i] text" lines from the model output.
// Out-of-range indices are dropped; synthetic scores descend by 0.05
// per rank so the model's ordering survives the blend. The literal
// NONE (or an empty reply) means nothing was relevant.
func parseRerankReply(out string, n int) []Ranked {
	out = strings.TrimSpace(out)
	if out == "" || strings.EqualFold(out, "NONE") {
		return nil
	}

	var ranked []Ranked
	for _, line := range strings.Split(out, "\n") {
		m := rerankLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		score := 1.0 - float64(len(ranked))*0.05
		if score < 0 {
			score = 0
		}
		ranked = append(ranked, Ranked{
			Index:   idx,
			Score:   score,
			Extract: strings.TrimSpace(m[2]),
		})
	}
	return ranked
}
