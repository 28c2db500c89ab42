// Package retrieval answers queries over the index: BM25 and vector
// searches on their own, and the full multi-stage pipeline combining
// query expansion, rank fusion, reranking, and deduplication.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/llm"
	"github.com/quietmd/qmd/store"
)

const (
	// subSearchLimit caps each fan-out sub-search.
	subSearchLimit = 20
	allSearchLimit = 200

	// Strong BM25 signals skip query expansion.
	strongTopScore = 0.85
	strongGap      = 0.15

	// DefaultVectorMinScore filters weak vsearch hits.
	DefaultVectorMinScore = 0.3
)

// Options controls one query.
type Options struct {
	Limit       int
	MinScore    float64
	All         bool
	Collections []string
	Context     string
}

func (o Options) limit() int {
	if o.All {
		return allSearchLimit
	}
	if o.Limit <= 0 {
		return 5
	}
	return o.Limit
}

func (o Options) subLimit() int {
	if o.All {
		return allSearchLimit
	}
	return subSearchLimit
}

// Result is one answer. File is the collection-qualified path used in
// every output format; AlsoIn lists near-duplicate files merged away.
type Result struct {
	DocID      string   `json:"docid"`
	Score      float64  `json:"score"`
	Collection string   `json:"-"`
	Path       string   `json:"-"`
	File       string   `json:"file"`
	Title      string   `json:"title"`
	AlsoIn     []string `json:"alsoIn,omitempty"`
	Body       string   `json:"body,omitempty"`
	Snippet    string   `json:"snippet"`
}

// Engine runs queries against a store through the LLM gateway.
type Engine struct {
	store   *store.Store
	gateway *llm.Gateway
	tuning  Tuning
}

func New(st *store.Store, gw *llm.Gateway) *Engine {
	return NewTuned(st, gw, DefaultTuning())
}

// NewTuned overrides the pipeline caps and fusion weights.
func NewTuned(st *store.Store, gw *llm.Gateway, t Tuning) *Engine {
	return &Engine{store: st, gateway: gw, tuning: t.normalize()}
}

func fileKey(collection, path string) string {
	return collection + "/" + path
}

// SearchBM25 is the plain full-text search behind the search command.
func (e *Engine) SearchBM25(ctx context.Context, query string, opts Options) ([]Result, error) {
	hits, err := e.store.SearchFTS(ctx, query, opts.limit(), opts.Collections)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		results = append(results, Result{
			DocID:      h.DocID,
			Score:      h.Score,
			Collection: h.Collection,
			Path:       h.Path,
			File:       fileKey(h.Collection, h.Path),
			Title:      h.Title,
			Snippet:    h.Snippet,
		})
	}
	return results, nil
}

// SearchVector embeds the query and returns per-document best-chunk
// similarity, the vsearch command.
func (e *Engine) SearchVector(ctx context.Context, query string, opts Options) ([]Result, error) {
	vec, err := e.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.SearchVec(ctx, vec, e.gateway.EmbedModel(), opts.limit()*e.tuning.RerankChunksPerDoc, opts.Collections)
	if err != nil {
		return nil, err
	}

	// Chunk hits collapse to their best-scoring chunk per document.
	byFile := make(map[string]*Result)
	var order []string
	for _, h := range hits {
		key := fileKey(h.Collection, h.Path)
		if r, ok := byFile[key]; ok {
			if h.Score > r.Score {
				r.Score = h.Score
			}
			continue
		}
		byFile[key] = &Result{
			DocID:      chunker.DocID(h.Hash),
			Score:      h.Score,
			Collection: h.Collection,
			Path:       h.Path,
			File:       key,
			Title:      h.Title,
			Snippet:    e.chunkAt(ctx, h.Hash, h.Pos),
		}
		order = append(order, key)
	}

	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = DefaultVectorMinScore
	}
	var results []Result
	for _, key := range order {
		if r := byFile[key]; r.Score >= minScore {
			results = append(results, *r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if n := opts.limit(); len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// chunkAt returns the retrieval chunk containing a byte position, for
// use as a snippet.
func (e *Engine) chunkAt(ctx context.Context, hash string, pos int) string {
	body, err := e.store.ContentBody(ctx, hash)
	if err != nil {
		return ""
	}
	for _, c := range chunker.Chunks(body) {
		if pos >= c.Pos && pos < c.Pos+len(c.Text) {
			return c.Text
		}
	}
	if len(body) > 0 {
		return chunker.Chunks(body)[0].Text
	}
	return ""
}

// docMeta carries per-candidate state through the pipeline.
type docMeta struct {
	docID      string
	hash       string
	collection string
	path       string
	title      string
	snippet    string
}

// Query runs the full pipeline.
func (e *Engine) Query(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("retrieval: empty query")
	}

	// Stage 1: unconditional BM25 probe.
	probe, err := e.store.SearchFTS(ctx, query, subSearchLimit, opts.Collections)
	if err != nil {
		return nil, err
	}

	// Stage 2: expansion, unless the probe already carries a strong
	// unambiguous signal.
	var expansions []llm.Queryable
	if !strongSignal(probe) {
		expansions = e.gateway.ExpandQuery(ctx, query, true, opts.Context)
	}

	// Stage 3: fan-out. Slots 0 and 1 are reserved for the original
	// query's BM25 and vector lists so fusion can weight them.
	lists, meta, err := e.fanOut(ctx, query, expansions, probe, opts)
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, nil
	}

	// Stages 4 and 5: fusion and candidate cap.
	candidates := fuse(lists, e.tuning)
	if len(candidates) > e.tuning.RerankDocLimit {
		candidates = candidates[:e.tuning.RerankDocLimit]
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Stages 6 through 8: chunk selection, rerank, blend.
	results := e.rerankAndBlend(ctx, query, candidates, meta)

	// Stage 9: filter, dedup, limit.
	var kept []Result
	for _, r := range results {
		if r.Score >= opts.MinScore {
			kept = append(kept, r)
		}
	}
	kept = dedupe(kept)
	if n := opts.limit(); len(kept) > n {
		kept = kept[:n]
	}
	return kept, nil
}

// strongSignal reports whether the BM25 probe alone is trustworthy
// enough to skip expansion.
func strongSignal(probe []store.SearchResult) bool {
	if len(probe) == 0 {
		return false
	}
	top := probe[0].Score
	second := 0.0
	if len(probe) > 1 {
		second = probe[1].Score
	}
	return top >= strongTopScore && top-second >= strongGap
}

// fanOut runs every sub-search concurrently and returns the ranked
// key lists plus the metadata of every document seen. Sub-search
// failures degrade to missing lists; only a total wipeout is fatal.
func (e *Engine) fanOut(ctx context.Context, query string, expansions []llm.Queryable, probe []store.SearchResult, opts Options) ([][]string, map[string]docMeta, error) {
	type subResult struct {
		slot int
		keys []string
	}

	var lexQueries, vecQueries []string
	for _, q := range expansions {
		switch q.Type {
		case llm.QueryLex:
			if q.Text != query {
				lexQueries = append(lexQueries, q.Text)
			}
		case llm.QueryVec, llm.QueryHyde:
			vecQueries = append(vecQueries, q.Text)
		}
	}

	nSlots := 2 + len(lexQueries) + len(vecQueries)
	slots := make([][]string, nSlots)

	var mu sync.Mutex
	meta := make(map[string]docMeta)
	recordFTS := func(hits []store.SearchResult) []string {
		mu.Lock()
		defer mu.Unlock()
		keys := make([]string, 0, len(hits))
		for _, h := range hits {
			key := fileKey(h.Collection, h.Path)
			keys = append(keys, key)
			if _, ok := meta[key]; !ok {
				meta[key] = docMeta{
					docID: h.DocID, hash: h.Hash, collection: h.Collection,
					path: h.Path, title: h.Title, snippet: h.Snippet,
				}
			}
		}
		return keys
	}
	recordVec := func(hits []store.VecResult) []string {
		mu.Lock()
		defer mu.Unlock()
		var keys []string
		seen := make(map[string]bool)
		for _, h := range hits {
			key := fileKey(h.Collection, h.Path)
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
			if _, ok := meta[key]; !ok {
				meta[key] = docMeta{
					docID: chunker.DocID(h.Hash), hash: h.Hash, collection: h.Collection,
					path: h.Path, title: h.Title,
				}
			}
		}
		return keys
	}

	// Slot 0 is the probe we already ran.
	slots[0] = recordFTS(probe)

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.subLimit()

	vecSearch := func(slot int, text string) {
		g.Go(func() error {
			vec, err := e.gateway.EmbedQuery(gctx, text)
			if err != nil {
				slog.Debug("retrieval: query embedding failed", "error", err)
				return nil
			}
			hits, err := e.store.SearchVec(gctx, vec, e.gateway.EmbedModel(), limit*e.tuning.RerankChunksPerDoc, opts.Collections)
			if err != nil {
				slog.Debug("retrieval: vector sub-search failed", "error", err)
				return nil
			}
			slots[slot] = recordVec(hits)
			return nil
		})
	}

	// Slot 1: original-query vector search.
	if e.gateway.HasEmbedder() {
		vecSearch(1, query)
	}

	slot := 2
	for _, q := range lexQueries {
		q, s := q, slot
		g.Go(func() error {
			hits, err := e.store.SearchFTS(gctx, q, limit, opts.Collections)
			if err != nil {
				slog.Debug("retrieval: fts sub-search failed", "query", q, "error", err)
				return nil
			}
			slots[s] = recordFTS(hits)
			return nil
		})
		slot++
	}
	for _, q := range vecQueries {
		if !e.gateway.HasEmbedder() {
			break
		}
		vecSearch(slot, q)
		slot++
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var lists [][]string
	produced := false
	for _, s := range slots {
		lists = append(lists, s)
		if len(s) > 0 {
			produced = true
		}
	}
	if !produced {
		return nil, meta, nil
	}
	return lists, meta, nil
}

// rerankAndBlend selects chunks, calls the reranker, and blends the
// scores. Rerank failure of any kind degrades to RRF-derived scores.
func (e *Engine) rerankAndBlend(ctx context.Context, query string, candidates []fused, meta map[string]docMeta) []Result {
	terms := ExtractTerms(query)

	type chunkRef struct {
		key      string
		chunkIdx int
		text     string
	}
	var refs []chunkRef
	var texts []string
	bodies := make(map[string]string, len(candidates))

	for _, c := range candidates {
		m := meta[c.Key]
		body, err := e.store.ContentBody(ctx, m.hash)
		if err != nil {
			slog.Debug("retrieval: candidate body missing", "file", c.Key, "error", err)
			continue
		}
		bodies[c.Key] = body

		chunks := chunker.Chunks(body)
		sort.SliceStable(chunks, func(i, j int) bool {
			return termScore(chunks[i].Text, terms) > termScore(chunks[j].Text, terms)
		})
		if len(chunks) > e.tuning.RerankChunksPerDoc {
			chunks = chunks[:e.tuning.RerankChunksPerDoc]
		}
		for i, ch := range chunks {
			refs = append(refs, chunkRef{key: c.Key, chunkIdx: i, text: ch.Text})
			texts = append(texts, fmt.Sprintf("%s::%d %s", c.Key, i, ch.Text))
		}
	}

	ranked, err := e.gateway.Rerank(ctx, query, texts)
	if err != nil {
		slog.Warn("retrieval: rerank unavailable, using fused order", "error", err)
		ranked = nil
	}

	build := func(key string, score float64, snippet string) Result {
		m := meta[key]
		sn := snippet
		if sn == "" {
			sn = m.snippet
		}
		return Result{
			DocID:      m.docID,
			Score:      score,
			Collection: m.collection,
			Path:       m.path,
			File:       key,
			Title:      m.title,
			Body:       bodies[key],
			Snippet:    sn,
		}
	}

	// Extract mode: the model's ordering is authoritative and its
	// quotes become the snippets.
	if hasExtracts(ranked) {
		var out []Result
		seen := make(map[string]bool)
		for _, r := range ranked {
			ref := refs[r.Index]
			if seen[ref.key] {
				continue
			}
			seen[ref.key] = true
			out = append(out, build(ref.key, r.Score, r.Extract))
		}
		return out
	}

	// Score mode (or degraded): best chunk score per document, blended
	// with the fused position.
	bestChunk := make(map[string]float64)
	for _, r := range ranked {
		ref := refs[r.Index]
		if r.Score > bestChunk[ref.key] {
			bestChunk[ref.key] = r.Score
		}
	}

	var out []Result
	for _, c := range candidates {
		if _, ok := bodies[c.Key]; !ok {
			continue
		}
		score := 1.0 / float64(c.Rank)
		if len(ranked) > 0 {
			score = blend(c.Rank, bestChunk[c.Key])
		}
		snippet := ""
		for _, ref := range refs {
			if ref.key == c.Key {
				snippet = ref.text
				break
			}
		}
		out = append(out, build(c.Key, score, snippet))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func hasExtracts(ranked []llm.Ranked) bool {
	for _, r := range ranked {
		if r.Extract != "" {
			return true
		}
	}
	return false
}
