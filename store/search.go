package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SearchResult is a per-document full-text hit. DocID is the short
// content-hash prefix used to address results.
type SearchResult struct {
	DocID      string  `json:"docid"`
	Hash       string  `json:"-"`
	Collection string  `json:"collection"`
	Path       string  `json:"path"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// VecResult is a chunk-level nearest-neighbor hit. Multiple rows per
// file are expected and required by the fusion stage downstream.
type VecResult struct {
	Hash       string  `json:"hash"`
	Seq        int     `json:"seq"`
	Pos        int     `json:"pos"`
	Collection string  `json:"collection"`
	Path       string  `json:"path"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

const docIDLen = 6

// SearchFTS runs a BM25-ranked full-text search over active documents.
// Scores are normalized to [0,1]; results are per-document with the
// best snippet. An empty collections list searches everything; listed
// names are combined as a union, and unknown names only warn.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int, collections []string) ([]SearchResult, error) {
	match := BuildFTSQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `
		SELECT d.hash, d.collection, d.path, d.title,
			bm25(documents_fts),
			snippet(documents_fts, 0, '', '', '…', 16)
		FROM documents_fts f
		JOIN documents d ON d.id = f.rowid
		WHERE documents_fts MATCH ? AND d.active = 1`
	args := []interface{}{match}

	if filter, filterArgs := collectionFilter(ctx, s, collections); filter != "" {
		sqlQuery += filter
		args = append(args, filterArgs...)
	}
	sqlQuery += " ORDER BY bm25(documents_fts) LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var raw float64
		if err := rows.Scan(&r.Hash, &r.Collection, &r.Path, &r.Title, &raw, &r.Snippet); err != nil {
			return nil, err
		}
		r.DocID = r.Hash[:docIDLen]
		r.Score = NormalizeBM25(raw)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchVec runs a KNN search over chunk embeddings. Results are
// chunk-granular: callers rely on seeing multiple chunks per file.
// Returns ErrVectorUnavailable when no vector table exists.
func (s *Store) SearchVec(ctx context.Context, embedding []float32, model string, limit int, collections []string) ([]VecResult, error) {
	dim, err := s.VecDim(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, ErrVectorUnavailable
	}
	if len(embedding) != dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			ErrDimensionMismatch, len(embedding), dim)
	}
	if limit <= 0 {
		limit = 20
	}

	// KNN first, join after: the MATCH clause must see a plain k so the
	// vec0 planner can use it.
	sqlQuery := `
		SELECT e.hash, e.seq, e.pos, v.distance, d.collection, d.path, d.title
		FROM (
			SELECT rowid, distance FROM vec_embeddings
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN embeddings e ON e.id = v.rowid AND e.model = ?
		JOIN documents d ON d.hash = e.hash AND d.active = 1`
	args := []interface{}{serializeFloat32(embedding), limit * 3, model}

	if filter, filterArgs := collectionFilter(ctx, s, collections); filter != "" {
		sqlQuery += filter
		args = append(args, filterArgs...)
	}
	sqlQuery += " ORDER BY v.distance LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such table: vec_embeddings") ||
			strings.Contains(err.Error(), "no such module: vec0") {
			return nil, ErrVectorUnavailable
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []VecResult
	for rows.Next() {
		var r VecResult
		var distance float64
		if err := rows.Scan(&r.Hash, &r.Seq, &r.Pos, &distance, &r.Collection, &r.Path, &r.Title); err != nil {
			return nil, err
		}
		// Cosine distance is in [0,2]; fold to a [0,1] similarity.
		r.Score = 1.0 - distance/2.0
		if r.Score < 0 {
			r.Score = 0
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// collectionFilter builds an "AND d.collection IN (...)" clause for a
// union across the listed collections. Names not present in the index
// are dropped with a warning; they never fail the query.
func collectionFilter(ctx context.Context, s *Store, collections []string) (string, []interface{}) {
	if len(collections) == 0 {
		return "", nil
	}

	known, err := s.Collections(ctx)
	if err != nil {
		slog.Warn("store: could not enumerate collections for filter", "error", err)
		known = nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	var keep []interface{}
	for _, name := range collections {
		if name == "" {
			continue
		}
		if known != nil && !knownSet[name] {
			slog.Warn("store: unknown collection in filter", "collection", name)
			continue
		}
		keep = append(keep, name)
	}
	if len(keep) == 0 {
		return "", nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", ")
	return " AND d.collection IN (" + placeholders + ")", keep
}
