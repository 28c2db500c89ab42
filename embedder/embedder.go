// Package embedder keeps the vector index in sync with active
// content: it chunks pending documents, calls the embedding provider
// in batches, and writes one vector per chunk.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/llm"
	"github.com/quietmd/qmd/store"
)

// DefaultBatchSize is the number of chunks sent per embed call.
const DefaultBatchSize = 32

// Options parameterizes one embedding run.
type Options struct {
	// Force clears all existing embeddings first, allowing a model or
	// dimension change.
	Force bool

	BatchSize      int
	MaxChunkTokens int
	ChunkOverlap   int

	// Progress enables the byte-based progress bar on stderr.
	Progress bool
}

// Summary reports what one embedding run did.
type Summary struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Failed    int `json:"failed"`
	Dimension int `json:"dimension"`
}

// Embedder drives the embedding pipeline.
type Embedder struct {
	store   *store.Store
	gateway *llm.Gateway
}

func New(st *store.Store, gw *llm.Gateway) *Embedder {
	return &Embedder{store: st, gateway: gw}
}

// pendingChunk is one chunk awaiting a vector.
type pendingChunk struct {
	hash string
	seq  int
	pos  int
	text string
}

// Run embeds every chunk of active content that lacks a vector for
// the current model.
func (e *Embedder) Run(ctx context.Context, opts Options) (*Summary, error) {
	if !e.gateway.HasEmbedder() {
		return nil, fmt.Errorf("embedder: no embedding provider configured")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = 200
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = 40
	}
	model := e.gateway.EmbedModel()

	if opts.Force {
		if err := e.store.ClearEmbeddings(ctx); err != nil {
			return nil, err
		}
	}

	hashes, err := e.store.HashesNeedingEmbedding(ctx, model)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Documents: len(hashes)}
	if len(hashes) == 0 {
		return sum, nil
	}

	rows, err := e.store.ContentForEmbedding(ctx, hashes)
	if err != nil {
		return nil, err
	}

	var pending []pendingChunk
	var totalBytes int64
	for _, row := range rows {
		for _, c := range chunker.TokenChunks(row.Body, opts.MaxChunkTokens, opts.ChunkOverlap) {
			pending = append(pending, pendingChunk{hash: row.Hash, seq: len(pending), pos: c.Pos, text: c.Text})
		}
		totalBytes += int64(len(row.Body))
	}
	// seq restarts per document.
	reseq(pending)
	if len(pending) == 0 {
		return sum, nil
	}

	// One probe call pins the dimension before any batch is sent.
	probe, err := e.gateway.EmbedQuery(ctx, pending[0].text)
	if err != nil {
		return nil, fmt.Errorf("embedder: probing dimension: %w", err)
	}
	sum.Dimension = len(probe)
	if err := e.store.EnsureVecTable(ctx, len(probe)); err != nil {
		return nil, err
	}

	bar := newProgressBar(totalBytes, opts.Progress)
	bytesDone := make(map[string]int64, len(rows))
	for _, row := range rows {
		bytesDone[row.Hash] = int64(len(row.Body))
	}

	for start := 0; start < len(pending); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		if err := e.embedBatch(ctx, batch, model, sum); err != nil {
			return nil, err
		}
		for _, pc := range batch {
			if n, ok := bytesDone[pc.hash]; ok {
				bar.Add64(n)
				delete(bytesDone, pc.hash)
			}
		}
	}
	bar.Finish()
	return sum, nil
}

// embedBatch sends one batch; on failure, each chunk is retried alone
// so a single poisoned input cannot sink the run.
func (e *Embedder) embedBatch(ctx context.Context, batch []pendingChunk, model string, sum *Summary) error {
	texts := make([]string, len(batch))
	for i, pc := range batch {
		texts[i] = pc.text
	}

	vectors, err := e.gateway.Embed(ctx, texts)
	if err != nil {
		var cde *llm.CoolingDownError
		if errors.As(err, &cde) {
			return err
		}
		slog.Warn("embedder: batch failed, retrying per item", "size", len(batch), "error", err)
		return e.embedItems(ctx, batch, model, sum)
	}

	now := time.Now()
	for i, pc := range batch {
		if vectors[i] == nil {
			sum.Failed++
			continue
		}
		if err := e.store.InsertEmbedding(ctx, pc.hash, pc.seq, pc.pos, vectors[i], model, now); err != nil {
			return err
		}
		sum.Chunks++
	}
	return nil
}

func (e *Embedder) embedItems(ctx context.Context, batch []pendingChunk, model string, sum *Summary) error {
	for _, pc := range batch {
		vec, err := e.gateway.EmbedQuery(ctx, pc.text)
		if err != nil {
			var cde *llm.CoolingDownError
			if errors.As(err, &cde) {
				return err
			}
			slog.Warn("embedder: chunk failed", "hash", pc.hash[:8], "seq", pc.seq, "error", err)
			sum.Failed++
			continue
		}
		if err := e.store.InsertEmbedding(ctx, pc.hash, pc.seq, pc.pos, vec, model, time.Now()); err != nil {
			return err
		}
		sum.Chunks++
	}
	return nil
}

// reseq renumbers chunk sequence numbers per document.
func reseq(pending []pendingChunk) {
	counts := make(map[string]int)
	for i := range pending {
		pending[i].seq = counts[pending[i].hash]
		counts[pending[i].hash]++
	}
}

// newProgressBar builds a byte-denominated bar, or a silent one when
// progress output is off.
func newProgressBar(totalBytes int64, visible bool) *progressbar.ProgressBar {
	if !visible {
		return progressbar.NewOptions64(totalBytes, progressbar.OptionSetWriter(io.Discard))
	}
	return progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Embedding"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}
