// Package qmd wires the pieces of a hybrid search index over local
// Markdown collections: the SQLite store, the LLM gateway, ingestion,
// embedding, and retrieval. Everything hangs off an explicitly
// constructed Engine; there are no package-level singletons.
package qmd

import (
	"context"
	"fmt"
	"time"

	"github.com/quietmd/qmd/embedder"
	"github.com/quietmd/qmd/ingest"
	"github.com/quietmd/qmd/llm"
	"github.com/quietmd/qmd/retrieval"
	"github.com/quietmd/qmd/store"
)

// Engine owns the store and the gateway for one index. Subsystems
// borrow from it and never outlive it.
type Engine struct {
	Config  Config
	Store   *store.Store
	Gateway *llm.Gateway
	Index   *IndexFile
}

// NewEngine opens the index database, loads the collections file, and
// builds the provider gateway from the configured API keys.
func NewEngine(cfg Config) (*Engine, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	idx, err := LoadIndexFile(cfg.IndexFilePath())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	gw, err := buildGateway(cfg, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return &Engine{Config: cfg, Store: st, Gateway: gw, Index: idx}, nil
}

// Close releases the database handle.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// SaveIndex persists the collections file.
func (e *Engine) SaveIndex() error {
	return e.Index.Save(e.Config.IndexFilePath())
}

// Ingester returns the ingestion subsystem bound to this engine.
func (e *Engine) Ingester() *ingest.Ingester {
	return ingest.New(e.Store)
}

// Embedder returns the embedding subsystem bound to this engine.
func (e *Engine) Embedder() *embedder.Embedder {
	return embedder.New(e.Store, e.Gateway)
}

// Retrieval returns the query engine bound to this engine, carrying
// the configured pipeline caps and fusion weights.
func (e *Engine) Retrieval() *retrieval.Engine {
	return retrieval.NewTuned(e.Store, e.Gateway, retrieval.Tuning{
		RerankDocLimit:     e.Config.RerankDocLimit,
		RerankChunksPerDoc: e.Config.RerankChunksPerDoc,
		PrimaryWeight:      e.Config.RRFPrimaryWeight,
		RankBonusTop:       e.Config.RankBonusTop,
		RankBonusHigh:      e.Config.RankBonusHigh,
	})
}

// SyncCollection ingests one named collection.
func (e *Engine) SyncCollection(ctx context.Context, name string) (*ingest.Summary, error) {
	col, err := e.Index.Collection(name)
	if err != nil {
		return nil, err
	}
	sum, err := e.Ingester().Sync(ctx, ingest.Options{
		Collection:   col.Name,
		Root:         col.Path,
		Mask:         col.GlobMask(),
		MaxFileBytes: e.Config.MaxIndexFileBytes,
	})
	if err != nil {
		return nil, cancelErr(ctx, err)
	}
	return sum, nil
}

// cancelErr maps an error caused by context cancellation onto
// ErrCancelled so callers can tell an aborted run from a failed one.
func cancelErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// storeCache adapts the store's llm_cache table to the gateway.
type storeCache struct {
	st *store.Store
}

func (c storeCache) Get(ctx context.Context, key string) (string, bool, error) {
	return c.st.CacheGet(ctx, key)
}

func (c storeCache) Put(ctx context.Context, key, value string) error {
	return c.st.CachePut(ctx, key, value, time.Now())
}

// Provider auto-routing preference per operation. Forced selections
// via QMD_*_PROVIDER bypass these orders.
var (
	embedOrder  = []string{"siliconflow", "openai-compat"}
	expandOrder = []string{"siliconflow", "openai-compat", "gemini"}
	rerankOrder = []string{"siliconflow", "dashscope", "openai-compat", "gemini"}
)

// buildGateway assembles the gateway roles from the available API
// keys. A role with no usable provider stays nil and the operation
// degrades per its contract.
func buildGateway(cfg Config, st *store.Store) (*llm.Gateway, error) {
	timeouts := llm.DefaultTimeouts()
	if cfg.Timeout > 0 {
		timeouts = llm.Timeouts{Embed: cfg.Timeout, Rerank: cfg.Timeout, Generate: cfg.Timeout}
	}

	gcfg := llm.GatewayConfig{
		Timeouts:         timeouts,
		Cooldown:         cfg.Cooldown,
		RerankPromptPath: cfg.RerankPromptPath(),
		Cache:            storeCache{st},
	}
	if cfg.RerankMode == "rerank" {
		gcfg.RerankMode = "dedicated"
	} else {
		gcfg.RerankMode = "llm"
	}

	var err error
	gcfg.Embed, err = pickProvider(cfg, cfg.EmbedProvider, embedOrder, llm.Kind.CanEmbed)
	if err != nil {
		return nil, err
	}
	gcfg.Expand, err = pickProvider(cfg, cfg.ExpansionProvider, expandOrder, llm.Kind.CanExpand)
	if err != nil {
		return nil, err
	}
	canRerank := llm.Kind.CanRerankChat
	if gcfg.RerankMode == "dedicated" {
		canRerank = llm.Kind.CanRerankDedicated
	}
	gcfg.Rerank, err = pickProvider(cfg, cfg.RerankProvider, rerankOrder, canRerank)
	if err != nil {
		return nil, err
	}

	return llm.NewGateway(gcfg)
}

// pickProvider resolves one operation role: a forced provider must be
// known, capable, and keyed; auto-routing takes the first capable kind
// with a key and yields nil when none qualifies.
func pickProvider(cfg Config, forced string, order []string, capable func(llm.Kind) bool) (*llm.ProviderConfig, error) {
	mk := func(kind string) *llm.ProviderConfig {
		return &llm.ProviderConfig{
			Kind:       llm.Kind(kind),
			APIKey:     cfg.APIKeys[kind],
			EmbedModel: cfg.EmbedModel,
		}
	}

	if forced != "" {
		if !capable(llm.Kind(forced)) {
			return nil, fmt.Errorf("provider %q cannot serve this operation", forced)
		}
		if cfg.APIKeys[forced] == "" {
			return nil, fmt.Errorf("provider %q has no API key", forced)
		}
		return mk(forced), nil
	}

	for _, kind := range order {
		if capable(llm.Kind(kind)) && cfg.APIKeys[kind] != "" {
			return mk(kind), nil
		}
	}
	return nil, nil
}
