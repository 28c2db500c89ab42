package llm

import (
	"context"
	"fmt"
	"time"
)

// Cache stores raw provider responses keyed by a canonical request
// hash. Implemented by the store's llm_cache table; a nil cache
// disables caching without affecting correctness.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// GatewayConfig wires the three operation roles to providers. A nil
// role leaves that operation unavailable; callers degrade per their
// contract.
type GatewayConfig struct {
	Embed  *ProviderConfig
	Expand *ProviderConfig
	Rerank *ProviderConfig

	// RerankMode selects "dedicated" or "llm"; empty picks dedicated
	// when the provider has a native endpoint.
	RerankMode string

	Timeouts Timeouts
	Cooldown time.Duration

	// RerankPromptPath optionally overrides the embedded prompt.
	RerankPromptPath string

	Cache Cache
}

// Gateway routes embedding, expansion, and rerank calls to their
// configured providers, guarding each provider with a circuit breaker.
type Gateway struct {
	embedder embedProvider
	expander chatProvider
	reranker provider

	rerankMode   string
	rerankPrompt string
	timeouts     Timeouts
	breakers     map[string]*breaker
	cache        Cache
}

// NewGateway validates the role assignments and builds the adapters.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	g := &Gateway{
		rerankMode:   cfg.RerankMode,
		rerankPrompt: LoadRerankPrompt(cfg.RerankPromptPath),
		timeouts:     cfg.Timeouts,
		breakers:     make(map[string]*breaker),
		cache:        cfg.Cache,
	}

	if cfg.Embed != nil {
		p, err := newProvider(*cfg.Embed)
		if err != nil {
			return nil, err
		}
		ep, ok := p.(embedProvider)
		if !ok || !p.kind().CanEmbed() {
			return nil, fmt.Errorf("llm: provider %q cannot embed", p.kind())
		}
		g.embedder = ep
		g.ensureBreaker(p.name(), cfg.Cooldown)
	}

	if cfg.Expand != nil {
		p, err := newProvider(*cfg.Expand)
		if err != nil {
			return nil, err
		}
		cp, ok := p.(chatProvider)
		if !ok || !p.kind().CanExpand() {
			return nil, fmt.Errorf("llm: provider %q cannot expand queries", p.kind())
		}
		g.expander = cp
		g.ensureBreaker(p.name(), cfg.Cooldown)
	}

	if cfg.Rerank != nil {
		p, err := newProvider(*cfg.Rerank)
		if err != nil {
			return nil, err
		}
		switch cfg.RerankMode {
		case "", "dedicated":
			if _, ok := p.(rerankProvider); ok && p.kind().CanRerankDedicated() {
				g.rerankMode = "dedicated"
				break
			}
			fallthrough
		case "llm":
			if _, ok := p.(chatProvider); !ok || !p.kind().CanRerankChat() {
				return nil, fmt.Errorf("llm: provider %q cannot rerank", p.kind())
			}
			g.rerankMode = "llm"
		default:
			return nil, fmt.Errorf("llm: unknown rerank mode %q", cfg.RerankMode)
		}
		g.reranker = p
		g.ensureBreaker(p.name(), cfg.Cooldown)
	}

	return g, nil
}

// ensureBreaker shares one breaker across roles served by the same
// provider.
func (g *Gateway) ensureBreaker(name string, cooldown time.Duration) {
	if _, ok := g.breakers[name]; !ok {
		g.breakers[name] = newBreaker(name, cooldown)
	}
}

func (g *Gateway) breakerFor(p provider) *breaker {
	return g.breakers[p.name()]
}

// HasEmbedder reports whether embedding is configured.
func (g *Gateway) HasEmbedder() bool { return g.embedder != nil }

// HasExpander reports whether query expansion is configured.
func (g *Gateway) HasExpander() bool { return g.expander != nil }

// HasReranker reports whether reranking is configured.
func (g *Gateway) HasReranker() bool { return g.reranker != nil }

// EmbedModel returns the model identifier of the embedding provider.
func (g *Gateway) EmbedModel() string {
	if g.embedder == nil {
		return ""
	}
	if c, ok := g.embedder.(*siliconFlow); ok {
		return c.embedModel
	}
	if c, ok := g.embedder.(*openAICompatClient); ok {
		return c.embedModel
	}
	return ""
}

// Embed returns one vector per input in order. Embedding is a strict
// operation: an open circuit fails fast with *CoolingDownError.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.embedder == nil {
		return nil, fmt.Errorf("llm: no embedding provider configured")
	}
	br := g.breakerFor(g.embedder)
	if err := br.allow(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Embed)
	defer cancel()

	vectors, err := g.embedder.embed(ctx, texts)
	br.record(err)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a single string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("llm: embedding provider returned no vector")
	}
	return vectors[0], nil
}
