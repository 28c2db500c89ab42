package llm

import (
	"context"
	"fmt"
)

// Kind identifies a provider family. Each kind supports a fixed set of
// operations; configuration resolves at most one provider per
// operation.
type Kind string

const (
	KindSiliconFlow  Kind = "siliconflow"
	KindOpenAICompat Kind = "openai-compat"
	KindGemini       Kind = "gemini"
	KindDashScope    Kind = "dashscope"
)

// CanEmbed reports whether the kind serves embedding requests.
func (k Kind) CanEmbed() bool {
	return k == KindSiliconFlow || k == KindOpenAICompat
}

// CanExpand reports whether the kind serves chat-based query expansion.
func (k Kind) CanExpand() bool {
	return k == KindSiliconFlow || k == KindOpenAICompat || k == KindGemini
}

// CanRerankDedicated reports whether the kind has a native rerank API.
func (k Kind) CanRerankDedicated() bool {
	return k == KindSiliconFlow || k == KindDashScope
}

// CanRerankChat reports whether the kind can act as an LLM reranker.
func (k Kind) CanRerankChat() bool {
	return k == KindSiliconFlow || k == KindOpenAICompat || k == KindGemini
}

// ProviderConfig configures one provider instance. Zero-valued fields
// fall back to per-kind defaults.
type ProviderConfig struct {
	Kind        Kind
	BaseURL     string
	APIKey      string
	EmbedModel  string
	ChatModel   string
	RerankModel string
}

// provider is the minimal identity every adapter carries.
type provider interface {
	name() string
	kind() Kind
}

// embedProvider turns texts into vectors, one per input, in order.
type embedProvider interface {
	provider
	embed(ctx context.Context, texts []string) ([][]float32, error)
}

// chatProvider answers a single system+user exchange with plain text.
type chatProvider interface {
	provider
	chat(ctx context.Context, system, user string) (string, error)
}

// rerankProvider scores documents against a query via a native API.
type rerankProvider interface {
	provider
	rerankDocs(ctx context.Context, query string, docs []string) ([]rankPair, error)
}

// rankPair is one dedicated-rerank result, indexed into the input.
type rankPair struct {
	Index int
	Score float64
}

// newProvider instantiates the adapter for a kind.
func newProvider(cfg ProviderConfig) (provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: no API key for provider %q", cfg.Kind)
	}
	switch cfg.Kind {
	case KindSiliconFlow:
		return newSiliconFlow(cfg), nil
	case KindOpenAICompat:
		return newOpenAICompat(cfg), nil
	case KindGemini:
		return newGemini(cfg), nil
	case KindDashScope:
		return newDashScope(cfg), nil
	case "":
		return nil, fmt.Errorf("llm: provider not specified")
	default:
		return nil, fmt.Errorf("llm: unknown provider kind %q", cfg.Kind)
	}
}
