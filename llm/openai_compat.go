package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// openAICompatClient is the shared base for providers speaking the
// OpenAI wire protocol. pathPrefix defaults to "/v1"; Gemini's
// compatibility endpoint already includes it in the base URL.
type openAICompatClient struct {
	providerName string
	providerKind Kind
	embedModel   string
	chatModel    string
	pathPrefix   string
	http         httpClient
}

func newOpenAICompatBase(name string, k Kind, cfg ProviderConfig, defaultBase, prefix string) openAICompatClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	return openAICompatClient{
		providerName: name,
		providerKind: k,
		embedModel:   cfg.EmbedModel,
		chatModel:    cfg.ChatModel,
		pathPrefix:   prefix,
		http:         newHTTPClient(name, base, cfg.APIKey),
	}
}

// newOpenAICompat creates the generic OpenAI-compatible adapter.
func newOpenAICompat(cfg ProviderConfig) *openAICompatClient {
	c := newOpenAICompatBase("openai-compat", KindOpenAICompat, cfg, "https://api.openai.com", "/v1")
	if c.embedModel == "" {
		c.embedModel = "text-embedding-3-small"
	}
	if c.chatModel == "" {
		c.chatModel = "gpt-4o-mini"
	}
	return &c
}

func (c *openAICompatClient) name() string { return c.providerName }
func (c *openAICompatClient) kind() Kind   { return c.providerKind }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *openAICompatClient) chat(ctx context.Context, system, user string) (string, error) {
	req := chatCompletionRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := c.http.postJSON(ctx, "chat", c.pathPrefix+"/chat/completions", req)
	if err != nil {
		return "", err
	}
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("llm: decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: %s chat returned no choices", c.providerName)
	}
	return resp.Choices[0].Message.Content, nil
}

// embed returns one vector per input in order. A missing index in the
// response leaves a nil slot instead of failing the batch.
func (c *openAICompatClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := embeddingRequest{Model: c.embedModel, Input: texts}
	body, err := c.http.postJSON(ctx, "embed", c.pathPrefix+"/embeddings", req)
	if err != nil {
		return nil, err
	}
	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decoding embedding response: %w", err)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}
