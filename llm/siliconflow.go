package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// siliconFlow is the full-service provider: embedding, chat, and a
// native rerank endpoint.
type siliconFlow struct {
	openAICompatClient
	rerankModel string
}

func newSiliconFlow(cfg ProviderConfig) *siliconFlow {
	base := newOpenAICompatBase("siliconflow", KindSiliconFlow, cfg, "https://api.siliconflow.com", "/v1")
	if base.embedModel == "" {
		base.embedModel = "Qwen/Qwen3-Embedding-0.6B"
	}
	if base.chatModel == "" {
		base.chatModel = "Qwen/Qwen2.5-7B-Instruct"
	}
	model := cfg.RerankModel
	if model == "" {
		model = "BAAI/bge-reranker-v2-m3"
	}
	return &siliconFlow{openAICompatClient: base, rerankModel: model}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// rerankDocs calls the native rerank API. top_n always equals the
// candidate count so no document is silently dropped.
func (p *siliconFlow) rerankDocs(ctx context.Context, query string, docs []string) ([]rankPair, error) {
	req := rerankRequest{
		Model:     p.rerankModel,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	}
	body, err := p.http.postJSON(ctx, "rerank", p.pathPrefix+"/rerank", req)
	if err != nil {
		return nil, err
	}
	var resp rerankResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decoding rerank response: %w", err)
	}
	pairs := make([]rankPair, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		pairs = append(pairs, rankPair{Index: r.Index, Score: r.RelevanceScore})
	}
	return pairs, nil
}
