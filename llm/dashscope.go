package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// dashScope serves only the dedicated rerank operation; its response
// nests results under an output envelope.
type dashScope struct {
	model string
	http  httpClient
}

func newDashScope(cfg ProviderConfig) *dashScope {
	base := cfg.BaseURL
	if base == "" {
		base = "https://dashscope.aliyuncs.com"
	}
	model := cfg.RerankModel
	if model == "" {
		model = "gte-rerank-v2"
	}
	return &dashScope{
		model: model,
		http:  newHTTPClient("dashscope", base, cfg.APIKey),
	}
}

func (p *dashScope) name() string { return "dashscope" }
func (p *dashScope) kind() Kind   { return KindDashScope }

type dashScopeRerankRequest struct {
	Model      string               `json:"model"`
	Input      dashScopeRerankInput `json:"input"`
	Parameters struct {
		TopN            int  `json:"top_n"`
		ReturnDocuments bool `json:"return_documents"`
	} `json:"parameters"`
}

type dashScopeRerankInput struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type dashScopeRerankResponse struct {
	Output struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	} `json:"output"`
}

func (p *dashScope) rerankDocs(ctx context.Context, query string, docs []string) ([]rankPair, error) {
	req := dashScopeRerankRequest{Model: p.model}
	req.Input.Query = query
	req.Input.Documents = docs
	req.Parameters.TopN = len(docs)

	body, err := p.http.postJSON(ctx, "rerank",
		"/api/v1/services/rerank/text-rerank/text-rerank", req)
	if err != nil {
		return nil, err
	}
	var resp dashScopeRerankResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decoding rerank response: %w", err)
	}
	pairs := make([]rankPair, 0, len(resp.Output.Results))
	for _, r := range resp.Output.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		pairs = append(pairs, rankPair{Index: r.Index, Score: r.RelevanceScore})
	}
	return pairs, nil
}
