package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quietmd/qmd/retrieval"
)

// searchItem is the wire shape for search results, matching the CLI's
// JSON schema so hosts can share parsers.
type searchItem struct {
	DocID   string   `json:"docid,omitempty"`
	Score   float64  `json:"score"`
	File    string   `json:"file"`
	Title   string   `json:"title"`
	Context string   `json:"context,omitempty"`
	AlsoIn  []string `json:"alsoIn,omitempty"`
	Snippet string   `json:"snippet"`
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, opts, err := queryArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.engine.Retrieval().SearchBM25(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.resultJSON(results), nil
}

func (s *Server) handleVectorSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, opts, err := queryArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if opts.MinScore == 0 {
		opts.MinScore = retrieval.DefaultVectorMinScore
	}
	results, err := s.engine.Retrieval().SearchVector(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.resultJSON(results), nil
}

func (s *Server) handleDeepSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, opts, err := queryArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		opts.Context, _ = args["context"].(string)
	}
	results, err := s.engine.Retrieval().Query(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.resultJSON(results), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	file, _ := args["file"].(string)
	if file == "" {
		return mcp.NewToolResultError("file parameter is required"), nil
	}
	doc, err := s.engine.GetDoc(ctx, file)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(doc)), nil
}

func (s *Server) handleMultiGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return mcp.NewToolResultError("pattern parameter is required"), nil
	}
	docs, err := s.engine.MultiGet(ctx, pattern, intArg(args, "limit"), int64(intArg(args, "max_bytes")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(docs)), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gw := s.engine.Gateway
	health, err := s.engine.Store.Health(ctx, gw.EmbedModel())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := s.engine.Store.StatsByCollection(ctx, gw.EmbedModel())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	response := map[string]interface{}{
		"health":      health,
		"collections": stats,
		"providers": map[string]bool{
			"embed":  gw.HasEmbedder(),
			"expand": gw.HasExpander(),
			"rerank": gw.HasReranker(),
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// queryArgs extracts the shared query parameters of the search tools.
func queryArgs(request mcp.CallToolRequest) (string, retrieval.Options, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", retrieval.Options{}, fmt.Errorf("invalid arguments")
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "", retrieval.Options{}, fmt.Errorf("query parameter is required")
	}
	opts := retrieval.Options{Limit: intArg(args, "limit")}
	if min, ok := args["min_score"].(float64); ok {
		opts.MinScore = min
	}
	if raw, ok := args["collections"].([]interface{}); ok {
		for _, v := range raw {
			if name, ok := v.(string); ok {
				opts.Collections = append(opts.Collections, name)
			}
		}
	}
	return query, opts, nil
}

func intArg(args map[string]interface{}, key string) int {
	// JSON numbers arrive as float64.
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return 0
}

func (s *Server) resultJSON(results []retrieval.Result) *mcp.CallToolResult {
	items := make([]searchItem, 0, len(results))
	for _, r := range results {
		items = append(items, searchItem{
			DocID:   r.DocID,
			Score:   r.Score,
			File:    r.File,
			Title:   r.Title,
			Context: s.engine.Index.ResolveContext(r.Collection, r.Path),
			AlsoIn:  r.AlsoIn,
			Snippet: r.Snippet,
		})
	}
	return mcp.NewToolResultText(formatJSON(items))
}

func formatJSON(v interface{}) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
