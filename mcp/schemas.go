package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func querySchema(description string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": description,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results",
				"default":     5,
				"minimum":     1,
				"maximum":     100,
			},
			"collections": map[string]interface{}{
				"type":        "array",
				"description": "Restrict the search to these collections",
				"items":       map[string]interface{}{"type": "string"},
			},
			"min_score": map[string]interface{}{
				"type":        "number",
				"description": "Drop results scoring below this threshold",
			},
		},
		Required: []string{"query"},
	}
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "qmd_search",
		Description: "Fast full-text (BM25) search over indexed Markdown collections",
		InputSchema: querySchema("Keyword search query"),
	}
}

func vectorSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "qmd_vector_search",
		Description: "Semantic similarity search over embedded Markdown chunks",
		InputSchema: querySchema("Natural language query"),
	}
}

func deepSearchTool() mcp.Tool {
	schema := querySchema("Natural language question; the engine expands, fuses, and reranks")
	props := schema.Properties
	props["context"] = map[string]interface{}{
		"type":        "string",
		"description": "Extra context to steer query expansion",
	}
	return mcp.Tool{
		Name:        "qmd_deep_search",
		Description: "Full hybrid retrieval pipeline: query expansion, BM25 + vector fan-out, rank fusion, LLM rerank",
		InputSchema: schema,
	}
}

func getTool() mcp.Tool {
	return mcp.Tool{
		Name:        "qmd_get",
		Description: "Fetch one indexed document by reference",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": map[string]interface{}{
					"type":        "string",
					"description": "Document reference: collection/path, qmd://collection/path, or #docid",
				},
			},
			Required: []string{"file"},
		},
	}
}

func multiGetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "qmd_multi_get",
		Description: "Fetch every document matching a glob or comma-separated pattern list",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob over collection-qualified paths, e.g. notes/**/*.md",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of documents",
				},
				"max_bytes": map[string]interface{}{
					"type":        "integer",
					"description": "Stop before the combined body size exceeds this many bytes",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

func statusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "qmd_status",
		Description: "Report index health, per-collection statistics, and provider availability",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
