package llm

import (
	"fmt"
	"os"
	"strings"
)

const rerankSystem = `You are a search result reranker. Follow the user's instructions exactly and output nothing but the requested lines.`

// defaultRerankPrompt is used when no rerank-prompt.txt override
// exists. {{query}} and {{documents}} are substituted literally.
const defaultRerankPrompt = `Rank the documents below by relevance to the query.

Query: {{query}}

Documents:
{{documents}}

For each relevant document output one line in the form
[index] short quote from the document that answers the query
ordered from most to least relevant. Skip irrelevant documents.
If none are relevant, output the single word NONE.`

// LoadRerankPrompt returns the prompt template, preferring a readable
// file at path over the embedded default.
func LoadRerankPrompt(path string) string {
	if path == "" {
		return defaultRerankPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return defaultRerankPrompt
	}
	return string(data)
}

// renderRerankPrompt fills the template with the query and a numbered
// document list.
func renderRerankPrompt(tmpl, query string, docs []string) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i, d)
	}
	out := strings.ReplaceAll(tmpl, "{{query}}", query)
	return strings.ReplaceAll(out, "{{documents}}", b.String())
}
