// Command qmd indexes local Markdown collections and answers hybrid
// search queries over them.
//
// The store's full-text schema needs the FTS5 build tag:
//
//	go build -tags sqlite_fts5 ./cmd/qmd
//
// Usage:
//
//	qmd collection add ~/notes --name notes
//	qmd update
//	qmd embed
//	qmd query "how does the deploy pipeline work"
package main

import "github.com/quietmd/qmd/cli"

func main() {
	cli.Execute()
}
