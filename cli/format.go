package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/quietmd/qmd"
	"github.com/quietmd/qmd/retrieval"
)

// resultItem is the stable output schema shared by every format.
type resultItem struct {
	DocID   string   `json:"docid,omitempty" xml:"docid,omitempty"`
	Score   float64  `json:"score" xml:"score"`
	File    string   `json:"file" xml:"file"`
	Title   string   `json:"title" xml:"title"`
	Context string   `json:"context,omitempty" xml:"context,omitempty"`
	AlsoIn  []string `json:"alsoIn,omitempty" xml:"alsoIn>file,omitempty"`
	Body    string   `json:"body,omitempty" xml:"body,omitempty"`
	Snippet string   `json:"snippet" xml:"snippet"`
}

type resultSet struct {
	XMLName xml.Name     `xml:"results"`
	Items   []resultItem `xml:"result"`
}

// buildItems attaches the resolved context and, with --full, the stored
// body to each result.
func buildItems(ctx context.Context, e *qmd.Engine, results []retrieval.Result, full bool) []resultItem {
	items := make([]resultItem, 0, len(results))
	for _, r := range results {
		item := resultItem{
			DocID:   r.DocID,
			Score:   r.Score,
			File:    r.File,
			Title:   r.Title,
			Context: e.Index.ResolveContext(r.Collection, r.Path),
			AlsoIn:  r.AlsoIn,
			Body:    r.Body,
			Snippet: r.Snippet,
		}
		if full && item.Body == "" {
			doc, err := e.Store.FindByDocID(ctx, r.DocID)
			if err == nil {
				body, err := e.Store.ContentBody(ctx, doc.Hash)
				if err == nil {
					item.Body = body
				}
			}
			if item.Body == "" {
				slog.Debug("body unavailable", "docid", r.DocID)
			}
		} else if !full {
			item.Body = ""
		}
		items = append(items, item)
	}
	return items
}

// printItems writes the result set to stdout in the selected format.
func printItems(items []resultItem) error {
	switch {
	case flagJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)

	case flagCSV:
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"docid", "score", "file", "title", "snippet"})
		for _, it := range items {
			w.Write([]string{it.DocID, strconv.FormatFloat(it.Score, 'f', 4, 64), it.File, it.Title, it.Snippet})
		}
		w.Flush()
		return w.Error()

	case flagMD:
		for _, it := range items {
			fmt.Printf("## %s\n\n", it.Title)
			fmt.Printf("- file: `%s`\n- score: %.4f\n", it.File, it.Score)
			if it.DocID != "" {
				fmt.Printf("- docid: `#%s`\n", it.DocID)
			}
			for _, also := range it.AlsoIn {
				fmt.Printf("- also in: `%s`\n", also)
			}
			if it.Context != "" {
				fmt.Printf("- context: %s\n", it.Context)
			}
			fmt.Println()
			if it.Body != "" {
				fmt.Println(it.Body)
			} else if it.Snippet != "" {
				fmt.Printf("> %s\n", strings.ReplaceAll(it.Snippet, "\n", " "))
			}
			fmt.Println()
		}
		return nil

	case flagXML:
		out, err := xml.MarshalIndent(resultSet{Items: items}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case flagFiles:
		for _, it := range items {
			fmt.Println(it.File)
		}
		return nil

	default:
		for i, it := range items {
			fmt.Printf("%d. [%.3f] %s", i+1, it.Score, it.File)
			if it.DocID != "" {
				fmt.Printf(" #%s", it.DocID)
			}
			fmt.Println()
			if it.Title != "" {
				fmt.Printf("   %s\n", it.Title)
			}
			for _, also := range it.AlsoIn {
				fmt.Printf("   also in %s\n", also)
			}
			if it.Snippet != "" {
				fmt.Printf("   %s\n", strings.ReplaceAll(it.Snippet, "\n", " "))
			}
			if it.Body != "" {
				fmt.Println()
				printBody(it.Body, 1)
			}
		}
		return nil
	}
}

// printBody writes a document body, optionally numbering lines starting
// at firstLine.
func printBody(body string, firstLine int) {
	if !flagLineNumbers {
		fmt.Println(body)
		return
	}
	for i, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
		fmt.Printf("%6d\t%s\n", firstLine+i, line)
	}
}
