package qmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/store"
)

// DocContent is one fetched document with its body and resolved context.
type DocContent struct {
	DocID      string `json:"docid,omitempty"`
	Collection string `json:"collection,omitempty"`
	Path       string `json:"path"`
	File       string `json:"file"`
	Title      string `json:"title"`
	Context    string `json:"context,omitempty"`
	Body       string `json:"body"`
}

// GetDoc resolves a file reference to a document. Accepted forms:
// "#docid" (6-char hash prefix), "qmd://collection/path",
// "collection/path", and plain filesystem paths as a fallback.
func (e *Engine) GetDoc(ctx context.Context, ref string) (*DocContent, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty file reference", ErrUsage)
	}

	if docid, ok := strings.CutPrefix(ref, "#"); ok {
		doc, err := e.Store.FindByDocID(ctx, docid)
		if err != nil {
			return nil, err
		}
		return e.docContent(ctx, doc)
	}

	virtual, isVirtual := strings.CutPrefix(ref, "qmd://")
	if collection, path, ok := strings.Cut(virtual, "/"); ok && collection != "" && path != "" {
		doc, err := e.Store.FindActiveDocument(ctx, collection, path)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return e.docContent(ctx, doc)
		}
		// An explicit qmd:// reference has no filesystem fallback.
		if isVirtual {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
	}

	body, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return &DocContent{
		Path:  ref,
		File:  ref,
		Title: chunker.Title(string(body), filepath.Base(ref)),
		Body:  string(body),
	}, nil
}

// MultiGet fetches every active document whose collection-qualified path
// matches the pattern, a glob or a comma-separated list of globs. limit
// caps the document count and maxBytes the total body bytes; zero means
// unbounded.
func (e *Engine) MultiGet(ctx context.Context, pattern string, limit int, maxBytes int64) ([]DocContent, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrUsage)
	}
	var globs []string
	for _, g := range strings.Split(pattern, ",") {
		g = strings.TrimPrefix(strings.TrimSpace(g), "qmd://")
		if g != "" {
			globs = append(globs, g)
		}
	}

	collections, err := e.Store.Collections(ctx)
	if err != nil {
		return nil, err
	}

	var out []DocContent
	var budget int64
	for _, collection := range collections {
		docs, err := e.Store.ListDocuments(ctx, collection, "")
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			file := doc.Collection + "/" + doc.Path
			if !matchAny(globs, file) {
				continue
			}
			dc, err := e.docContent(ctx, &doc)
			if err != nil {
				return nil, err
			}
			if maxBytes > 0 && budget+int64(len(dc.Body)) > maxBytes {
				return out, nil
			}
			budget += int64(len(dc.Body))
			out = append(out, *dc)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (e *Engine) docContent(ctx context.Context, doc *store.Document) (*DocContent, error) {
	body, err := e.Store.ContentBody(ctx, doc.Hash)
	if err != nil {
		return nil, err
	}
	return &DocContent{
		DocID:      chunker.DocID(doc.Hash),
		Collection: doc.Collection,
		Path:       doc.Path,
		File:       doc.Collection + "/" + doc.Path,
		Title:      doc.Title,
		Context:    e.Index.ResolveContext(doc.Collection, doc.Path),
		Body:       body,
	}, nil
}

func matchAny(globs []string, file string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, file); err == nil && ok {
			return true
		}
		if g == file {
			return true
		}
	}
	return false
}
