//go:build cgo

package qmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigDir = dir
	cfg.DataDir = dir
	cfg.IndexName = "test"

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func seedDoc(t *testing.T, e *Engine, collection, path, title, body string) string {
	t.Helper()
	ctx := context.Background()
	h := chunker.Hash(body)
	require.NoError(t, e.Store.InsertContent(ctx, h, body, time.Now()))
	_, err := e.Store.InsertDocument(ctx, store.Document{
		Collection: collection, Path: path, Title: title, Hash: h,
		CreatedAt: time.Now(), ModifiedAt: time.Now(),
	})
	require.NoError(t, err)
	return chunker.DocID(h)
}

func TestGetDocByVirtualPath(t *testing.T) {
	e := newTestEngine(t)
	seedDoc(t, e, "notes", "go/channels.md", "Channels", "# Channels\n\nShare memory by communicating.")
	e.Index.Contexts["notes"] = "personal notes"

	for _, ref := range []string{"qmd://notes/go/channels.md", "notes/go/channels.md"} {
		doc, err := e.GetDoc(context.Background(), ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "notes/go/channels.md", doc.File)
		assert.Equal(t, "Channels", doc.Title)
		assert.Equal(t, "personal notes", doc.Context)
		assert.Contains(t, doc.Body, "Share memory")
	}
}

func TestGetDocByDocID(t *testing.T) {
	e := newTestEngine(t)
	docid := seedDoc(t, e, "notes", "a.md", "A", "alpha body")

	doc, err := e.GetDoc(context.Background(), "#"+docid)
	require.NoError(t, err)
	assert.Equal(t, docid, doc.DocID)
	assert.Equal(t, "alpha body", doc.Body)

	_, err = e.GetDoc(context.Background(), "#ffffff")
	assert.Error(t, err)
}

func TestGetDocFilesystemFallback(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "loose.md")
	require.NoError(t, os.WriteFile(path, []byte("# Loose File\n\ncontent"), 0o644))

	doc, err := e.GetDoc(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Loose File", doc.Title)
	assert.Empty(t, doc.DocID)

	// An explicit qmd:// reference never falls back to the filesystem.
	_, err = e.GetDoc(context.Background(), "qmd://nope/missing.md")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestGetDocMissing(t *testing.T) {
	e := newTestEngine(t)
	seedDoc(t, e, "notes", "a.md", "A", "alpha body")
	ctx := context.Background()

	// Unindexed references resolve cleanly to ErrNotFound, whether the
	// first segment looks like a collection or not.
	for _, ref := range []string{
		"qmd://notes/missing.md",
		"notes/missing.md",
		"ghost/also/missing.md",
		"/absolute/but/absent.md",
	} {
		_, err := e.GetDoc(ctx, ref)
		assert.True(t, errors.Is(err, ErrNotFound), "ref %q: got %v", ref, err)
	}
}

func TestMultiGetPatterns(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedDoc(t, e, "notes", "go/a.md", "A", "aaa")
	seedDoc(t, e, "notes", "go/b.md", "B", "bbb")
	seedDoc(t, e, "notes", "misc.md", "Misc", "mmm")
	seedDoc(t, e, "work", "plan.md", "Plan", "ppp")

	docs, err := e.MultiGet(ctx, "notes/go/**", 0, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// Comma-separated patterns union their matches.
	docs, err = e.MultiGet(ctx, "notes/misc.md, work/*.md", 0, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = e.MultiGet(ctx, "**/*.md", 3, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	// The byte budget stops before the document that would exceed it.
	docs, err = e.MultiGet(ctx, "notes/go/*.md", 0, 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = e.MultiGet(ctx, "  ", 0, 0)
	assert.Error(t, err)
}
