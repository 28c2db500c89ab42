package qmd

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCollectionDerivesName(t *testing.T) {
	f := &IndexFile{Contexts: map[string]string{}}

	col, err := f.AddCollection(Collection{Path: "/home/me/notes"})
	require.NoError(t, err)
	assert.Equal(t, "notes", col.Name)
	assert.Equal(t, "**/*.md", col.GlobMask())

	// Same basename, different path: the name gets a numeric suffix.
	col2, err := f.AddCollection(Collection{Path: "/srv/shared/notes"})
	require.NoError(t, err)
	assert.Equal(t, "notes-2", col2.Name)
}

func TestAddCollectionRejectsDuplicateIdentity(t *testing.T) {
	f := &IndexFile{Contexts: map[string]string{}}

	_, err := f.AddCollection(Collection{Name: "a", Path: "/data/docs"})
	require.NoError(t, err)

	// Identity is (path, mask), regardless of name.
	_, err = f.AddCollection(Collection{Name: "b", Path: "/data/docs"})
	assert.True(t, errors.Is(err, ErrConflict))

	// A different mask over the same path is a distinct collection.
	_, err = f.AddCollection(Collection{Name: "b", Path: "/data/docs", Mask: "**/*.txt"})
	assert.NoError(t, err)
}

func TestRemoveCollectionDropsScopedContexts(t *testing.T) {
	f := &IndexFile{Contexts: map[string]string{
		"/":          "global",
		"notes":      "collection scope",
		"notes/sub":  "subtree",
		"notebook/a": "unrelated, shares prefix text",
		"other/x.md": "other",
	}}
	_, err := f.AddCollection(Collection{Name: "notes", Path: "/n"})
	require.NoError(t, err)

	require.NoError(t, f.RemoveCollection("notes"))
	assert.Empty(t, f.Collections)

	// Only contexts under notes/ go away; "notebook" survives.
	assert.NotContains(t, f.Contexts, "notes")
	assert.NotContains(t, f.Contexts, "notes/sub")
	assert.Contains(t, f.Contexts, "notebook/a")
	assert.Contains(t, f.Contexts, "/")

	assert.True(t, errors.Is(f.RemoveCollection("gone"), ErrNotFound))
}

func TestRenameCollectionRewritesContexts(t *testing.T) {
	f := &IndexFile{Contexts: map[string]string{
		"old":          "root",
		"old/sub/a.md": "leaf",
		"older/x":      "untouched",
	}}
	_, err := f.AddCollection(Collection{Name: "old", Path: "/o"})
	require.NoError(t, err)
	_, err = f.AddCollection(Collection{Name: "taken", Path: "/t"})
	require.NoError(t, err)

	assert.True(t, errors.Is(f.RenameCollection("old", "taken"), ErrConflict))
	assert.True(t, errors.Is(f.RenameCollection("missing", "new"), ErrNotFound))

	require.NoError(t, f.RenameCollection("old", "new"))
	col, err := f.Collection("new")
	require.NoError(t, err)
	assert.Equal(t, "/o", col.Path)

	assert.Equal(t, "root", f.Contexts["new"])
	assert.Equal(t, "leaf", f.Contexts["new/sub/a.md"])
	assert.Equal(t, "untouched", f.Contexts["older/x"])
	assert.NotContains(t, f.Contexts, "old")
}

func TestResolveContextSpecificity(t *testing.T) {
	f := &IndexFile{Contexts: map[string]string{
		"/":               "global",
		"notes":           "collection",
		"notes/work":      "subtree",
		"notes/work/a.md": "exact",
	}}

	assert.Equal(t, "exact", f.ResolveContext("notes", "work/a.md"))
	assert.Equal(t, "subtree", f.ResolveContext("notes", "work/b.md"))
	assert.Equal(t, "subtree", f.ResolveContext("notes", "work/deep/c.md"))
	assert.Equal(t, "collection", f.ResolveContext("notes", "other.md"))
	assert.Equal(t, "global", f.ResolveContext("journal", "day.md"))

	empty := &IndexFile{Contexts: map[string]string{}}
	assert.Equal(t, "", empty.ResolveContext("notes", "a.md"))
}

func TestIndexFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.yml")

	f := &IndexFile{Contexts: map[string]string{"/": "global"}}
	_, err := f.AddCollection(Collection{Name: "notes", Path: "/n", Mask: "**/*.md", Update: "git pull"})
	require.NoError(t, err)
	require.NoError(t, f.Save(path))

	loaded, err := LoadIndexFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.Collections, loaded.Collections)
	assert.Equal(t, f.Contexts, loaded.Contexts)
}

func TestLoadIndexFileMissing(t *testing.T) {
	f, err := LoadIndexFile(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Empty(t, f.Collections)
	assert.NotNil(t, f.Contexts)
}
