// Package ingest reconciles a collection's filesystem state with the
// store: new and changed files are (re)indexed, vanished files are
// deactivated, and unreferenced content is cleaned up.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/store"
)

// Skip reasons counted in the summary.
const (
	SkipSymlinkEscape = "symlink_escape"
	SkipTooLarge      = "too_large"
	SkipBinary        = "binary"
	SkipUnreadable    = "unreadable"
)

// DefaultMaxFileBytes bounds the size of an indexable file.
const DefaultMaxFileBytes = int64(64 << 20)

// Options parameterizes one collection sync.
type Options struct {
	Collection   string
	Root         string
	Mask         string
	MaxFileBytes int64

	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
}

// Summary reports what one sync pass did.
type Summary struct {
	Collection  string         `json:"collection"`
	Seen        int            `json:"seen"`
	Added       int            `json:"added"`
	Updated     int            `json:"updated"`
	TitleOnly   int            `json:"title_only"`
	Unchanged   int            `json:"unchanged"`
	Deactivated int            `json:"deactivated"`
	Skipped     map[string]int `json:"skipped,omitempty"`
}

func (s *Summary) skip(reason string) {
	if s.Skipped == nil {
		s.Skipped = make(map[string]int)
	}
	s.Skipped[reason]++
}

// Ingester syncs collections into a store.
type Ingester struct {
	store *store.Store
}

func New(st *store.Store) *Ingester {
	return &Ingester{store: st}
}

// Sync walks the collection root and reconciles every matching file.
// Each document's reconciliation is atomic; a failure aborts the pass
// and leaves already-reconciled documents valid.
func (in *Ingester) Sync(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Collection == "" || opts.Root == "" {
		return nil, fmt.Errorf("ingest: collection and root are required")
	}
	if opts.Mask == "" {
		opts.Mask = "**/*.md"
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolving root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolving root: %w", err)
	}

	candidates, err := walk(root, opts.Mask)
	if err != nil {
		return nil, fmt.Errorf("ingest: walking %s: %w", root, err)
	}

	sum := &Summary{Collection: opts.Collection}
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		real, err := filepath.EvalSymlinks(c.absPath)
		if err != nil {
			sum.skip(SkipUnreadable)
			continue
		}
		if !underRoot(realRoot, real) {
			slog.Warn("ingest: symlink escapes collection root", "path", c.relPath)
			sum.skip(SkipSymlinkEscape)
			continue
		}
		if c.size > opts.MaxFileBytes {
			slog.Warn("ingest: file exceeds size limit", "path", c.relPath, "size", c.size)
			sum.skip(SkipTooLarge)
			continue
		}

		raw, err := os.ReadFile(c.absPath)
		if err != nil {
			sum.skip(SkipUnreadable)
			continue
		}
		if bytes.IndexByte(raw, 0) >= 0 {
			sum.skip(SkipBinary)
			continue
		}
		if !utf8.Valid(raw) {
			sum.skip(SkipUnreadable)
			continue
		}
		body := string(raw)
		if strings.TrimSpace(body) == "" {
			continue
		}

		docPath := normalizePath(c.relPath, seen)
		seen[docPath] = true
		sum.Seen++

		mtime := now()
		if info, err := os.Stat(c.absPath); err == nil {
			mtime = info.ModTime()
		}

		if err := in.reconcile(ctx, opts.Collection, docPath, c.relPath, body, mtime, now(), sum); err != nil {
			return nil, fmt.Errorf("ingest: reconciling %s: %w", docPath, err)
		}
	}

	// Anything active that the walk did not see has vanished.
	active, err := in.store.ActivePaths(ctx, opts.Collection)
	if err != nil {
		return nil, err
	}
	for p := range active {
		if seen[p] {
			continue
		}
		changed, err := in.store.DeactivateDocument(ctx, opts.Collection, p)
		if err != nil {
			return nil, fmt.Errorf("ingest: deactivating %s: %w", p, err)
		}
		if changed {
			sum.Deactivated++
		}
	}

	if _, err := in.store.CleanupOrphanedContent(ctx); err != nil {
		return nil, err
	}
	return sum, nil
}

// reconcile applies the per-document state machine. Content insertion
// is idempotent and safe to run before the document mutation; a crash
// in between leaves only orphaned content, removed by cleanup.
func (in *Ingester) reconcile(ctx context.Context, collection, docPath, relPath, body string, mtime, now time.Time, sum *Summary) error {
	hash := chunker.Hash(body)
	title := chunker.Title(body, relPath)

	existing, err := in.store.FindActiveDocument(ctx, collection, docPath)
	if err != nil {
		return err
	}

	switch {
	case existing == nil:
		if err := in.store.InsertContent(ctx, hash, body, now); err != nil {
			return err
		}
		_, err := in.store.InsertDocument(ctx, store.Document{
			Collection: collection,
			Path:       docPath,
			Title:      title,
			Hash:       hash,
			CreatedAt:  mtime,
			ModifiedAt: mtime,
		})
		if err != nil {
			return err
		}
		sum.Added++

	case existing.Hash == hash && existing.Title == title:
		sum.Unchanged++

	case existing.Hash == hash:
		if err := in.store.UpdateDocumentTitle(ctx, existing.ID, title, mtime); err != nil {
			return err
		}
		sum.TitleOnly++

	default:
		if err := in.store.InsertContent(ctx, hash, body, now); err != nil {
			return err
		}
		if err := in.store.UpdateDocument(ctx, existing.ID, title, hash, mtime); err != nil {
			return err
		}
		sum.Updated++
	}
	return nil
}

// underRoot reports whether real is root itself or below it. The
// comparison is case-folded for case-insensitive filesystems.
func underRoot(root, real string) bool {
	root = strings.ToLower(filepath.ToSlash(root))
	real = strings.ToLower(filepath.ToSlash(real))
	return real == root || strings.HasPrefix(real, root+"/")
}

// normalizePath produces the stable document path for a relative file
// path: slash-separated and cleaned. A collision with an already-seen
// path falls back to the raw relative path, then to ~N suffixes.
func normalizePath(rel string, seen map[string]bool) string {
	p := path.Clean(filepath.ToSlash(rel))
	if !seen[p] {
		return p
	}
	raw := filepath.ToSlash(rel)
	if raw != p && !seen[raw] {
		return raw
	}
	for n := 1; ; n++ {
		alt := fmt.Sprintf("%s~%d", p, n)
		if !seen[alt] {
			return alt
		}
	}
}
