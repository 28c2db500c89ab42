package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CleanupStats reports what a maintenance pass removed.
type CleanupStats struct {
	InactiveDocs    int64 `json:"inactive_docs"`
	OrphanedContent int64 `json:"orphaned_content"`
	OrphanedVectors int64 `json:"orphaned_vectors"`
	CacheEntries    int64 `json:"cache_entries"`
}

// DeleteInactiveDocuments hard-deletes documents that were soft-deleted
// by deactivation. Their full-text rows were already removed at
// deactivation time.
func (s *Store) DeleteInactiveDocuments(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE active = 0")
	if err != nil {
		return 0, fmt.Errorf("deleting inactive documents: %w", err)
	}
	return res.RowsAffected()
}

// CleanupOrphanedContent removes content blobs no document references.
func (s *Store) CleanupOrphanedContent(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM content WHERE hash NOT IN (SELECT hash FROM documents)")
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned content: %w", err)
	}
	return res.RowsAffected()
}

// CleanupOrphanedVectors removes embedding rows (and their vectors)
// whose content is no longer referenced by any active document.
func (s *Store) CleanupOrphanedVectors(ctx context.Context) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM embeddings
			WHERE hash NOT IN (SELECT hash FROM documents WHERE active = 1)
		`)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			// The vec table may be absent when embeddings were cleared.
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM vec_embeddings WHERE rowid = ?", id); err != nil {
				if !isMissingVecTable(err) {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM embeddings WHERE id = ?", id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Cleanup runs the full maintenance pass: drop historical document
// rows, then content and vectors nothing references, then the LLM
// cache, and finally compacts the file.
func (s *Store) Cleanup(ctx context.Context) (*CleanupStats, error) {
	stats := &CleanupStats{}
	var err error

	if stats.InactiveDocs, err = s.DeleteInactiveDocuments(ctx); err != nil {
		return nil, err
	}
	if stats.OrphanedContent, err = s.CleanupOrphanedContent(ctx); err != nil {
		return nil, err
	}
	if stats.OrphanedVectors, err = s.CleanupOrphanedVectors(ctx); err != nil {
		return nil, err
	}
	if stats.CacheEntries, err = s.ClearCache(ctx); err != nil {
		return nil, err
	}
	if err = s.Vacuum(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	return nil
}

// --- LLM response cache ---

// cacheTTL bounds how long a cached LLM response stays valid.
const cacheTTL = 14 * 24 * time.Hour

// CacheGet returns a cached LLM response, or "" when absent or expired.
func (s *Store) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT value, created_at FROM llm_cache WHERE key = ?", key).Scan(&value, &created)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache: %w", err)
	}
	if time.Since(created) > cacheTTL {
		return "", false, nil
	}
	return value, true, nil
}

// CachePut stores an LLM response under its request key.
func (s *Store) CachePut(ctx context.Context, key, value string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_cache (key, value, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at
	`, key, value, now.UTC())
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// ClearCache drops every cached LLM response.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM llm_cache")
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	return res.RowsAffected()
}

func isMissingVecTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table: vec_embeddings") ||
		strings.Contains(msg, "no such module: vec0")
}
