// Package store owns all persistent state of a QMD index: the SQLite
// schema, the FTS5 full-text index, and the sqlite-vec vector table.
// It is the only package that touches the database handle.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// The vec extension is statically linked; QMD_ALLOW_SQLITE_EXTENSIONS=0
	// keeps it unregistered, which makes all vector paths degrade to
	// ErrVectorUnavailable.
	if v := os.Getenv("QMD_ALLOW_SQLITE_EXTENSIONS"); v != "0" && v != "false" {
		sqlite_vec.Auto()
	}
}

// Document is a row of the documents table.
type Document struct {
	ID         int64     `json:"id"`
	Collection string    `json:"collection"`
	Path       string    `json:"path"`
	Title      string    `json:"title"`
	Hash       string    `json:"hash"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Active     bool      `json:"active"`
}

// ContentRow pairs a content hash with its body, for embedding.
type ContentRow struct {
	Hash string
	Body string
}

// IndexHealth summarises the freshness of the index.
type IndexHealth struct {
	NeedsEmbedding int `json:"needs_embedding"`
	TotalDocs      int `json:"total_docs"`
	DaysStale      int `json:"days_stale"`
}

// CollectionStats holds per-collection counts for the status command.
type CollectionStats struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Embedded   int    `json:"embedded"`
}

const (
	settingVecDim   = "vec_dim"
	settingVecModel = "vec_model"
)

// Store wraps the SQLite database for all QMD persistence. A single
// process holds the write handle; readers use short-lived snapshots.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the index database at dbPath and applies the
// schema and any pending migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, path: dbPath}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// --- Content operations ---

// InsertContent stores a content blob. Idempotent on hash.
func (s *Store) InsertContent(ctx context.Context, hash, body string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO content (hash, body, created_at) VALUES (?, ?, ?)",
		hash, body, now.UTC())
	if err != nil {
		return fmt.Errorf("inserting content: %w", err)
	}
	return nil
}

// ContentBody returns the body for a content hash.
func (s *Store) ContentBody(ctx context.Context, hash string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM content WHERE hash = ?", hash).Scan(&body)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return body, nil
}

// --- Document operations ---

// InsertDocument creates a new active document. Returns ErrConflict
// when an active row already exists for (collection, path).
func (s *Store) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE collection = ? AND path = ? AND active = 1",
			doc.Collection, doc.Path).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: %s/%s", ErrConflict, doc.Collection, doc.Path)
		}
		if err != sql.ErrNoRows {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, path, title, hash, created_at, modified_at, active)
			VALUES (?, ?, ?, ?, ?, ?, 1)
		`, doc.Collection, doc.Path, doc.Title, doc.Hash, doc.CreatedAt.UTC(), doc.ModifiedAt.UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return insertFTSRow(ctx, tx, id, doc.Hash, doc.Title, doc.Path)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindActiveDocument returns the active document at (collection, path),
// or nil when none exists.
func (s *Store) FindActiveDocument(ctx context.Context, collection, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, path, title, hash, created_at, modified_at, active
		FROM documents WHERE collection = ? AND path = ? AND active = 1
	`, collection, path)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	return doc, nil
}

// UpdateDocument points a document at new content, atomically refreshing
// the full-text row.
func (s *Store) UpdateDocument(ctx context.Context, id int64, title, hash string, modified time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var path string
		if err := tx.QueryRowContext(ctx,
			"SELECT path FROM documents WHERE id = ?", id).Scan(&path); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET title = ?, hash = ?, modified_at = ? WHERE id = ?",
			title, hash, modified.UTC(), id); err != nil {
			return err
		}
		if err := deleteFTSRow(ctx, tx, id); err != nil {
			return err
		}
		return insertFTSRow(ctx, tx, id, hash, title, path)
	})
}

// UpdateDocumentTitle refreshes only the title (the content hash is
// unchanged, e.g. the first heading was edited without changing bytes
// seen after normalization).
func (s *Store) UpdateDocumentTitle(ctx context.Context, id int64, title string, modified time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var path, hash string
		if err := tx.QueryRowContext(ctx,
			"SELECT path, hash FROM documents WHERE id = ?", id).Scan(&path, &hash); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET title = ?, modified_at = ? WHERE id = ?",
			title, modified.UTC(), id); err != nil {
			return err
		}
		if err := deleteFTSRow(ctx, tx, id); err != nil {
			return err
		}
		return insertFTSRow(ctx, tx, id, hash, title, path)
	})
}

// DeactivateDocument soft-deletes the active row at (collection, path).
// Reports whether a row changed.
func (s *Store) DeactivateDocument(ctx context.Context, collection, path string) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE collection = ? AND path = ? AND active = 1",
			collection, path).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET active = 0 WHERE id = ?", id); err != nil {
			return err
		}
		if err := deleteFTSRow(ctx, tx, id); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// ActivePaths returns the set of active paths in a collection.
func (s *Store) ActivePaths(ctx context.Context, collection string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM documents WHERE collection = ? AND active = 1", collection)
	if err != nil {
		return nil, fmt.Errorf("listing active paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// ListDocuments returns active documents, optionally filtered by
// collection and path prefix, ordered by (collection, path).
func (s *Store) ListDocuments(ctx context.Context, collection, prefix string) ([]Document, error) {
	query := `
		SELECT id, collection, path, title, hash, created_at, modified_at, active
		FROM documents WHERE active = 1`
	var args []interface{}
	if collection != "" {
		query += " AND collection = ?"
		args = append(args, collection)
	}
	if prefix != "" {
		query += " AND path LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY collection, path"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FindByDocID resolves a content-hash prefix to the newest active
// document referencing it.
func (s *Store) FindByDocID(ctx context.Context, docid string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, path, title, hash, created_at, modified_at, active
		FROM documents
		WHERE active = 1 AND hash LIKE ? || '%'
		ORDER BY modified_at DESC LIMIT 1
	`, docid)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving docid: %w", err)
	}
	return doc, nil
}

// Collections returns the distinct collection names present in the index.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM documents WHERE active = 1 ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// PurgeCollection hard-deletes every document of a collection (active
// and historical) together with its full-text rows.
func (s *Store) PurgeCollection(ctx context.Context, collection string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id FROM documents WHERE collection = ? AND active = 1", collection)
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
			if err := deleteFTSRow(ctx, tx, id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", collection)
		return err
	})
}

// RenameCollection moves every document row to a new collection name.
func (s *Store) RenameCollection(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET collection = ? WHERE collection = ?", to, from)
	if err != nil {
		return fmt.Errorf("renaming collection: %w", err)
	}
	return nil
}

// --- Embedding operations ---

// EnsureVecTable creates the vector table for the given dimension. When
// a table with a different dimension already exists, it fails with
// ErrDimensionMismatch: the caller must rebuild.
func (s *Store) EnsureVecTable(ctx context.Context, dim int) error {
	existing, err := s.setting(ctx, settingVecDim)
	if err != nil {
		return err
	}
	if existing != "" {
		if existing != fmt.Sprint(dim) {
			return fmt.Errorf("%w: index built with dimension %s, model produces %d",
				ErrDimensionMismatch, existing, dim)
		}
		return nil
	}

	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)", dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: creating vector table: %v", ErrVectorUnavailable, err)
	}
	return s.setSetting(ctx, settingVecDim, fmt.Sprint(dim))
}

// VecDim returns the on-disk vector dimension, 0 when no table exists.
func (s *Store) VecDim(ctx context.Context) (int, error) {
	v, err := s.setting(ctx, settingVecDim)
	if err != nil || v == "" {
		return 0, err
	}
	var dim int
	fmt.Sscanf(v, "%d", &dim)
	return dim, nil
}

// ClearEmbeddings drops the vector table and all embedding rows. Used by
// `embed -f` and by model/dimension changes.
func (s *Store) ClearEmbeddings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_embeddings"); err != nil {
		return fmt.Errorf("dropping vector table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key IN (?, ?)",
		settingVecDim, settingVecModel); err != nil {
		return fmt.Errorf("clearing vector settings: %w", err)
	}
	return nil
}

// HashesNeedingEmbedding returns content hashes referenced by active
// documents that have no vector for the given model.
func (s *Store) HashesNeedingEmbedding(ctx context.Context, model string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.hash FROM documents d
		WHERE d.active = 1
		  AND d.hash NOT IN (SELECT hash FROM embeddings WHERE model = ?)
		ORDER BY d.hash
	`, model)
	if err != nil {
		return nil, fmt.Errorf("selecting hashes needing embedding: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ContentForEmbedding returns hash+body rows for the given hashes,
// preserving input order.
func (s *Store) ContentForEmbedding(ctx context.Context, hashes []string) ([]ContentRow, error) {
	out := make([]ContentRow, 0, len(hashes))
	for _, h := range hashes {
		body, err := s.ContentBody(ctx, h)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, ContentRow{Hash: h, Body: body})
	}
	return out, nil
}

// InsertEmbedding stores one chunk vector keyed by (hash, seq).
func (s *Store) InsertEmbedding(ctx context.Context, hash string, seq, pos int, vector []float32, model string, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (hash, seq, pos, model, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(hash, seq) DO UPDATE SET
				pos = excluded.pos,
				model = excluded.model,
				created_at = excluded.created_at
		`, hash, seq, pos, model, now.UTC())
		if err != nil {
			return err
		}
		// last_insert_rowid is stale on the DO UPDATE path, so the row id
		// is always read back.
		var id int64
		row := tx.QueryRowContext(ctx,
			"SELECT id FROM embeddings WHERE hash = ? AND seq = ?", hash, seq)
		if err := row.Scan(&id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_embeddings (rowid, embedding) VALUES (?, ?)",
			id, serializeFloat32(vector))
		return err
	})
}

// --- Health / stats ---

// Health reports index freshness for status and doctor-style checks.
func (s *Store) Health(ctx context.Context, model string) (*IndexHealth, error) {
	h := &IndexHealth{}

	needing, err := s.HashesNeedingEmbedding(ctx, model)
	if err != nil {
		return nil, err
	}
	h.NeedsEmbedding = len(needing)

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE active = 1").Scan(&h.TotalDocs); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	// MAX() strips the column's type affinity under mattn/go-sqlite3, so
	// the newest timestamp is read as a plain column instead.
	var newest time.Time
	err = s.db.QueryRowContext(ctx,
		"SELECT modified_at FROM documents WHERE active = 1 ORDER BY modified_at DESC LIMIT 1").Scan(&newest)
	switch {
	case err == sql.ErrNoRows:
		// Empty index, nothing to report.
	case err != nil:
		return nil, fmt.Errorf("reading index age: %w", err)
	default:
		h.DaysStale = int(time.Since(newest).Hours() / 24)
	}
	return h, nil
}

// StatsByCollection returns document and embedding-coverage counts per
// collection.
func (s *Store) StatsByCollection(ctx context.Context, model string) ([]CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.collection,
			COUNT(*),
			SUM(CASE WHEN d.hash IN (SELECT hash FROM embeddings WHERE model = ?) THEN 1 ELSE 0 END)
		FROM documents d WHERE d.active = 1
		GROUP BY d.collection ORDER BY d.collection
	`, model)
	if err != nil {
		return nil, fmt.Errorf("collecting stats: %w", err)
	}
	defer rows.Close()

	var stats []CollectionStats
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.Collection, &cs.Documents, &cs.Embedded); err != nil {
			return nil, err
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// insertFTSRow indexes body+title+path for a document, resolving the
// body through the content table.
func insertFTSRow(ctx context.Context, tx *sql.Tx, id int64, hash, title, path string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents_fts (rowid, body, title, path)
		SELECT ?, body, ?, ? FROM content WHERE hash = ?
	`, id, title, path, hash)
	return err
}

func deleteFTSRow(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE rowid = ?", id)
	return err
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var active int
	if err := row.Scan(&d.ID, &d.Collection, &d.Path, &d.Title, &d.Hash,
		&d.CreatedAt, &d.ModifiedAt, &active); err != nil {
		return nil, err
	}
	d.Active = active == 1
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var active int
		if err := rows.Scan(&d.ID, &d.Collection, &d.Path, &d.Title, &d.Hash,
			&d.CreatedAt, &d.ModifiedAt, &active); err != nil {
			return nil, err
		}
		d.Active = active == 1
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
