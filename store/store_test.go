//go:build cgo

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func hashOf(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// addDoc inserts a content blob plus an active document pointing at it.
func addDoc(t *testing.T, s *Store, collection, path, title, body string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	h := hashOf(body)
	if err := s.InsertContent(ctx, h, body, now); err != nil {
		t.Fatalf("inserting content: %v", err)
	}
	id, err := s.InsertDocument(ctx, Document{
		Collection: collection,
		Path:       path,
		Title:      title,
		Hash:       h,
		CreatedAt:  now,
		ModifiedAt: now,
	})
	if err != nil {
		t.Fatalf("inserting document: %v", err)
	}
	return id, h
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestOpenCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "index.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening store in nested dir: %v", err)
	}
	s.Close()
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate pass: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Content / documents
// ---------------------------------------------------------------------------

func TestInsertContentIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	h := hashOf("hello")
	for i := 0; i < 2; i++ {
		if err := s.InsertContent(ctx, h, "hello", time.Now()); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	body, err := s.ContentBody(ctx, h)
	if err != nil {
		t.Fatalf("reading content: %v", err)
	}
	if body != "hello" {
		t.Fatalf("got body %q", body)
	}
}

func TestContentBodyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ContentBody(context.Background(), "deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDocumentConflict(t *testing.T) {
	s := newTestStore(t)
	addDoc(t, s, "notes", "a.md", "A", "body one")

	ctx := context.Background()
	h := hashOf("body two")
	if err := s.InsertContent(ctx, h, "body two", time.Now()); err != nil {
		t.Fatal(err)
	}
	_, err := s.InsertDocument(ctx, Document{
		Collection: "notes", Path: "a.md", Title: "A2", Hash: h,
		CreatedAt: time.Now(), ModifiedAt: time.Now(),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeactivateThenReinsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addDoc(t, s, "notes", "a.md", "A", "first body")

	changed, err := s.DeactivateDocument(ctx, "notes", "a.md")
	if err != nil || !changed {
		t.Fatalf("deactivate: changed=%v err=%v", changed, err)
	}
	// Second deactivation is a no-op.
	changed, err = s.DeactivateDocument(ctx, "notes", "a.md")
	if err != nil || changed {
		t.Fatalf("repeat deactivate: changed=%v err=%v", changed, err)
	}

	// The partial unique index only covers active rows, so a new active
	// row may coexist with the historical one.
	addDoc(t, s, "notes", "a.md", "A again", "second body")

	doc, err := s.FindActiveDocument(ctx, "notes", "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc.Title != "A again" {
		t.Fatalf("unexpected active doc: %+v", doc)
	}
}

func TestUpdateDocumentRefreshesFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := addDoc(t, s, "notes", "a.md", "A", "ancient wisdom of turtles")

	newBody := "modern science of rockets"
	h := hashOf(newBody)
	if err := s.InsertContent(ctx, h, newBody, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocument(ctx, id, "A", h, time.Now()); err != nil {
		t.Fatalf("updating document: %v", err)
	}

	hits, err := s.SearchFTS(ctx, "turtles", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("stale fts row still matches: %+v", hits)
	}
	hits, err = s.SearchFTS(ctx, "rockets", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit for new body, got %d", len(hits))
	}
}

func TestFindByDocIDPrefersNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	body := "shared content body"
	h := hashOf(body)
	if err := s.InsertContent(ctx, h, body, time.Now()); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if _, err := s.InsertDocument(ctx, Document{
		Collection: "notes", Path: "old.md", Title: "Old", Hash: h,
		CreatedAt: old, ModifiedAt: old,
	}); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if _, err := s.InsertDocument(ctx, Document{
		Collection: "notes", Path: "new.md", Title: "New", Hash: h,
		CreatedAt: now, ModifiedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	doc, err := s.FindByDocID(ctx, h[:6])
	if err != nil {
		t.Fatal(err)
	}
	if doc.Path != "new.md" {
		t.Fatalf("expected newest doc, got %s", doc.Path)
	}
}

func TestFindByDocIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindByDocID(context.Background(), "ffffff")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// FTS query builder
// ---------------------------------------------------------------------------

func TestBuildFTSQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"a", ""},
		{"hello", `"hello"`},
		{"hello world", `("hello world") OR NEAR("hello" "world", 10) OR ("hello" OR "world")`},
		// Punctuation is stripped; operator words are quoted literals.
		{`"quoted" AND (stuff)`, `("quoted AND stuff") OR NEAR("quoted" "AND" "stuff", 10) OR ("quoted" OR "AND" OR "stuff")`},
		{"don't panic", `("don't panic") OR NEAR("don't" "panic", 10) OR ("don't" OR "panic")`},
		{"x y z", ""},
	}
	for _, c := range cases {
		if got := BuildFTSQuery(c.in); got != c.want {
			t.Errorf("BuildFTSQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeBM25(t *testing.T) {
	// Larger magnitudes map to higher scores; everything stays in (0,1).
	low := NormalizeBM25(-1)
	high := NormalizeBM25(-20)
	if !(low > 0 && low < high && high < 1) {
		t.Fatalf("ordering violated: low=%f high=%f", low, high)
	}
	mid := NormalizeBM25(-5)
	if math.Abs(mid-0.5) > 1e-9 {
		t.Fatalf("|s|=5 should map to 0.5, got %f", mid)
	}
}

// ---------------------------------------------------------------------------
// FTS search
// ---------------------------------------------------------------------------

func TestSearchFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addDoc(t, s, "notes", "go.md", "Go Notes", "goroutines and channels make concurrency simple")
	addDoc(t, s, "notes", "py.md", "Py Notes", "generators and asyncio in python")
	addDoc(t, s, "work", "mtg.md", "Meeting", "concurrency discussion with the platform team")

	hits, err := s.SearchFTS(ctx, "concurrency", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score >= 1 {
			t.Errorf("score out of range: %f", h.Score)
		}
		if len(h.DocID) != 6 {
			t.Errorf("docid length %d", len(h.DocID))
		}
	}

	// Collection filter is a union; unknown names warn but never fail.
	hits, err = s.SearchFTS(ctx, "concurrency", 10, []string{"work", "nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Collection != "work" {
		t.Fatalf("filter mismatch: %+v", hits)
	}
}

func TestSearchFTSEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.SearchFTS(context.Background(), "!!! ???", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Fatalf("expected no results for unmatchable query, got %+v", hits)
	}
}

func TestSearchFTSExcludesDeactivated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addDoc(t, s, "notes", "a.md", "A", "unmistakable zanzibar keyword")

	if _, err := s.DeactivateDocument(ctx, "notes", "a.md"); err != nil {
		t.Fatal(err)
	}
	hits, err := s.SearchFTS(ctx, "zanzibar", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("deactivated doc still searchable: %+v", hits)
	}
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

func TestVecLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No table yet.
	if _, err := s.SearchVec(ctx, []float32{1, 0, 0, 0}, "m", 5, nil); !errors.Is(err, ErrVectorUnavailable) {
		t.Fatalf("expected ErrVectorUnavailable, got %v", err)
	}

	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatalf("creating vec table: %v", err)
	}
	// Same dim is a no-op; different dim refuses.
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatalf("re-ensuring vec table: %v", err)
	}
	if err := s.EnsureVecTable(ctx, 8); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	_, h := addDoc(t, s, "notes", "a.md", "A", "vector test body")
	if err := s.InsertEmbedding(ctx, h, 0, 0, []float32{1, 0, 0, 0}, "m", time.Now()); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}
	if err := s.InsertEmbedding(ctx, h, 1, 120, []float32{0, 1, 0, 0}, "m", time.Now()); err != nil {
		t.Fatalf("inserting second embedding: %v", err)
	}

	hits, err := s.SearchVec(ctx, []float32{1, 0, 0, 0}, "m", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 chunk hits, got %d", len(hits))
	}
	if hits[0].Seq != 0 {
		t.Fatalf("nearest chunk should be seq 0, got %d", hits[0].Seq)
	}
	if hits[0].Score < 0.99 {
		t.Fatalf("identical vector should score ~1, got %f", hits[0].Score)
	}

	// Query dimension is validated up front.
	if _, err := s.SearchVec(ctx, []float32{1, 0}, "m", 5, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestInsertEmbeddingUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatal(err)
	}
	_, h1 := addDoc(t, s, "notes", "a.md", "A", "first body")
	_, h2 := addDoc(t, s, "notes", "b.md", "B", "second body")

	if err := s.InsertEmbedding(ctx, h1, 0, 0, []float32{1, 0, 0, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}
	// An unrelated insert advances last_insert_rowid before the upsert.
	if err := s.InsertEmbedding(ctx, h2, 0, 0, []float32{0, 1, 0, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}
	// Re-embedding (h1, 0) must overwrite h1's vector slot, not drift
	// onto another rowid.
	if err := s.InsertEmbedding(ctx, h1, 0, 0, []float32{0, 0, 1, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchVec(ctx, []float32{0, 0, 1, 0}, "m", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Path != "a.md" || hits[0].Score < 0.99 {
		t.Fatalf("new vector must live under a.md: %+v", hits)
	}

	// b.md's vector is untouched and the old h1 vector is gone.
	hits, err = s.SearchVec(ctx, []float32{0, 1, 0, 0}, "m", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Path != "b.md" || hits[0].Score < 0.99 {
		t.Fatalf("b.md vector must survive: %+v", hits)
	}
	hits, err = s.SearchVec(ctx, []float32{1, 0, 0, 0}, "m", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Score > 0.99 {
			t.Fatalf("replaced vector still present: %+v", h)
		}
	}
}

func TestClearEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatal(err)
	}
	_, h := addDoc(t, s, "notes", "a.md", "A", "clear me")
	if err := s.InsertEmbedding(ctx, h, 0, 0, []float32{0, 0, 1, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearEmbeddings(ctx); err != nil {
		t.Fatalf("clearing embeddings: %v", err)
	}
	dim, err := s.VecDim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if dim != 0 {
		t.Fatalf("dim should be reset, got %d", dim)
	}
	// A different dimension is fine after a clear.
	if err := s.EnsureVecTable(ctx, 8); err != nil {
		t.Fatalf("rebuilding with new dim: %v", err)
	}
}

func TestHashesNeedingEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatal(err)
	}
	_, h1 := addDoc(t, s, "notes", "a.md", "A", "first")
	_, h2 := addDoc(t, s, "notes", "b.md", "B", "second")

	if err := s.InsertEmbedding(ctx, h1, 0, 0, []float32{1, 0, 0, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}
	need, err := s.HashesNeedingEmbedding(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(need) != 1 || need[0] != h2 {
		t.Fatalf("expected only %s, got %v", h2[:8], need)
	}
	// A different model sees everything as pending.
	need, err = s.HashesNeedingEmbedding(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(need) != 2 {
		t.Fatalf("expected 2 pending for other model, got %d", len(need))
	}
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatal(err)
	}

	_, h := addDoc(t, s, "notes", "a.md", "A", "soon to be orphaned")
	if err := s.InsertEmbedding(ctx, h, 0, 0, []float32{0, 1, 0, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}
	addDoc(t, s, "notes", "keep.md", "Keep", "survivor")
	if _, err := s.DeactivateDocument(ctx, "notes", "a.md"); err != nil {
		t.Fatal(err)
	}
	if err := s.CachePut(ctx, "k", "v", time.Now()); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.InactiveDocs != 1 {
		t.Errorf("inactive docs: got %d", stats.InactiveDocs)
	}
	if stats.OrphanedContent != 1 {
		t.Errorf("orphaned content: got %d", stats.OrphanedContent)
	}
	if stats.OrphanedVectors != 1 {
		t.Errorf("orphaned vectors: got %d", stats.OrphanedVectors)
	}
	if stats.CacheEntries != 1 {
		t.Errorf("cache entries: got %d", stats.CacheEntries)
	}

	if _, err := s.ContentBody(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphaned content should be gone, got %v", err)
	}
	if _, err := s.ContentBody(ctx, hashOf("survivor")); err != nil {
		t.Fatalf("referenced content should survive: %v", err)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.CacheGet(ctx, "absent"); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}
	if err := s.CachePut(ctx, "k", "v1", time.Now()); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.CacheGet(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("got %q ok=%v err=%v", v, ok, err)
	}
	// Overwrite.
	if err := s.CachePut(ctx, "k", "v2", time.Now()); err != nil {
		t.Fatal(err)
	}
	v, _, _ = s.CacheGet(ctx, "k")
	if v != "v2" {
		t.Fatalf("got %q after overwrite", v)
	}
	// Expired entries read as misses.
	if err := s.CachePut(ctx, "old", "stale", time.Now().Add(-15*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.CacheGet(ctx, "old"); ok {
		t.Fatal("expired entry should miss")
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestHealthAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureVecTable(ctx, 4); err != nil {
		t.Fatal(err)
	}
	_, h1 := addDoc(t, s, "notes", "a.md", "A", "alpha")
	addDoc(t, s, "work", "b.md", "B", "beta")
	if err := s.InsertEmbedding(ctx, h1, 0, 0, []float32{1, 0, 0, 0}, "m", time.Now()); err != nil {
		t.Fatal(err)
	}

	health, err := s.Health(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if health.TotalDocs != 2 || health.NeedsEmbedding != 1 {
		t.Fatalf("health mismatch: %+v", health)
	}

	stats, err := s.StatsByCollection(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(stats))
	}
	if stats[0].Collection != "notes" || stats[0].Embedded != 1 {
		t.Fatalf("notes stats mismatch: %+v", stats[0])
	}
	if stats[1].Collection != "work" || stats[1].Embedded != 0 {
		t.Fatalf("work stats mismatch: %+v", stats[1])
	}
}

func TestPurgeCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addDoc(t, s, "gone", "a.md", "A", "purge target content")
	addDoc(t, s, "stay", "b.md", "B", "permanent content")

	if err := s.PurgeCollection(ctx, "gone"); err != nil {
		t.Fatalf("purging: %v", err)
	}
	docs, err := s.ListDocuments(ctx, "gone", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Fatalf("purged docs remain: %+v", docs)
	}
	hits, err := s.SearchFTS(ctx, "purge target", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("purged fts rows remain: %+v", hits)
	}
	if docs, _ := s.ListDocuments(ctx, "stay", ""); len(docs) != 1 {
		t.Fatal("unrelated collection was affected")
	}
}
