//go:build cgo

package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quietmd/qmd/chunker"
	"github.com/quietmd/qmd/llm"
	"github.com/quietmd/qmd/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addDoc(t *testing.T, s *store.Store, path, body string) string {
	t.Helper()
	ctx := context.Background()
	h := chunker.Hash(body)
	if err := s.InsertContent(ctx, h, body, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertDocument(ctx, store.Document{
		Collection: "notes", Path: path, Title: path, Hash: h,
		CreatedAt: time.Now(), ModifiedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	return h
}

// embedServer answers /v1/embeddings with 4-dim vectors, optionally
// failing whole batches above a size.
func embedServer(t *testing.T, failBatchAbove int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if failBatchAbove > 0 && len(req.Input) > failBatchAbove {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{
				"embedding": []float32{1, 0, 0, float32(i)},
				"index":     i,
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(t *testing.T, baseURL string) *llm.Gateway {
	t.Helper()
	g, err := llm.NewGateway(llm.GatewayConfig{
		Embed: &llm.ProviderConfig{Kind: llm.KindOpenAICompat, BaseURL: baseURL, APIKey: "k", EmbedModel: "test-embed"},
		Timeouts: llm.Timeouts{
			Embed: 5 * time.Second, Rerank: 5 * time.Second, Generate: 5 * time.Second,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestRunEmbedsPendingChunks(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	srv := embedServer(t, 0, &calls)
	e := New(s, newGateway(t, srv.URL))

	addDoc(t, s, "a.md", "short note about gophers")
	addDoc(t, s, "b.md", strings.Repeat("many words here ", 300))

	sum, err := e.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Documents != 2 {
		t.Fatalf("documents: %+v", sum)
	}
	if sum.Dimension != 4 {
		t.Fatalf("probed dimension: %+v", sum)
	}
	// The long document spans multiple token chunks.
	if sum.Chunks < 3 {
		t.Fatalf("expected chunked embedding, got %+v", sum)
	}

	// Everything is covered now; a second run is a no-op.
	need, err := s.HashesNeedingEmbedding(context.Background(), "test-embed")
	if err != nil {
		t.Fatal(err)
	}
	if len(need) != 0 {
		t.Fatalf("still pending: %v", need)
	}
	sum, err = e.Run(context.Background(), Options{})
	if err != nil || sum.Chunks != 0 {
		t.Fatalf("second run: %+v err=%v", sum, err)
	}
}

func TestRunForceClearsFirst(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	srv := embedServer(t, 0, &calls)
	e := New(s, newGateway(t, srv.URL))

	addDoc(t, s, "a.md", "force rebuild body")
	if _, err := e.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	sum, err := e.Run(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Chunks == 0 {
		t.Fatalf("force must re-embed everything: %+v", sum)
	}
}

func TestRunPerItemRetryOnBatchFailure(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	// Batches larger than one input fail; singles succeed.
	srv := embedServer(t, 1, &calls)
	e := New(s, newGateway(t, srv.URL))

	addDoc(t, s, "a.md", "first body")
	addDoc(t, s, "b.md", "second body")

	sum, err := e.Run(context.Background(), Options{BatchSize: 8})
	if err != nil {
		t.Fatalf("run should recover per item: %v", err)
	}
	if sum.Chunks != 2 || sum.Failed != 0 {
		t.Fatalf("per-item retry mismatch: %+v", sum)
	}
}

func TestRunVectorsSearchable(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	srv := embedServer(t, 0, &calls)
	e := New(s, newGateway(t, srv.URL))

	addDoc(t, s, "a.md", "searchable content")
	if _, err := e.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchVec(context.Background(), []float32{1, 0, 0, 0}, "test-embed", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("embedded chunks must be searchable")
	}
}
