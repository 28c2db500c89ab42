package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
)

// cacheKey builds a stable key from the request identity. json.Marshal
// of a struct emits fields in declaration order, so equal requests
// always hash equally.
func cacheKey(op, provider, model string, inputs []string) string {
	blob, _ := json.Marshal(struct {
		Op       string   `json:"op"`
		Provider string   `json:"provider"`
		Model    string   `json:"model"`
		Inputs   []string `json:"inputs"`
	}{op, provider, model, inputs})
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// cacheGet reads through the optional cache; errors read as misses.
func (g *Gateway) cacheGet(ctx context.Context, key string) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	v, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		slog.Debug("llm: cache read failed", "error", err)
		return "", false
	}
	return v, ok
}

func (g *Gateway) cachePut(ctx context.Context, key, value string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Put(ctx, key, value); err != nil {
		slog.Debug("llm: cache write failed", "error", err)
	}
}
