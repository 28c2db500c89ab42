// Package llm is the gateway to remote model providers: embedding,
// query expansion, and reranking. It owns the HTTP clients, retry
// policy, and per-provider circuit breakers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Timeouts holds the per-operation request deadlines.
type Timeouts struct {
	Embed    time.Duration
	Rerank   time.Duration
	Generate time.Duration
}

// DefaultTimeouts returns the stock deadlines. A QMD_TIMEOUT_MS
// override is applied by the config layer before construction.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Embed:    30 * time.Second,
		Rerank:   15 * time.Second,
		Generate: 60 * time.Second,
	}
}

// ProviderError is a non-retryable remote failure, carrying the first
// 500 bytes of the response body for diagnostics.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	URL      string
	Snippet  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s %s failed with HTTP %d: %s", e.Provider, e.Op, e.Status, e.Snippet)
	}
	return fmt.Sprintf("llm: %s %s failed: %s", e.Provider, e.Op, e.Snippet)
}

const (
	maxAttempts  = 3
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
	snippetLimit = 500
	maxBodyBytes = 10 << 20
)

// httpClient is the shared transport for one provider endpoint.
// Keep-alive pooling comes from the embedded http.Client; per-op
// deadlines are applied by the caller via context.
type httpClient struct {
	provider string
	baseURL  string
	apiKey   string
	hc       *http.Client
}

func newHTTPClient(provider, baseURL, apiKey string) httpClient {
	return httpClient{
		provider: provider,
		baseURL:  baseURL,
		apiKey:   apiKey,
		hc:       &http.Client{},
	}
}

// retryableStatus reports whether an HTTP status warrants another
// attempt: timeouts, early hints gone wrong, rate limits, and 5xx.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// backoffDelay computes the exponential backoff with jitter for a
// retry attempt, respecting Retry-After as a minimum.
func backoffDelay(attempt int, retryAfter string) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int63n(int64(d) / 2))
	if d > maxBackoff {
		d = maxBackoff
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			if min := time.Duration(secs) * time.Second; d < min {
				d = min
			}
		}
	}
	return d
}

// postJSON sends a JSON POST and returns the raw response body.
// Network errors and retryable statuses get up to maxAttempts tries;
// anything else surfaces immediately as *ProviderError.
func (c *httpClient) postJSON(ctx context.Context, op, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encoding %s request: %w", op, err)
	}
	url := c.baseURL + path

	var lastErr error
	var retryAfter string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, retryAfter)
			slog.Warn("llm: retrying request",
				"provider", c.provider, "op", op, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		retryAfter = ""

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Connection", "keep-alive")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("llm: %s %s: %w", c.provider, op, err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("llm: reading %s response: %w", op, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		perr := &ProviderError{
			Provider: c.provider,
			Op:       op,
			Status:   resp.StatusCode,
			URL:      url,
			Snippet:  snippet(respBody),
		}
		if !retryableStatus(resp.StatusCode) {
			return nil, perr
		}
		lastErr = perr
		retryAfter = resp.Header.Get("Retry-After")
	}
	return nil, lastErr
}

func snippet(body []byte) string {
	if len(body) > snippetLimit {
		body = body[:snippetLimit]
	}
	return string(body)
}
