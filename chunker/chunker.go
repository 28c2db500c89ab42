// Package chunker provides deterministic content hashing, chunking, and
// title extraction for Markdown bodies. All functions are pure: the same
// input always yields the same output.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"path/filepath"
	"strings"
	"unicode"
)

// DocIDLen is the length of the short document identifier derived from
// a content hash prefix.
const DocIDLen = 6

const (
	// maxChunkBytes bounds retrieval-time chunks (see Chunks).
	maxChunkBytes = 2000
)

// Chunk is a contiguous span of a body. Pos is the byte offset of the
// chunk start within the body.
type Chunk struct {
	Text   string
	Pos    int
	Tokens int
}

// Hash returns the hex SHA-256 of the UTF-8 bytes of body. It is the
// primary key of content blobs.
func Hash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// DocID returns the short display identifier for a content hash.
func DocID(hash string) string {
	if len(hash) < DocIDLen {
		return hash
	}
	return hash[:DocIDLen]
}

// EstimateTokens approximates the token count of text as 1.3 tokens per
// whitespace-separated word. This is the stable approximation used when
// the embedding provider's tokenizer is not available locally.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// Chunks splits a body into retrieval-time chunks bounded by bytes,
// breaking at line boundaries. Concatenated chunk ranges cover the body.
func Chunks(body string) []Chunk {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	lineStart := 0
	for i := 0; i <= len(body); i++ {
		atEnd := i == len(body)
		if !atEnd && body[i] != '\n' {
			continue
		}
		lineEnd := i
		if !atEnd {
			lineEnd++ // keep the newline with its line
		}
		if lineEnd-start > maxChunkBytes && lineStart > start {
			chunks = append(chunks, newChunk(body, start, lineStart))
			start = lineStart
		}
		lineStart = lineEnd
	}
	if start < len(body) {
		chunks = append(chunks, newChunk(body, start, len(body)))
	}
	return chunks
}

// TokenChunks splits a body into embedding-time chunks of roughly
// maxTokens tokens with overlap tokens shared between consecutive
// chunks. Non-positive arguments fall back to 200/40.
func TokenChunks(body string, maxTokens, overlap int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 40
	}

	words := splitWords(body)
	if len(words) == 0 {
		return nil
	}

	// Convert token budgets to word counts using the same 1.3 factor.
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords < 1 {
		maxWords = 1
	}
	overlapWords := int(float64(overlap) / 1.3)
	if overlapWords >= maxWords {
		overlapWords = maxWords - 1
	}

	var chunks []Chunk
	for start := 0; start < len(words); {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		from := words[start].off
		to := words[end-1].off + len(words[end-1].text)
		chunks = append(chunks, newChunk(body, from, to))
		if end == len(words) {
			break
		}
		start = end - overlapWords
	}
	return chunks
}

// Title extracts the first Markdown heading from a body, falling back to
// the file name (without extension) when no heading exists.
func Title(body, fallbackPath string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if heading != "" {
			return heading
		}
	}
	base := filepath.Base(fallbackPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newChunk(body string, from, to int) Chunk {
	text := body[from:to]
	return Chunk{Text: text, Pos: from, Tokens: EstimateTokens(text)}
}

type word struct {
	text string
	off  int
}

// splitWords returns whitespace-separated words with their byte offsets.
func splitWords(body string) []word {
	var words []word
	start := -1
	for i, r := range body {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{text: body[start:i], off: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{text: body[start:], off: start})
	}
	return words
}
