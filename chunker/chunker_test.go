package chunker

import (
	"strings"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("hello world")
	b := Hash("hello world")
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("hex sha256 length = %d", len(a))
	}
	if a == Hash("hello world.") {
		t.Fatal("different bodies must hash differently")
	}
}

func TestDocID(t *testing.T) {
	h := Hash("x")
	if got := DocID(h); got != h[:6] {
		t.Fatalf("docid = %q", got)
	}
	if got := DocID("ab"); got != "ab" {
		t.Fatalf("short hash passthrough = %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty = %d", got)
	}
	// 10 words * 1.3 = 13.
	if got := EstimateTokens(strings.Repeat("word ", 10)); got != 13 {
		t.Fatalf("10 words = %d tokens", got)
	}
	// Ceil: 1 word * 1.3 -> 2.
	if got := EstimateTokens("word"); got != 2 {
		t.Fatalf("1 word = %d tokens", got)
	}
}

func TestChunksCoverBody(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("A line of filler text to push the chunker over its byte budget.\n")
	}
	body := b.String()

	chunks := Chunks(body)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt strings.Builder
	pos := 0
	for _, c := range chunks {
		if c.Pos != pos {
			t.Fatalf("chunk at %d, expected %d: ranges must be contiguous", c.Pos, pos)
		}
		rebuilt.WriteString(c.Text)
		pos += len(c.Text)
	}
	if rebuilt.String() != body {
		t.Fatal("concatenated chunks must reproduce the body")
	}

	for i, c := range chunks[:len(chunks)-1] {
		if len(c.Text) > maxChunkBytes+100 {
			t.Fatalf("chunk %d is oversized: %d bytes", i, len(c.Text))
		}
		if !strings.HasSuffix(c.Text, "\n") {
			t.Fatalf("chunk %d must end on a line boundary", i)
		}
	}
}

func TestChunksSmallBody(t *testing.T) {
	chunks := Chunks("short body")
	if len(chunks) != 1 || chunks[0].Text != "short body" || chunks[0].Pos != 0 {
		t.Fatalf("small body: %+v", chunks)
	}
	if Chunks("  \n \t ") != nil {
		t.Fatal("blank body yields no chunks")
	}
}

func TestChunksLongLine(t *testing.T) {
	// A single line above the budget cannot be split and comes back whole.
	long := strings.Repeat("x", 3*maxChunkBytes)
	chunks := Chunks(long)
	if len(chunks) != 1 || chunks[0].Text != long {
		t.Fatalf("unsplittable line: %d chunks", len(chunks))
	}
}

func TestTokenChunksOverlap(t *testing.T) {
	body := strings.TrimSpace(strings.Repeat("alpha beta gamma delta epsilon ", 100))
	chunks := TokenChunks(body, 200, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected overlap chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Tokens > 210 {
			t.Fatalf("chunk %d exceeds token budget: %d", i, c.Tokens)
		}
		if body[c.Pos:c.Pos+len(c.Text)] != c.Text {
			t.Fatalf("chunk %d position mismatch", i)
		}
	}
	// Consecutive chunks share a suffix/prefix region.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if chunks[i].Pos >= prev.Pos+len(prev.Text) {
			t.Fatalf("chunks %d and %d do not overlap", i-1, i)
		}
	}
}

func TestTokenChunksShortBody(t *testing.T) {
	chunks := TokenChunks("just a few words", 200, 40)
	if len(chunks) != 1 {
		t.Fatalf("short body: %+v", chunks)
	}
	if TokenChunks("   ", 200, 40) != nil {
		t.Fatal("blank body yields no chunks")
	}
}

func TestTitle(t *testing.T) {
	cases := []struct {
		body, path, want string
	}{
		{"# Heading\n\nbody", "notes/a.md", "Heading"},
		{"text\n\n## Sub Heading\nmore", "notes/a.md", "Sub Heading"},
		{"no heading here", "notes/my-file.md", "my-file"},
		{"###\n# Real\n", "x.md", "Real"},
		{"", "dir/readme.markdown", "readme"},
	}
	for _, c := range cases {
		if got := Title(c.body, c.path); got != c.want {
			t.Errorf("Title(%q, %q) = %q, want %q", c.body, c.path, got, c.want)
		}
	}
}
