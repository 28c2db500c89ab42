package qmd

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default pipeline limits. All of them can be overridden through the
// environment; the blend constants are exposed here because they are
// load-bearing for result quality.
const (
	DefaultEmbedBatchSize     = 32
	DefaultRerankDocLimit     = 40
	DefaultRerankChunksPerDoc = 3
	DefaultMaxIndexFileBytes  = int64(64 << 20)
	DefaultMaxChunkTokens     = 200
	DefaultChunkOverlap       = 40
	DefaultCooldown           = 5 * time.Minute
)

// Config holds all configuration for a QMD engine instance.
type Config struct {
	// ConfigDir holds index.yml, the optional .env file, and the optional
	// rerank prompt override. Defaults to ~/.qmd.
	ConfigDir string

	// DataDir holds the index database files. Defaults to ConfigDir.
	DataDir string

	// IndexName selects the database file <DataDir>/<IndexName>.sqlite.
	IndexName string

	// Provider API keys by provider kind ("siliconflow", "openai-compat",
	// "gemini", "dashscope"). A provider is enabled iff its key is set.
	APIKeys map[string]string

	// Forced provider selection per operation; empty means auto-route.
	EmbedProvider     string
	ExpansionProvider string
	RerankProvider    string

	// RerankMode is "llm" (chat-based, default) or "rerank" (dedicated endpoint).
	RerankMode string

	// EmbedModel identifies the embedding model sent to the provider.
	EmbedModel string

	// Timeout overrides the per-operation defaults when non-zero.
	Timeout time.Duration

	// Cooldown is the circuit-breaker cooldown after repeated failures.
	Cooldown time.Duration

	EmbedBatchSize     int
	RerankDocLimit     int
	RerankChunksPerDoc int
	MaxIndexFileBytes  int64

	MaxChunkTokens int
	ChunkOverlap   int

	// RRF fusion constants. The defaults are the tuned values.
	RRFPrimaryWeight float64 // weight of the two original ranked lists
	RankBonusTop     float64 // bonus for best input rank 0
	RankBonusHigh    float64 // bonus for best input rank 1-2
}

// DefaultConfig returns a Config with the standard defaults. The database
// lives in ~/.qmd/index.sqlite unless overridden.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	dir := ".qmd"
	if err == nil {
		dir = filepath.Join(home, ".qmd")
	}
	return Config{
		ConfigDir:          dir,
		DataDir:            dir,
		IndexName:          "index",
		APIKeys:            map[string]string{},
		RerankMode:         "llm",
		EmbedModel:         "Qwen/Qwen3-Embedding-0.6B",
		Cooldown:           DefaultCooldown,
		EmbedBatchSize:     DefaultEmbedBatchSize,
		RerankDocLimit:     DefaultRerankDocLimit,
		RerankChunksPerDoc: DefaultRerankChunksPerDoc,
		MaxIndexFileBytes:  DefaultMaxIndexFileBytes,
		MaxChunkTokens:     DefaultMaxChunkTokens,
		ChunkOverlap:       DefaultChunkOverlap,
		RRFPrimaryWeight:   2.0,
		RankBonusTop:       0.05,
		RankBonusHigh:      0.02,
	}
}

// LoadConfig builds a Config from defaults, the optional <ConfigDir>/.env
// file, and the process environment. QMD_-prefixed keys from .env override
// inherited environment variables; other keys are only set if absent.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if dir := os.Getenv("QMD_CONFIG_DIR"); dir != "" {
		cfg.ConfigDir = dir
		cfg.DataDir = dir
	}

	loadDotEnv(filepath.Join(cfg.ConfigDir, ".env"))

	if dir := os.Getenv("QMD_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	for _, kind := range []string{"siliconflow", "openai-compat", "gemini", "dashscope"} {
		if key := os.Getenv(apiKeyVar(kind)); key != "" {
			cfg.APIKeys[kind] = key
		}
	}

	cfg.EmbedProvider = envOr("QMD_EMBED_PROVIDER", cfg.EmbedProvider)
	cfg.ExpansionProvider = envOr("QMD_QUERY_EXPANSION_PROVIDER", cfg.ExpansionProvider)
	cfg.RerankProvider = envOr("QMD_RERANK_PROVIDER", cfg.RerankProvider)
	cfg.RerankMode = envOr("QMD_RERANK_MODE", cfg.RerankMode)
	cfg.EmbedModel = envOr("QMD_EMBED_MODEL", cfg.EmbedModel)

	if ms := envInt("QMD_TIMEOUT_MS", 0); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	cfg.EmbedBatchSize = envInt("QMD_EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.RerankDocLimit = envInt("QMD_RERANK_DOC_LIMIT", cfg.RerankDocLimit)
	cfg.RerankChunksPerDoc = envInt("QMD_RERANK_CHUNKS_PER_DOC", cfg.RerankChunksPerDoc)
	cfg.MaxIndexFileBytes = envFileSize("QMD_MAX_INDEX_FILE_BYTES", cfg.MaxIndexFileBytes)

	return cfg
}

// DBPath returns the full path of the selected index database.
func (c *Config) DBPath() string {
	name := c.IndexName
	if name == "" {
		name = "index"
	}
	return filepath.Join(c.DataDir, name+".sqlite")
}

// IndexFilePath returns the path of the collections/contexts YAML file.
func (c *Config) IndexFilePath() string {
	return filepath.Join(c.ConfigDir, "index.yml")
}

// RerankPromptPath returns the path of the optional prompt override.
func (c *Config) RerankPromptPath() string {
	return filepath.Join(c.ConfigDir, "rerank-prompt.txt")
}

func apiKeyVar(kind string) string {
	switch kind {
	case "openai-compat":
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(kind) + "_API_KEY"
	}
}

// loadDotEnv applies a .env file on top of the inherited environment.
// QMD_-prefixed keys always win; anything else is only set if absent.
func loadDotEnv(path string) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return // no .env file is the common case
	}
	for k, v := range vars {
		if strings.HasPrefix(k, "QMD_") {
			os.Setenv(k, v)
		} else if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envFileSize parses a byte count. NaN, non-numeric, and non-positive
// values fall back to the default.
func envFileSize(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f <= 0 {
		return fallback
	}
	return int64(f)
}
