// Package config loads and validates the uprootmcp engine configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Project config file (.uprootmcp.yaml at the workspace root)
//  3. Environment variables (UPROOTMCP_* prefix)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project-level config file looked up at the root.
const ConfigFileName = ".uprootmcp.yaml"

// EngineMode selects runtime behavior profiles.
type EngineMode string

const (
	ModeProd EngineMode = "prod"
	ModeCI   EngineMode = "ci"
	ModeTest EngineMode = "test"
)

// Config represents the complete engine configuration.
type Config struct {
	Version int        `yaml:"version" json:"version"`
	Mode    EngineMode `yaml:"mode" json:"mode"`

	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Parser     ParserConfig     `yaml:"parser" json:"parser"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Documents  DocumentsConfig  `yaml:"documents" json:"documents"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Rollout    RolloutConfig    `yaml:"rollout" json:"rollout"`
	Sensitive  SensitiveConfig  `yaml:"sensitive" json:"sensitive"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// StorageConfig roots all on-disk caches and the relational store.
type StorageConfig struct {
	// Dir is the storage root. All caches live under <Dir>/v1/.
	// Defaults to ~/.uprootmcp/<root-hash>/.
	Dir string `yaml:"dir" json:"dir"`
	// SQLitePath overrides the metadata database path (testing).
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	// GhostMaxAge prunes ghost symbols older than this (default: 720h).
	GhostMaxAge time.Duration `yaml:"ghost_max_age" json:"ghost_max_age"`
	// PackTTL is the evidence pack expiry (default: 30m).
	PackTTL time.Duration `yaml:"pack_ttl" json:"pack_ttl"`
}

// ParserConfig selects the parser backend.
type ParserConfig struct {
	// Backend is one of auto, wasm, native, snapshot.
	Backend string `yaml:"backend" json:"backend"`
}

// SearchConfig configures the hybrid search engine.
type SearchConfig struct {
	// RRFK is the reciprocal-rank-fusion smoothing parameter (default: 60).
	RRFK int `yaml:"rrf_k" json:"rrf_k"`
	// RRFDepth bounds how many candidates of each list are fused (default: 50).
	RRFDepth int `yaml:"rrf_depth" json:"rrf_depth"`
	// MMRLambda balances relevance vs. diversity in [0,1] (default: 0.7).
	MMRLambda float64 `yaml:"mmr_lambda" json:"mmr_lambda"`
	// MaxResults is the default result cap per query (default: 10).
	MaxResults int `yaml:"max_results" json:"max_results"`
	// TokenBudget is the default evidence pack budget (default: 8000).
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// BM25F field weights.
	FilenameWeight float64 `yaml:"filename_weight" json:"filename_weight"`
	SymbolWeight   float64 `yaml:"symbol_weight" json:"symbol_weight"`
	ContentWeight  float64 `yaml:"content_weight" json:"content_weight"`

	// Trigram index limits.
	TrigramMaxFileBytes int `yaml:"trigram_max_file_bytes" json:"trigram_max_file_bytes"`
	// TrigramMaxDocFreq drops trigrams present in more than this fraction
	// of files (default: 0.5).
	TrigramMaxDocFreq float64 `yaml:"trigram_max_doc_freq" json:"trigram_max_doc_freq"`
	// TrigramMaxPerFile keeps only the highest-frequency trigrams per file
	// (default: 20000).
	TrigramMaxPerFile int `yaml:"trigram_max_per_file" json:"trigram_max_per_file"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions is advisory; the provider reports its own.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	BatchSize  int `yaml:"batch_size" json:"batch_size"`
	// EagerDocuments embeds document chunks at index time instead of lazily.
	EagerDocuments bool `yaml:"eager_documents" json:"eager_documents"`
}

// VectorConfig configures the embedding pack and ANN search.
type VectorConfig struct {
	// Format is the pack storage format: float32, q8, or both.
	Format string `yaml:"format" json:"format"`
	// Shards distributes embeddings across N pack shards (default: 4).
	Shards int `yaml:"shards" json:"shards"`
	// CacheBytes bounds the decoded-vector LRU cache (default: 64 MiB).
	CacheBytes int64 `yaml:"cache_bytes" json:"cache_bytes"`
	// HNSW enables graph search; exact cosine scan otherwise.
	HNSW           bool `yaml:"hnsw" json:"hnsw"`
	HNSWM          int  `yaml:"hnsw_m" json:"hnsw_m"`
	EfConstruction int  `yaml:"hnsw_ef_construction" json:"hnsw_ef_construction"`
	EfSearch       int  `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// DocumentsConfig configures document chunking.
type DocumentsConfig struct {
	// MaxBytes caps document size; larger files are head/tail sampled.
	MaxBytes int `yaml:"max_bytes" json:"max_bytes"`
	// HeadBytes and TailBytes control sampling for oversized documents.
	HeadBytes int `yaml:"head_bytes" json:"head_bytes"`
	TailBytes int `yaml:"tail_bytes" json:"tail_bytes"`
	// TargetChunkChars is the packing target (default: 1800).
	TargetChunkChars int `yaml:"target_chunk_chars" json:"target_chunk_chars"`
	// MaxBlockChars splits blocks larger than this (default: 4000).
	MaxBlockChars int `yaml:"max_block_chars" json:"max_block_chars"`
	// MinSectionChars merges sections smaller than this (default: 120).
	MinSectionChars int `yaml:"min_section_chars" json:"min_section_chars"`
}

// WatcherConfig configures file watching.
type WatcherConfig struct {
	// Debounce is the event coalescing window (default: 200ms).
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
	// StableSizeChecks requires N consecutive equal sizes before a config
	// file change is accepted (default: 2).
	StableSizeChecks int `yaml:"stable_size_checks" json:"stable_size_checks"`
}

// SensitiveConfig configures the sensitive-file policy.
type SensitiveConfig struct {
	// AllowSensitive permits full reads of sensitive files.
	AllowSensitive bool `yaml:"allow_sensitive" json:"allow_sensitive"`
	// ExtraPatterns adds glob patterns to the built-in deny list.
	ExtraPatterns []string `yaml:"extra_patterns" json:"extra_patterns"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// New returns the built-in default configuration.
func New() *Config {
	return &Config{
		Version: 1,
		Mode:    ModeProd,
		Storage: StorageConfig{
			GhostMaxAge: 30 * 24 * time.Hour,
			PackTTL:     30 * time.Minute,
		},
		Parser: ParserConfig{Backend: "auto"},
		Search: SearchConfig{
			RRFK:                60,
			RRFDepth:            50,
			MMRLambda:           0.7,
			MaxResults:          10,
			TokenBudget:         8000,
			FilenameWeight:      3.0,
			SymbolWeight:        2.0,
			ContentWeight:       1.0,
			TrigramMaxFileBytes: 1 << 20,
			TrigramMaxDocFreq:   0.5,
			TrigramMaxPerFile:   20000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Model:     "static-256",
			BatchSize: 32,
		},
		Vector: VectorConfig{
			Format:         "both",
			Shards:         4,
			CacheBytes:     64 << 20,
			HNSW:           true,
			HNSWM:          16,
			EfConstruction: 128,
			EfSearch:       64,
		},
		Documents: DocumentsConfig{
			MaxBytes:         2 << 20,
			HeadBytes:        256 << 10,
			TailBytes:        64 << 10,
			TargetChunkChars: 1800,
			MaxBlockChars:    4000,
			MinSectionChars:  120,
		},
		Watcher: WatcherConfig{
			Debounce:         200 * time.Millisecond,
			StableSizeChecks: 2,
		},
		Rollout: RolloutConfig{Preset: PresetFull},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// Load reads configuration for the given workspace root: defaults, then the
// project file if present, then environment overrides.
func Load(rootPath string) (*Config, error) {
	cfg := New()

	path := filepath.Join(rootPath, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigFileName, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", ConfigFileName, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies UPROOTMCP_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("UPROOTMCP_MODE"); v != "" {
		c.Mode = EngineMode(v)
	}
	if v := os.Getenv("UPROOTMCP_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("UPROOTMCP_PARSER_BACKEND"); v != "" {
		c.Parser.Backend = v
	}
	if v := os.Getenv("UPROOTMCP_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("UPROOTMCP_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("UPROOTMCP_PACK_FORMAT"); v != "" {
		c.Vector.Format = v
	}
	if v := os.Getenv("UPROOTMCP_VECTOR_CACHE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Vector.CacheBytes = n
		}
	}
	if v := os.Getenv("UPROOTMCP_ROLLOUT"); v != "" {
		c.Rollout.Preset = Preset(v)
	}
	if v := os.Getenv("UPROOTMCP_ALLOW_SENSITIVE"); v != "" {
		c.Sensitive.AllowSensitive = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("UPROOTMCP_EAGER_DOC_EMBED"); v != "" {
		c.Embeddings.EagerDocuments = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("UPROOTMCP_TRIGRAM_MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TrigramMaxFileBytes = n
		}
	}
}

// Validate checks invariants and fills derived defaults.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProd, ModeCI, ModeTest:
	default:
		return fmt.Errorf("invalid mode %q (want prod, ci, or test)", c.Mode)
	}

	switch c.Parser.Backend {
	case "auto", "wasm", "native", "snapshot":
	default:
		return fmt.Errorf("invalid parser backend %q", c.Parser.Backend)
	}

	switch c.Vector.Format {
	case "float32", "q8", "both":
	default:
		return fmt.Errorf("invalid pack format %q (want float32, q8, or both)", c.Vector.Format)
	}

	if c.Search.RRFK <= 0 {
		c.Search.RRFK = 60
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		return fmt.Errorf("mmr_lambda must be in [0,1], got %v", c.Search.MMRLambda)
	}
	if c.Search.TrigramMaxDocFreq <= 0 || c.Search.TrigramMaxDocFreq > 1 {
		return fmt.Errorf("trigram_max_doc_freq must be in (0,1], got %v", c.Search.TrigramMaxDocFreq)
	}
	if c.Vector.Shards <= 0 {
		c.Vector.Shards = 4
	}

	if _, err := ResolvePreset(c.Rollout.Preset); err != nil {
		return err
	}

	return nil
}

// StorageRoot returns the versioned storage root for the workspace.
func (c *Config) StorageRoot() string {
	return filepath.Join(c.Storage.Dir, "v1")
}
