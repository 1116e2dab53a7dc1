// Package store persists the engine's relational state in SQLite: files,
// symbols, ghost symbols, dependency edges, document chunks, embedding
// metadata, chunk summaries, evidence packs, and key-value state.
//
// A database that cannot be opened demotes the store to an in-memory one so
// the engine keeps serving; the demotion is logged and observable via
// Ephemeral. Errors after opening are returned to the caller.
package store

import (
	"context"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/chunk"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// FileRow mirrors one files-table record.
type FileRow struct {
	Path     string
	Language string
	LOD      int
	ModTime  time.Time
	Skeleton string
}

// SummaryStyle selects the chunk summary flavor.
type SummaryStyle string

const (
	StylePreview SummaryStyle = "preview"
	StyleSummary SummaryStyle = "summary"
)

// Summary is one cached chunk summary.
type Summary struct {
	ChunkID     string
	Style       SummaryStyle
	Text        string
	ContentHash string
}

// EmbeddingMeta records which (provider, model) embedded a chunk.
type EmbeddingMeta struct {
	ChunkID  string
	Provider string
	Model    string
	Dims     int
	Norm     float32
}

// PackRow is a persisted evidence pack: an opaque payload with expiry.
type PackRow struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Payload   []byte
}

// Store is the metadata persistence interface.
type Store interface {
	graph.Persistence

	// File reads.
	GetFile(ctx context.Context, path string) (*FileRow, error)
	ListFiles(ctx context.Context) ([]string, error)

	// Symbol reads.
	SymbolsByFile(ctx context.Context, path string) ([]parser.Symbol, error)
	SearchSymbols(ctx context.Context, name string, limit int) ([]graph.SymbolRef, error)

	// Chunk operations. Replacing a file's chunks cascade-deletes the
	// embeddings of dropped chunks.
	ReplaceChunks(ctx context.Context, path string, chunks []*chunk.Chunk) error
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)
	GetChunksByFile(ctx context.Context, path string) ([]*chunk.Chunk, error)
	DeleteChunksByFile(ctx context.Context, path string) error

	// Embedding metadata.
	SaveEmbeddingMeta(ctx context.Context, meta []EmbeddingMeta) error
	EmbeddedChunkIDs(ctx context.Context, provider, model string) ([]string, error)

	// Chunk summaries, recomputed when the content hash changes.
	GetSummary(ctx context.Context, chunkID string, style SummaryStyle) (*Summary, error)
	SaveSummary(ctx context.Context, s *Summary) error

	// Evidence packs.
	SavePack(ctx context.Context, row *PackRow) error
	GetPack(ctx context.Context, id string) (*PackRow, error)
	DeleteExpiredPacks(ctx context.Context, now time.Time) (int, error)

	// Ghost maintenance.
	PruneGhosts(ctx context.Context, maxAge time.Duration) (int, error)

	// Key-value runtime state.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Ephemeral reports whether the store demoted itself to memory.
	Ephemeral() bool

	Close() error
}
