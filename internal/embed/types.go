// Package embed provides embedding providers behind a common interface.
// The static hash-based provider is the default and works offline.
package embed

import "context"

// Batch sizing bounds.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// StaticDimensions is the static provider's vector size.
const StaticDimensions = 256

// Embedder turns text into vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID identifies the provider and model ("static/static-256").
	ModelID() string

	// Close releases provider resources.
	Close() error
}
