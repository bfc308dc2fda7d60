package embed

import (
	"context"
	"math"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1
	// MaxBatchSize caps a single EmbedBatch call to bound memory use.
	MaxBatchSize = 256
	// DefaultBatchSize matches config.EmbeddingConfig's default.
	DefaultBatchSize = 32
)

// Provider is the Embedding Provider contract (spec.md §2): text in,
// L2-normalized vector out, of a fixed known dimension.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, in order. The
	// Sync Engine calls this in batches of the configured size
	// (spec.md §4.5 step 4).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width this provider produces.
	Dimensions() int

	// ModelName returns the descriptor recorded in manifest entries as
	// embedding_model; a mismatch against a file's recorded model
	// forces re-embedding.
	ModelName() string

	// Available reports whether the provider is ready to serve
	// requests (e.g. a remote backend's connectivity check).
	Available(ctx context.Context) bool

	// Close releases any resources the provider holds.
	Close() error
}

// normalizeVector returns v scaled to unit length. A zero vector is
// returned unchanged since it has no direction to normalize.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
