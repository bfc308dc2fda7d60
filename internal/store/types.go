// Package store implements the Indexed Cache (spec.md §4.4): a bbolt-backed
// graph store for entity nodes and relationship edges, paired with an
// HNSW vector index for semantic search. See SPEC_FULL.md §6.4 for the
// spec-table-to-bbolt-bucket mapping.
package store

import (
	"context"
	"time"
)

// Node is the cache's generic ENTITY record (spec.md §3's "Node in the
// Cache"): one per indexed Markdown file.
type Node struct {
	ID          string // opaque node_id minted by the cache
	EntityID    string // e.g. "dec-a1b2c3d4"
	Kind        string
	Title       string
	Status      string
	FilePath    string
	ContentHash string
	// BodyHash is the content hash of the Markdown body only (frontmatter
	// excluded), so the Sync Engine's immutability check (spec.md §4.5)
	// can detect a body edit without the cache persisting body text —
	// body text itself is re-read from disk via FilePath when needed
	// (e.g. the Query Surface's context pack).
	BodyHash string
	VectorID string
	Tags     []string
}

// Edge is a directed relationship between two nodes (spec.md §3's "Edge
// in the Cache"). Label equals the relation name.
type Edge struct {
	ID         string
	FromNode   string
	ToNode     string
	Label      string
	CreatedBy  string
	CreatedAt  time.Time
	Confidence float64
}

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ID       string  // vector_id
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity, 0-1
}

// VectorStoreConfig configures the HNSW vector store, sourced from
// config.CacheConfig and config.EmbeddingConfig at cache-open time.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for dimensions.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       20,
	}
}

// VectorStore provides nearest-neighbor search over entity embeddings.
type VectorStore interface {
	Add(ctx context.Context, vectorIDs []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, vectorIDs []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}
