// Package query implements the Query Surface (spec.md §4.7): pure
// read-side operations — semantic search, graph expansion, context
// packs, and the check validation pass — over a store.Cache handle.
// Nothing here opens a write transaction; every operation runs inside
// Cache.BeginRead so it never blocks on, or is blocked by, the Sync
// Engine's writer (spec.md §5 "Search and read queries must not block
// on writers").
package query

// Direction constrains which adjacency a Graph expansion follows.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// SearchOptions parameterizes Engine.Search.
type SearchOptions struct {
	Query string
	Kind  string
	Tags  []string
	TopK  int
}

// SearchHit is one surviving candidate after filter pushdown.
type SearchHit struct {
	EntityID string
	Kind     string
	Title    string
	Score    float32
}

// GraphOptions parameterizes Engine.Graph.
type GraphOptions struct {
	EntityID    string
	Depth       int
	Direction   Direction
	LabelFilter string
}

// GraphNode is one node in the induced subgraph.
type GraphNode struct {
	EntityID string
	Kind     string
	Title    string
}

// GraphEdge is one edge in the induced subgraph, denoted by entity ids.
type GraphEdge struct {
	FromEntityID string
	ToEntityID   string
	Label        string
}

// GraphResult is the induced subgraph returned by a BFS expansion.
type GraphResult struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// ContextOptions parameterizes Engine.Context.
type ContextOptions struct {
	EntityID  string
	Depth     int
	MaxTokens int
}

// ContextNeighbor is one one-hop neighbor's contribution to a context
// pack, grouped by the relation that reaches it.
type ContextNeighbor struct {
	EntityID  string
	Title     string
	Body      string
	Truncated bool
}

// ContextPack is the focus entity's body plus its one-hop neighbors,
// grouped by relation label (spec.md §4.7 "context pack").
type ContextPack struct {
	EntityID  string
	Title     string
	Body      string
	Neighbors map[string][]ContextNeighbor
}

// CheckViolation is one finding from Engine.Check.
type CheckViolation struct {
	FilePath string
	Code     string
	Message  string
}

// CheckReport is the Check pass's output (spec.md §4.7): broken ids,
// unknown prefixes, refused relations, and immutability violations.
type CheckReport struct {
	BrokenIDs              []CheckViolation
	UnknownPrefixes        []CheckViolation
	RefusedRelations       []CheckViolation
	ImmutabilityViolations []CheckViolation
	Other                  []CheckViolation
	FilesChecked           int
}

// Failed reports whether the check pass found any violation (spec.md
// §4.7 "non-zero exit when failures exist").
func (r CheckReport) Failed() bool {
	return len(r.BrokenIDs)+len(r.UnknownPrefixes)+len(r.RefusedRelations)+
		len(r.ImmutabilityViolations)+len(r.Other) > 0
}
