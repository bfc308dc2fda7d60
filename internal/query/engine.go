package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kevinmichaelchen/ixchel/internal/embed"
	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/ident"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
	"github.com/kevinmichaelchen/ixchel/internal/mdstore"
	"github.com/kevinmichaelchen/ixchel/internal/store"
)

// Engine implements the Query Surface against one repo's cache.
type Engine struct {
	repoRoot string
	cache    *store.Cache
	embedder embed.Provider
	registry *entity.Registry
	lister   *mdstore.Lister
}

// NewEngine constructs an Engine. lister may be nil for callers that
// never call Check.
func NewEngine(repoRoot string, cache *store.Cache, embedder embed.Provider, registry *entity.Registry, lister *mdstore.Lister) *Engine {
	return &Engine{
		repoRoot: repoRoot,
		cache:    cache,
		embedder: embedder,
		registry: registry,
		lister:   lister,
	}
}

// overfetchK computes the over-fetch width k' for a requested top-k,
// adapting the teacher's over-fetch-then-filter pattern in
// internal/search (there over-fetching to allow RRF fusion across BM25
// and vector candidates; here to allow kind/tag filter pushdown without
// re-embedding).
func overfetchK(k int) int {
	if k <= 0 {
		k = 1
	}
	if v := 2 * k; v > k+10 {
		return v
	}
	return k + 10
}

// Search embeds opts.Query, over-fetches vector candidates, and applies
// kind/tag filter pushdown by reading each candidate's node record via
// the vector→node inverse map (spec.md §4.7).
func (e *Engine) Search(ctx context.Context, opts SearchOptions) ([]SearchHit, error) {
	if opts.Query == "" {
		return nil, fmt.Errorf("query: search requires a non-empty query")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	qvec, err := e.embedder.Embed(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("query: embedding search query: %w", err)
	}

	candidates, err := e.cache.Vectors().Search(ctx, qvec, overfetchK(topK))
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}

	tagSet := make(map[string]bool, len(opts.Tags))
	for _, t := range opts.Tags {
		tagSet[t] = true
	}

	var hits []SearchHit
	err = e.cache.BeginRead(func(tx *store.ReadTxn) error {
		for _, c := range candidates {
			node, ok, err := tx.GetNodeByVectorID(c.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if opts.Kind != "" && node.Kind != opts.Kind {
				continue
			}
			if len(tagSet) > 0 && !hasAnyTag(node.Tags, tagSet) {
				continue
			}
			hits = append(hits, SearchHit{
				EntityID: node.EntityID,
				Kind:     node.Kind,
				Title:    node.Title,
				Score:    c.Score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Determinism of search ordering (spec.md §8 invariant 7): scores
	// desc, id asc tie-break.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EntityID < hits[j].EntityID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func hasAnyTag(nodeTags []string, want map[string]bool) bool {
	for _, t := range nodeTags {
		if want[t] {
			return true
		}
	}
	return false
}

// Graph performs a breadth-first expansion from opts.EntityID, visiting
// each node at most once, bounded by opts.Depth (spec.md §4.7 "graph
// expansion").
func (e *Engine) Graph(ctx context.Context, opts GraphOptions) (GraphResult, error) {
	_ = ctx
	direction := opts.Direction
	if direction == "" {
		direction = DirectionBoth
	}

	var result GraphResult
	err := e.cache.BeginRead(func(tx *store.ReadTxn) error {
		start, ok, err := tx.GetNodeByEntityID(opts.EntityID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("query: unknown entity id %q", opts.EntityID)
		}

		visited := map[string]bool{start.ID: true}
		result.Nodes = append(result.Nodes, GraphNode{EntityID: start.EntityID, Kind: start.Kind, Title: start.Title})

		frontier := []store.Node{start}
		for d := 0; d < opts.Depth && len(frontier) > 0; d++ {
			var next []store.Node
			for _, n := range frontier {
				edges, err := e.adjacency(tx, n.ID, direction, opts.LabelFilter)
				if err != nil {
					return err
				}
				for _, edgeHop := range edges {
					neighborID := edgeHop.neighborNodeID
					neighbor, ok, err := tx.GetNode(neighborID)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}

					fromEntity, toEntity := n.EntityID, neighbor.EntityID
					if edgeHop.reversed {
						fromEntity, toEntity = neighbor.EntityID, n.EntityID
					}
					result.Edges = append(result.Edges, GraphEdge{
						FromEntityID: fromEntity,
						ToEntityID:   toEntity,
						Label:        edgeHop.label,
					})

					if visited[neighborID] {
						continue
					}
					visited[neighborID] = true
					result.Nodes = append(result.Nodes, GraphNode{
						EntityID: neighbor.EntityID,
						Kind:     neighbor.Kind,
						Title:    neighbor.Title,
					})
					next = append(next, neighbor)
				}
			}
			frontier = next
		}
		return nil
	})
	return result, err
}

// edgeHop is one traversed edge, recording which end is the already-
// visited anchor so Graph can report edges in their original
// from→to direction regardless of which side the BFS walked from.
type edgeHop struct {
	neighborNodeID string
	label          string
	reversed       bool
}

func (e *Engine) adjacency(tx *store.ReadTxn, nodeID string, direction Direction, label string) ([]edgeHop, error) {
	var hops []edgeHop
	if direction == DirectionOut || direction == DirectionBoth {
		out, err := tx.OutEdges(nodeID, label)
		if err != nil {
			return nil, err
		}
		for _, edge := range out {
			hops = append(hops, edgeHop{neighborNodeID: edge.ToNode, label: edge.Label})
		}
	}
	if direction == DirectionIn || direction == DirectionBoth {
		in, err := tx.InEdges(nodeID, label)
		if err != nil {
			return nil, err
		}
		for _, edge := range in {
			hops = append(hops, edgeHop{neighborNodeID: edge.FromNode, label: edge.Label, reversed: true})
		}
	}
	return hops, nil
}

// Context builds a structured document containing the focus entity's
// body and its one-hop neighbors' titles and bodies, grouped by
// relation (spec.md §4.7 "context pack"). If MaxTokens is set, each
// neighbor is budgeted an equal share and truncated with an ellipsis
// marker.
func (e *Engine) Context(ctx context.Context, opts ContextOptions) (ContextPack, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}

	var focus store.Node
	var neighborEdges []edgeHop
	err := e.cache.BeginRead(func(tx *store.ReadTxn) error {
		n, ok, err := tx.GetNodeByEntityID(opts.EntityID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("query: unknown entity id %q", opts.EntityID)
		}
		focus = n

		hops, err := e.adjacency(tx, n.ID, DirectionBoth, "")
		if err != nil {
			return err
		}
		neighborEdges = hops
		return nil
	})
	if err != nil {
		return ContextPack{}, err
	}

	focusBody, err := e.readBody(focus.FilePath)
	if err != nil {
		return ContextPack{}, err
	}

	pack := ContextPack{
		EntityID:  focus.EntityID,
		Title:     focus.Title,
		Body:      focusBody,
		Neighbors: make(map[string][]ContextNeighbor),
	}

	budget := 0
	if opts.MaxTokens > 0 && len(neighborEdges) > 0 {
		budget = opts.MaxTokens / len(neighborEdges)
	}

	err = e.cache.BeginRead(func(tx *store.ReadTxn) error {
		for _, hop := range neighborEdges {
			neighbor, ok, err := tx.GetNode(hop.neighborNodeID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			body, err := e.readBody(neighbor.FilePath)
			if err != nil {
				return err
			}
			truncated := false
			if budget > 0 && len(body) > budget {
				body = body[:budget] + "…"
				truncated = true
			}
			pack.Neighbors[hop.label] = append(pack.Neighbors[hop.label], ContextNeighbor{
				EntityID:  neighbor.EntityID,
				Title:     neighbor.Title,
				Body:      body,
				Truncated: truncated,
			})
		}
		return nil
	})
	return pack, err
}

func (e *Engine) readBody(relPath string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(e.repoRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("query: reading %s: %w", relPath, err)
	}
	doc, err := mdstore.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("query: parsing %s: %w", relPath, err)
	}
	return doc.Body, nil
}

// Check re-validates every frontmatter id and link on disk against the
// registries and the indexed cache, without mutating either (spec.md
// §4.7 "a read-only pass"). Unlike the Sync Engine it does not stop at
// the manifest's notion of what changed: every file is reloaded and
// revalidated every time.
func (e *Engine) Check(ctx context.Context) (CheckReport, error) {
	_ = ctx
	if e.lister == nil {
		return CheckReport{}, fmt.Errorf("query: check requires a lister")
	}

	paths, err := e.lister.List(ctx, e.repoRoot)
	if err != nil {
		return CheckReport{}, fmt.Errorf("query: listing files: %w", err)
	}

	var report CheckReport
	for _, relPath := range paths {
		report.FilesChecked++
		load, err := mdstore.Load(e.repoRoot, relPath, e.registry)
		if err != nil {
			report.classify(relPath, err)
			continue
		}

		fm := load.Document.Frontmatter
		prefix, _, _ := ident.Split(fm.ID)
		kindName := prefix
		kind, hasKind := e.registry.KindByPrefix(prefix)
		if hasKind {
			kindName = kind.Name
		}

		var prevStatus, prevTitle, prevBody string
		_ = e.cache.BeginRead(func(tx *store.ReadTxn) error {
			node, ok, err := tx.GetNodeByEntityID(fm.ID)
			if err != nil || !ok {
				return nil
			}
			prevStatus = node.Status
			prevTitle = node.Title
			if node.BodyHash == ident.ContentHashHex([]byte(load.Document.Body)) {
				prevBody = load.Document.Body
			}
			return nil
		})

		ent := entity.Entity{
			ID:            fm.ID,
			Kind:          kindName,
			Title:         fm.Title,
			Status:        fm.Status,
			Tags:          fm.Tags,
			Body:          load.Document.Body,
			FilePath:      relPath,
			Relationships: fm.Relations,
		}
		if err := e.registry.ValidateEntity(ent, prevStatus, prevTitle, prevBody); err != nil {
			report.classify(relPath, err)
		}

		for relName, targets := range fm.Relations {
			for _, target := range targets {
				toKind := e.kindOfEntity(target.ID)
				if err := e.registry.ValidateRelationship(kindName, relName, toKind); err != nil {
					report.classify(relPath, err)
				}
			}
		}
	}

	return report, nil
}

// kindOfEntity resolves an entity id's kind from its own prefix,
// falling back to the cache if the registry overlay renamed the prefix.
func (e *Engine) kindOfEntity(entityID string) string {
	prefix, _, ok := ident.Split(entityID)
	if !ok {
		return ""
	}
	if kind, ok := e.registry.KindByPrefix(prefix); ok {
		return kind.Name
	}
	var kindName string
	_ = e.cache.BeginRead(func(tx *store.ReadTxn) error {
		node, ok, err := tx.GetNodeByEntityID(entityID)
		if err == nil && ok {
			kindName = node.Kind
		}
		return nil
	})
	return kindName
}

func (r *CheckReport) classify(filePath string, err error) {
	v := CheckViolation{FilePath: filePath, Message: err.Error()}
	ixe, ok := err.(*ixerr.Error)
	if !ok {
		r.Other = append(r.Other, v)
		return
	}
	v.Code = ixe.Code
	switch ixe.Code {
	case ixerr.ErrCodeIDMismatch:
		r.BrokenIDs = append(r.BrokenIDs, v)
	case ixerr.ErrCodeUnknownPrefix:
		r.UnknownPrefixes = append(r.UnknownPrefixes, v)
	case ixerr.ErrCodeRelationshipNotPermitted, ixerr.ErrCodeCycleDetected:
		r.RefusedRelations = append(r.RefusedRelations, v)
	case ixerr.ErrCodeImmutabilityViolation:
		r.ImmutabilityViolations = append(r.ImmutabilityViolations, v)
	default:
		r.Other = append(r.Other, v)
	}
}
