package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmichaelchen/ixchel/internal/embed"
	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/ident"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
	"github.com/kevinmichaelchen/ixchel/internal/manifest"
	"github.com/kevinmichaelchen/ixchel/internal/mdstore"
	"github.com/kevinmichaelchen/ixchel/internal/store"
)

// Dependencies are the collaborators an Engine needs injected, the same
// shape as the teacher's RunnerDependencies.
type Dependencies struct {
	Cache    *store.Cache
	Registry *entity.Registry
	Lister   *mdstore.Lister
	Embedder embed.Provider
}

// Engine runs the Sync Engine pass (spec.md §4.5) against one repo.
type Engine struct {
	cache    *store.Cache
	registry *entity.Registry
	lister   *mdstore.Lister
	embedder embed.Provider
	breaker  *ixerr.CircuitBreaker
}

// NewEngine builds an Engine from its injected dependencies. Embedding
// provider calls (spec.md §5's "embedding provider calls, potentially
// model-download") go through a circuit breaker so a provider stuck
// failing aborts the sync fast instead of retrying into every file's
// batch (spec.md §7 "provider unavailable aborts the sync").
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		cache:    deps.Cache,
		registry: deps.Registry,
		lister:   deps.Lister,
		embedder: deps.Embedder,
		breaker:  ixerr.NewCircuitBreaker("embedding-provider"),
	}
}

// classified is a file that survived the three-stage filter and needs
// embedding and graph reconciliation.
type classified struct {
	relPath string
	load    mdstore.LoadResult
	mtime   int64
	size    int64
	isNew   bool
}

type renameOp struct {
	oldPath string
	newPath string
}

// Sync runs one sync pass over repoRoot, per spec.md §4.5's six steps.
func (e *Engine) Sync(ctx context.Context, repoRoot string, opts Options) (Stats, error) {
	stats := Stats{}

	var man *manifest.Manifest
	if err := e.cache.BeginRead(func(tx *store.ReadTxn) error {
		m, err := tx.GetManifest()
		if err != nil {
			return err
		}
		man = m
		return nil
	}); err != nil {
		return stats, fmt.Errorf("sync: loading manifest: %w", err)
	}

	paths, err := e.lister.List(ctx, repoRoot)
	if err != nil {
		return stats, fmt.Errorf("sync: listing files: %w", err)
	}
	if opts.Directory != "" {
		paths = filterUnderDirectory(paths, opts.Directory)
	}
	stats.FilesScanned = len(paths)

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
	}

	activeModel := e.embedder.ModelName()

	var changed []classified
	var renames []renameOp

	for _, relPath := range paths {
		entry, existed := man.Get(relPath)

		absPath := filepath.Join(repoRoot, relPath)
		info, statErr := os.Stat(absPath)
		if statErr != nil {
			stats.warn(relPath, fmt.Sprintf("stat failed: %v", statErr))
			continue
		}
		mtime := info.ModTime().UnixNano()
		size := info.Size()

		if existed && !opts.Force && entry.MatchesStat(mtime, size) && !entry.NeedsReembed(activeModel) {
			continue // stage 1: unchanged
		}

		raw, readErr := os.ReadFile(absPath)
		if readErr != nil {
			stats.warn(relPath, fmt.Sprintf("read failed: %v", readErr))
			continue
		}
		contentHash := ident.ContentHashHex(raw)

		if existed && !opts.Force && entry.MatchesHash(contentHash) && !entry.NeedsReembed(activeModel) {
			entry.MTime = mtime
			entry.Size = size
			man.Set(relPath, entry)
			continue // stage 2: touched, not changed
		}

		if !existed {
			if oldPath, ok := man.FindByContentHash(contentHash); ok && oldPath != relPath && !seen[oldPath] {
				renames = append(renames, renameOp{oldPath: oldPath, newPath: relPath})
				continue
			}
		}

		// stage 3: parse, validate, enqueue.
		load, loadErr := mdstore.Load(repoRoot, relPath, e.registry)
		if loadErr != nil {
			stats.warn(relPath, loadErr.Error())
			continue
		}
		changed = append(changed, classified{relPath: relPath, load: load, mtime: mtime, size: size, isNew: !existed})
	}

	renamedOldPaths := make(map[string]bool, len(renames))
	for _, r := range renames {
		renamedOldPaths[r.oldPath] = true
	}

	var deletedPaths []string
	for _, p := range man.Paths() {
		if seen[p] || renamedOldPaths[p] {
			continue
		}
		deletedPaths = append(deletedPaths, p)
	}
	sort.Strings(deletedPaths)

	embedStart := time.Now()
	texts := make([]string, len(changed))
	for i, c := range changed {
		texts[i] = embedText(c.load.Document)
	}
	var vectors [][]float32
	if len(texts) > 0 {
		breakerErr := e.breaker.Execute(func() error {
			var embedErr error
			vectors, embedErr = e.embedder.EmbedBatch(ctx, texts)
			return embedErr
		})
		if breakerErr != nil {
			if errors.Is(breakerErr, ixerr.ErrCircuitOpen) {
				return stats, fmt.Errorf("sync: embedding provider circuit open, aborting sync: %w", breakerErr)
			}
			return stats, fmt.Errorf("sync: embedding batch: %w", breakerErr)
		}
	}
	stats.EmbedDurationMS = time.Since(embedStart).Milliseconds()

	commitStart := time.Now()
	err = e.cache.BeginWrite(func(tx *store.WriteTxn) error {
		for _, r := range renames {
			if err := e.applyRename(tx, man, r, &stats); err != nil {
				return err
			}
		}

		for _, relPath := range deletedPaths {
			entry, _ := man.Get(relPath)
			if err := tx.DeleteNode(entry.NodeID); err != nil {
				return fmt.Errorf("sync: deleting node for %s: %w", relPath, err)
			}
			man.Delete(relPath)
			stats.FilesDeleted++
		}

		// Nodes for every changed file are upserted before any edge is
		// reconciled, so a relation to another file changing in this same
		// pass resolves regardless of which of the two sorts first.
		var toReconcile []reconcileTarget
		for i, c := range changed {
			target, ok, err := e.upsertChangedNode(tx, man, c, vectors[i], activeModel, &stats)
			if err != nil {
				return err
			}
			if ok {
				toReconcile = append(toReconcile, target)
			}
		}

		for _, t := range toReconcile {
			if err := e.reconcileEdges(tx, t.kind, t.nodeID, t.ent, &stats); err != nil {
				return err
			}
		}

		return tx.PutManifest(man)
	})
	stats.CommitDurationMS = time.Since(commitStart).Milliseconds()
	if err != nil {
		return stats, fmt.Errorf("sync: commit failed: %w", err)
	}

	return stats, nil
}

// applyRename updates file_path on the node and moves the manifest
// entry, without re-embedding (spec.md §4.5 step 5).
func (e *Engine) applyRename(tx *store.WriteTxn, man *manifest.Manifest, r renameOp, stats *Stats) error {
	entry, ok := man.Rename(r.oldPath, r.newPath)
	if !ok {
		return nil
	}

	node, found, err := tx.GetNode(entry.NodeID)
	if err != nil {
		return fmt.Errorf("sync: loading node for rename %s: %w", r.newPath, err)
	}
	if !found {
		return nil
	}
	node.FilePath = r.newPath
	if err := tx.UpsertNode(node); err != nil {
		return fmt.Errorf("sync: updating renamed node %s: %w", r.newPath, err)
	}
	stats.FilesRenamed++
	return nil
}

// reconcileTarget carries what reconcileEdges needs for one node, deferred
// until every changed node in the pass has been upserted.
type reconcileTarget struct {
	kind   entity.Kind
	nodeID string
	ent    entity.Entity
}

// upsertChangedNode validates one changed or new file, stores its
// precomputed vector, and upserts its node. Edge reconciliation is deferred to the caller: ok
// is false when the entity failed validation and there is nothing to
// reconcile.
func (e *Engine) upsertChangedNode(tx *store.WriteTxn, man *manifest.Manifest, c classified, vector []float32, activeModel string, stats *Stats) (reconcileTarget, bool, error) {
	fm := c.load.Document.Frontmatter
	entID := fm.ID

	var nodeID, vectorID string
	var prevStatus, prevTitle string

	existingNode, found, err := tx.GetNodeByEntityID(entID)
	if err != nil {
		return reconcileTarget{}, false, fmt.Errorf("sync: looking up existing node for %s: %w", entID, err)
	}
	if found {
		nodeID = existingNode.ID
		vectorID = existingNode.VectorID
		prevStatus = existingNode.Status
		prevTitle = existingNode.Title
	} else {
		nodeID = uuid.NewString()
	}

	ent := entityFromDocument(e.registry, fm, entID, c.load.Document.Body, c.relPath)

	bodyHash := ident.ContentHashHex([]byte(c.load.Document.Body))
	prevBody := ""
	if found && existingNode.BodyHash == bodyHash {
		prevBody = c.load.Document.Body
	}

	if err := e.registry.ValidateEntity(ent, prevStatus, prevTitle, prevBody); err != nil {
		stats.warn(c.relPath, err.Error())
		return reconcileTarget{}, false, nil
	}

	if vectorID == "" {
		vectorID = uuid.NewString()
	}
	if err := tx.InsertVector(vectorID, vector); err != nil {
		return reconcileTarget{}, false, fmt.Errorf("sync: inserting vector for %s: %w", c.relPath, err)
	}

	kind, _ := e.registry.KindByName(ent.Kind)
	node := store.Node{
		ID:          nodeID,
		EntityID:    entID,
		Kind:        ent.Kind,
		Title:       ent.Title,
		Status:      ent.Status,
		FilePath:    c.relPath,
		ContentHash: c.load.ContentHash,
		BodyHash:    bodyHash,
		VectorID:    vectorID,
		Tags:        ent.Tags,
	}
	if err := tx.UpsertNode(node); err != nil {
		return reconcileTarget{}, false, fmt.Errorf("sync: upserting node for %s: %w", c.relPath, err)
	}

	man.Set(c.relPath, manifest.Entry{
		MTime:          c.mtime,
		Size:           c.size,
		ContentHash:    c.load.ContentHash,
		NodeID:         nodeID,
		VectorID:       vectorID,
		EmbeddingModel: activeModel,
		IndexerVersion: manifest.IndexerVersion,
	})

	if c.isNew {
		stats.FilesAdded++
	} else {
		stats.FilesModified++
	}
	return reconcileTarget{kind: kind, nodeID: nodeID, ent: ent}, true, nil
}

// reconcileEdges computes the desired outgoing edge set from ent's
// relationships, diffs it against the persisted out_edges, and applies
// the symmetric difference (spec.md §4.5 "Edge reconciliation detail").
func (e *Engine) reconcileEdges(tx *store.WriteTxn, fromKind entity.Kind, nodeID string, ent entity.Entity, stats *Stats) error {
	type key struct{ label, targetID string }

	desired := make(map[key]bool)
	for label, values := range ent.Relationships {
		for _, v := range values {
			target, found, err := tx.GetNodeByEntityID(v.ID)
			if err != nil {
				return fmt.Errorf("sync: resolving relation target %s: %w", v.ID, err)
			}
			if !found {
				stats.EdgesRefused++
				stats.warn(ent.FilePath, fmt.Sprintf("relation %q target %q does not exist", label, v.ID))
				continue
			}
			if err := e.registry.ValidateRelationship(fromKind.Name, label, target.Kind); err != nil {
				stats.EdgesRefused++
				stats.warn(ent.FilePath, err.Error())
				continue
			}
			if e.registry.IsBlocking(label) {
				if createsCycle(tx, nodeID, target.ID, label) {
					stats.EdgesRefused++
					stats.warn(ent.FilePath, fmt.Sprintf("relation %q to %q would create a cycle", label, v.ID))
					continue
				}
			}
			desired[key{label, target.ID}] = true
		}
	}

	existing, err := tx.OutEdges(nodeID, "")
	if err != nil {
		return fmt.Errorf("sync: loading existing edges for %s: %w", nodeID, err)
	}
	existingByKey := make(map[key]store.Edge, len(existing))
	for _, edge := range existing {
		existingByKey[key{edge.Label, edge.ToNode}] = edge
	}

	for k := range desired {
		if _, ok := existingByKey[k]; ok {
			continue
		}
		newEdge := store.Edge{
			ID:       uuid.NewString(),
			FromNode: nodeID,
			ToNode:   k.targetID,
			Label:    k.label,
		}
		if err := tx.UpsertEdge(newEdge); err != nil {
			return fmt.Errorf("sync: adding edge %s->%s: %w", nodeID, k.targetID, err)
		}
		stats.EdgesAdded++
	}

	for k, edge := range existingByKey {
		if desired[k] {
			continue
		}
		if err := tx.DeleteEdge(edge.ID); err != nil {
			return fmt.Errorf("sync: removing edge %s: %w", edge.ID, err)
		}
		stats.EdgesRemoved++
	}

	return nil
}

// createsCycle reports whether adding fromNode -[label]-> toNode would
// close a cycle, by checking whether toNode already reaches fromNode via
// edges of the same blocking label. This is the graph traversal spec.md
// §4.1 delegates to the Sync Engine, out of entity.Registry's reach.
func createsCycle(tx *store.WriteTxn, fromNode, toNode, label string) bool {
	if fromNode == toNode {
		return true
	}
	visited := map[string]bool{toNode: true}
	queue := []string{toNode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out, err := tx.OutEdges(cur, label)
		if err != nil {
			return false
		}
		for _, edge := range out {
			if edge.ToNode == fromNode {
				return true
			}
			if !visited[edge.ToNode] {
				visited[edge.ToNode] = true
				queue = append(queue, edge.ToNode)
			}
		}
	}
	return false
}

// entityFromDocument converts a parsed frontmatter document into an
// entity.Entity for registry validation. mdstore.Load has already
// confirmed entID's prefix resolves in reg, so the lookup here cannot
// fail in practice.
func entityFromDocument(reg *entity.Registry, fm mdstore.Frontmatter, entID, body, relPath string) entity.Entity {
	prefix, _, _ := ident.Split(entID)
	kindName := prefix
	if kind, ok := reg.KindByPrefix(prefix); ok {
		kindName = kind.Name
	}
	return entity.Entity{
		ID:            entID,
		Kind:          kindName,
		Title:         fm.Title,
		Status:        fm.Status,
		CreatedAt:     fm.CreatedAt,
		UpdatedAt:     fm.UpdatedAt,
		CreatedBy:     fm.CreatedBy,
		Tags:          fm.Tags,
		Body:          body,
		FilePath:      relPath,
		Relationships: fm.Relations,
	}
}

// embedText builds the text handed to the Embedding Provider: title plus
// body, so the vector captures both.
func embedText(doc mdstore.Document) string {
	if doc.Frontmatter.Title == "" {
		return doc.Body
	}
	return doc.Frontmatter.Title + "\n\n" + doc.Body
}

func filterUnderDirectory(paths []string, dir string) []string {
	var out []string
	for _, p := range paths {
		if p == dir || filepathHasPrefix(p, dir) {
			out = append(out, p)
		}
	}
	return out
}

func filepathHasPrefix(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}
