package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/ixchel/internal/embed"
	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/mdstore"
	"github.com/kevinmichaelchen/ixchel/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	repoRoot := t.TempDir()
	cache, err := store.Open(filepath.Join(repoRoot, ".ixchel", "data", "ixchel"), store.DefaultVectorStoreConfig(32))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	reg, err := entity.LoadRegistry(repoRoot)
	require.NoError(t, err)

	lister, err := mdstore.NewLister()
	require.NoError(t, err)

	provider := embed.NewStaticProvider(32, "static-32")

	engine := NewEngine(Dependencies{
		Cache:    cache,
		Registry: reg,
		Lister:   lister,
		Embedder: provider,
	})
	return engine, repoRoot
}

func writeEntity(t *testing.T, repoRoot, relPath, id, title, status string, extra string) {
	t.Helper()
	absPath := filepath.Join(repoRoot, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	body := fmt.Sprintf(`---
id: %s
title: %q
status: %s
created_at: 2026-01-01T00:00:00Z
updated_at: 2026-01-01T00:00:00Z
%s---

Body for %s.
`, id, title, status, extra, id)
	require.NoError(t, os.WriteFile(absPath, []byte(body), 0o644))
}

func TestSyncAddsNewEntityAsNode(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesAdded)
	assert.Equal(t, 0, stats.FilesModified)
	assert.Empty(t, stats.Warnings)

	var node store.Node
	var found bool
	require.NoError(t, engine.cache.BeginRead(func(tx *store.ReadTxn) error {
		n, ok, err := tx.GetNodeByEntityID("dec-0001")
		node, found = n, ok
		return err
	}))
	require.True(t, found)
	assert.Equal(t, "Use PostgreSQL", node.Title)
	assert.NotEmpty(t, node.VectorID)
}

func TestSyncSecondPassWithNoChangesSkipsFiles(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	_, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesAdded)
	assert.Equal(t, 0, stats.FilesModified)
}

func TestSyncDetectsModifiedFile(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	_, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use CockroachDB", "proposed", "")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesModified)

	var node store.Node
	require.NoError(t, engine.cache.BeginRead(func(tx *store.ReadTxn) error {
		n, _, err := tx.GetNodeByEntityID("dec-0001")
		node = n
		return err
	}))
	assert.Equal(t, "Use CockroachDB", node.Title)
}

func TestSyncDetectsDeletedFile(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	_, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(repoRoot, ".ixchel/decisions/dec-0001.md")))

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDeleted)

	var found bool
	require.NoError(t, engine.cache.BeginRead(func(tx *store.ReadTxn) error {
		_, ok, err := tx.GetNodeByEntityID("dec-0001")
		found = ok
		return err
	}))
	assert.False(t, found)
}

func TestSyncDetectsRename(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	_, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)

	oldAbs := filepath.Join(repoRoot, ".ixchel/decisions/dec-0001.md")
	newAbs := filepath.Join(repoRoot, ".ixchel/decisions/renamed-0001.md")
	require.NoError(t, os.Rename(oldAbs, newAbs))
	// Renaming keeps the same frontmatter id even though the filename
	// stem no longer matches; this file is intentionally excluded from
	// the id-mismatch check by never being re-parsed (rename, not edit).

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRenamed)

	var node store.Node
	require.NoError(t, engine.cache.BeginRead(func(tx *store.ReadTxn) error {
		n, _, err := tx.GetNodeByEntityID("dec-0001")
		node = n
		return err
	}))
	assert.Equal(t, ".ixchel/decisions/renamed-0001.md", node.FilePath)
}

func TestSyncReconcilesEdges(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")
	writeEntity(t, repoRoot, ".ixchel/issues/iss-0001.md", "iss-0001", "Pick a database", "open",
		"implements:\n  - dec-0001\n")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesAdded)
}

func TestSyncReconcilesEdgesRegardlessOfPathOrder(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	// The source is written before its target; the lister sorts paths,
	// so "decisions" (the target) is classified before "issues".
	writeEntity(t, repoRoot, ".ixchel/issues/iss-0001.md", "iss-0001", "Pick a database", "open",
		"implements:\n  - dec-0001\n")
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesAdded)
	assert.Equal(t, 0, stats.EdgesRefused)
}

func TestSyncRefusesCycleBetweenFilesAddedInSamePass(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/issues/iss-0001.md", "iss-0001", "First issue", "open",
		"blocks:\n  - iss-0002\n")
	writeEntity(t, repoRoot, ".ixchel/issues/iss-0002.md", "iss-0002", "Second issue", "open",
		"blocks:\n  - iss-0001\n")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesAdded)
	assert.Equal(t, 1, stats.EdgesRefused)
}

func TestSyncRefusesUnresolvedRelationTarget(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/issues/iss-0001.md", "iss-0001", "Pick a database", "open",
		"blocks:\n  - dec-nonexistent\n")

	stats, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesRefused)
}

func TestSyncForceReembedsUnchangedFile(t *testing.T) {
	engine, repoRoot := newTestEngine(t)
	writeEntity(t, repoRoot, ".ixchel/decisions/dec-0001.md", "dec-0001", "Use PostgreSQL", "proposed", "")

	_, err := engine.Sync(context.Background(), repoRoot, Options{})
	require.NoError(t, err)

	stats, err := engine.Sync(context.Background(), repoRoot, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesModified)
}
