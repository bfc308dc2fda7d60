package mdstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/ixchel/internal/entity"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestLoadSucceedsForWellFormedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".ixchel/decisions/dec-aaa111.md", sample)

	reg, err := entity.LoadRegistry(root)
	require.NoError(t, err)

	res, err := Load(root, ".ixchel/decisions/dec-aaa111.md", reg)
	require.NoError(t, err)
	assert.Equal(t, "dec-aaa111", res.Document.Frontmatter.ID)
	assert.NotEmpty(t, res.ContentHash)
}

func TestLoadRejectsFilenameIDMismatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".ixchel/decisions/dec-wrong.md", sample)

	reg, err := entity.LoadRegistry(root)
	require.NoError(t, err)

	_, err = Load(root, ".ixchel/decisions/dec-wrong.md", reg)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownPrefix(t *testing.T) {
	root := t.TempDir()
	content := "---\nid: zzz-aaa111\ntitle: T\ncreated_at: 2026-01-15T00:00:00Z\nupdated_at: 2026-01-15T00:00:00Z\n---\nbody\n"
	writeFile(t, root, ".ixchel/decisions/zzz-aaa111.md", content)

	reg, err := entity.LoadRegistry(root)
	require.NoError(t, err)

	_, err = Load(root, ".ixchel/decisions/zzz-aaa111.md", reg)
	assert.Error(t, err)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	root := t.TempDir()
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.NoError(t, Write(root, ".ixchel/decisions/dec-aaa111.md", doc))

	reg, err := entity.LoadRegistry(root)
	require.NoError(t, err)
	res, err := Load(root, ".ixchel/decisions/dec-aaa111.md", reg)
	require.NoError(t, err)
	assert.Equal(t, doc.Frontmatter.Title, res.Document.Frontmatter.Title)
}
