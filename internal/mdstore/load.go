package mdstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/ident"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

// LoadResult bundles a parsed file with its fingerprint, ready for the
// Sync Engine's classify/embed/mutate pipeline.
type LoadResult struct {
	Document    Document
	ContentHash string
	Size        int64
}

// Load reads path (relative to repoRoot), parses its frontmatter, and
// verifies that the filename stem matches the frontmatter id (spec §4.3
// IdMismatch) and that the id's prefix is registered (UnknownPrefix).
func Load(repoRoot, relPath string, reg *entity.Registry) (LoadResult, error) {
	absPath := filepath.Join(repoRoot, relPath)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return LoadResult{}, fmt.Errorf("mdstore: reading %s: %w", relPath, err)
	}

	doc, err := Parse(raw)
	if err != nil {
		if e, ok := err.(*ixerr.Error); ok {
			e.WithDetail("file", relPath)
		}
		return LoadResult{}, err
	}

	stem := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	if stem != doc.Frontmatter.ID {
		return LoadResult{}, ixerr.ValidationError(ixerr.ErrCodeIDMismatch,
			fmt.Sprintf("filename %q does not match frontmatter id %q", stem, doc.Frontmatter.ID), relPath)
	}

	prefix, _, ok := ident.Split(doc.Frontmatter.ID)
	if !ok {
		return LoadResult{}, ixerr.ValidationError(ixerr.ErrCodeUnknownPrefix,
			fmt.Sprintf("id %q is not of the form prefix-hex", doc.Frontmatter.ID), relPath)
	}
	if reg != nil {
		if _, ok := reg.KindByPrefix(prefix); !ok {
			return LoadResult{}, ixerr.ValidationError(ixerr.ErrCodeUnknownPrefix,
				fmt.Sprintf("prefix %q is not registered", prefix), relPath)
		}
	}

	return LoadResult{
		Document:    doc,
		ContentHash: ident.ContentHashHex(raw),
		Size:        int64(len(raw)),
	}, nil
}

// Write serializes doc and writes it to repoRoot/relPath, creating parent
// directories as needed.
func Write(repoRoot, relPath string, doc Document) error {
	data, err := Serialize(doc)
	if err != nil {
		return err
	}
	absPath := filepath.Join(repoRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("mdstore: creating directory for %s: %w", relPath, err)
	}
	return os.WriteFile(absPath, data, 0o644)
}
