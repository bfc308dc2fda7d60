package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MetadataKey is the key this manifest is stored under inside the
// Indexed Cache's metadata bucket.
const MetadataKey = "manifest:ixchel:v1"

// IndexerVersion is bumped whenever a schema migration changes how
// entries are interpreted; a mismatch forces a file back into the
// changed set regardless of its hash (spec.md §3).
const IndexerVersion = 1

// Entry is one manifest row, keyed externally by repo-relative path.
type Entry struct {
	MTime          int64  `json:"mtime"`
	Size           int64  `json:"size"`
	ContentHash    string `json:"content_hash"`
	NodeID         string `json:"node_id"`
	VectorID       string `json:"vector_id"`
	EmbeddingModel string `json:"embedding_model"`
	IndexerVersion int    `json:"indexer_version"`
}

// MatchesStat reports whether mtime/size are unchanged from this entry
// (classification stage 1 — spec.md §4.5).
func (e Entry) MatchesStat(mtime, size int64) bool {
	return e.MTime == mtime && e.Size == size
}

// MatchesHash reports whether contentHash is unchanged from this entry
// (classification stage 2).
func (e Entry) MatchesHash(contentHash string) bool {
	return e.ContentHash == contentHash
}

// NeedsReembed reports whether this entry's embedding model or indexer
// version is stale relative to the active provider, forcing the file
// into the changed set regardless of its content hash.
func (e Entry) NeedsReembed(activeModel string) bool {
	return e.EmbeddingModel != activeModel || e.IndexerVersion != IndexerVersion
}

// Manifest is the full set of entries for one repo, keyed by path
// relative to the repo root. It is safe for concurrent read and is
// intended to be mutated only by a single Sync Engine pass under its
// one write transaction (spec.md §5).
type Manifest struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty manifest, used when none is yet persisted.
func New() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

// Decode parses a manifest previously produced by Encode. Decoding a
// schema it does not recognize is not this function's job — callers
// that read a version-incompatible blob should treat it as absent
// (spec.md §4.5 step 1), not call Decode on it.
func Decode(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var payload struct {
		Entries map[string]Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("manifest: decoding: %w", err)
	}
	if payload.Entries == nil {
		payload.Entries = make(map[string]Entry)
	}
	return &Manifest{entries: payload.Entries}, nil
}

// Encode serializes the manifest for storage under MetadataKey.
func (m *Manifest) Encode() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload := struct {
		Entries map[string]Entry `json:"entries"`
	}{Entries: m.entries}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding: %w", err)
	}
	return data, nil
}

// Get returns the entry for path, if any.
func (m *Manifest) Get(path string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path]
	return e, ok
}

// Set records or replaces the entry for path.
func (m *Manifest) Set(path string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = e
}

// Delete removes path's entry, if present.
func (m *Manifest) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
}

// Rename moves oldPath's entry to newPath, leaving its fingerprint
// intact — used for the renamed-file case in spec.md §4.5 step 5, where
// the node's file_path is updated but the file is not re-embedded.
func (m *Manifest) Rename(oldPath, newPath string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[oldPath]
	if !ok {
		return Entry{}, false
	}
	delete(m.entries, oldPath)
	m.entries[newPath] = e
	return e, true
}

// Paths returns every path currently tracked, sorted, so callers can
// diff the manifest against a freshly enumerated file list to find
// deletions.
func (m *Manifest) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// FindByContentHash returns the path (if any) whose entry has the given
// content hash, used to detect renames: a file appearing at a new path
// with a hash matching a manifest entry at a now-missing path.
func (m *Manifest) FindByContentHash(hash string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p, e := range m.entries {
		if e.ContentHash == hash {
			return p, true
		}
	}
	return "", false
}
