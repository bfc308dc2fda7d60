package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kevinmichaelchen/ixchel/internal/ident"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
	"github.com/kevinmichaelchen/ixchel/internal/manifest"
)

// Bucket names implement the spec.md §3 table-to-bucket mapping
// documented in SPEC_FULL.md §6.4.
var (
	bucketNodes      = []byte("nodes")
	bucketEdges      = []byte("edges")
	bucketOutEdges   = []byte("out_edges")
	bucketInEdges    = []byte("in_edges")
	bucketByEntityID = []byte("by_entity_id")
	bucketByVectorID = []byte("by_vector_id")
	bucketMetadata   = []byte("metadata")

	allBuckets = [][]byte{bucketNodes, bucketEdges, bucketOutEdges, bucketInEdges, bucketByEntityID, bucketByVectorID, bucketMetadata}
)

const dataFileName = "data.mdb"
const vectorFileName = "vectors.hnsw"

// uuidLen is the fixed width of the opaque ids minted for nodes, edges,
// and vectors (google/uuid's canonical string form), which the
// composite adjacency keys rely on for fixed-offset decoding.
const uuidLen = 36
const labelHashLen = 8

// Cache is the Indexed Cache (spec.md §4.4): a bbolt-backed graph store
// for nodes/edges, paired with an HNSW vector index. begin_write and
// begin_read map directly onto bbolt's Update/View closures — bbolt
// already is single-writer/multi-reader-snapshot, so this is not an
// emulation of the spec's abstract contract, it is bbolt's native
// transaction model.
type Cache struct {
	db         *bolt.DB
	vectors    VectorStore
	dataDir    string
	vectorPath string
	readOnly   bool
}

// Open opens (creating if absent) the cache rooted at dataDir
// ({repo}/.ixchel/data/ixchel in spec.md §6's on-disk layout).
func Open(dataDir string, vecCfg VectorStoreConfig) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dataFileName)
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, translateOpenErr(err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing buckets: %w", err)
	}

	vectors, err := NewHNSWStore(vecCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating vector store: %w", err)
	}

	vectorPath := filepath.Join(dataDir, vectorFileName)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: loading vector store: %w", err)
		}
	}

	return &Cache{db: db, vectors: vectors, dataDir: dataDir, vectorPath: vectorPath}, nil
}

// OpenReadOnly opens an existing cache for reads only, using bbolt's
// shared flock mode so it can run alongside the daemon's read-write
// handle on the same dataDir (spec.md §5: "Search and read queries must
// not block on writers"). It never creates the database or its
// buckets — the daemon (or a prior direct-mode sync) must have run
// first.
func OpenReadOnly(dataDir string, vecCfg VectorStoreConfig) (*Cache, error) {
	dbPath := filepath.Join(dataDir, dataFileName)
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, translateOpenErr(err)
	}

	vectors, err := NewHNSWStore(vecCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating vector store: %w", err)
	}

	vectorPath := filepath.Join(dataDir, vectorFileName)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: loading vector store: %w", err)
		}
	}

	return &Cache{db: db, vectors: vectors, dataDir: dataDir, vectorPath: vectorPath, readOnly: true}, nil
}

func translateOpenErr(err error) error {
	if os.IsPermission(err) {
		return ixerr.New(ixerr.ErrCodeFilePermission, err.Error(), err)
	}
	return ixerr.New(ixerr.ErrCodeDiskFull, err.Error(), err)
}

// Close persists the vector store and closes the underlying database. A
// cache opened with OpenReadOnly never mutated its vector store and may
// not hold write permission on vectorPath, so it skips the save.
func (c *Cache) Close() error {
	if !c.readOnly {
		if err := c.vectors.Save(c.vectorPath); err != nil {
			return fmt.Errorf("store: saving vector store: %w", err)
		}
	}
	return c.db.Close()
}

// Vectors exposes the vector store for the Query Surface's Search
// implementation, which reads concurrently with any in-flight writer
// (spec.md §5: "Search and read queries must not block on writers").
func (c *Cache) Vectors() VectorStore {
	return c.vectors
}

// txCore holds the shared read-side accessors used by both ReadTxn and
// WriteTxn — bbolt's *bolt.Tx already enforces writability at the
// transaction level, so the two wrapper types differ only in which
// mutating methods they expose.
type txCore struct {
	tx *bolt.Tx
}

// GetNode looks up a node by its opaque node_id.
func (t *txCore) GetNode(nodeID string) (Node, bool, error) {
	raw := t.tx.Bucket(bucketNodes).Get([]byte(nodeID))
	if raw == nil {
		return Node{}, false, nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, false, fmt.Errorf("store: decoding node %s: %w", nodeID, err)
	}
	return n, true, nil
}

// GetNodeByEntityID resolves an entity id (e.g. "dec-a1b2c3d4") to its
// node via the by_entity_id secondary index.
func (t *txCore) GetNodeByEntityID(entityID string) (Node, bool, error) {
	nodeID := t.tx.Bucket(bucketByEntityID).Get([]byte(entityID))
	if nodeID == nil {
		return Node{}, false, nil
	}
	return t.GetNode(string(nodeID))
}

// GetNodeByVectorID resolves a vector_id back to its owning node via
// the by_vector_id inverse map, the lookup the Query Surface's Search
// filter pushdown uses to read kind/tags without re-embedding (spec.md
// §4.7, SPEC_FULL.md §6.8).
func (t *txCore) GetNodeByVectorID(vectorID string) (Node, bool, error) {
	nodeID := t.tx.Bucket(bucketByVectorID).Get([]byte(vectorID))
	if nodeID == nil {
		return Node{}, false, nil
	}
	return t.GetNode(string(nodeID))
}

// OutEdges returns edges leaving fromNode, optionally filtered to one
// label, ordered by edge_id (bbolt's sorted-byte-key iteration gives
// this for free within the from/label key prefix — SPEC_FULL.md §6.4).
func (t *txCore) OutEdges(fromNode, label string) ([]Edge, error) {
	return t.adjacency(bucketOutEdges, fromNode, label)
}

// InEdges returns edges arriving at toNode, optionally filtered to one
// label.
func (t *txCore) InEdges(toNode, label string) ([]Edge, error) {
	return t.adjacency(bucketInEdges, toNode, label)
}

func (t *txCore) adjacency(bucket []byte, anchor, label string) ([]Edge, error) {
	c := t.tx.Bucket(bucket).Cursor()
	prefix := []byte(anchor)
	if label != "" {
		prefix = append(prefix, labelHash(label)...)
	}

	var edges []Edge
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		edgeID := string(v)
		raw := t.tx.Bucket(bucketEdges).Get([]byte(edgeID))
		if raw == nil {
			continue
		}
		var e Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("store: decoding edge %s: %w", edgeID, err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// GetManifest loads the sync manifest from the metadata bucket, or an
// empty manifest if none has been persisted yet (spec.md §4.5 step 1).
func (t *txCore) GetManifest() (*manifest.Manifest, error) {
	raw := t.tx.Bucket(bucketMetadata).Get([]byte(manifest.MetadataKey))
	return manifest.Decode(raw)
}

// ReadTxn is a read-only snapshot view of the cache.
type ReadTxn struct {
	txCore
}

// WriteTxn is the single in-flight write transaction for one sync pass
// (spec.md §4.5 step 5/6): "Mutate the cache under one write
// transaction per sync" ... "Persist manifest as the last write in the
// transaction; commit."
type WriteTxn struct {
	txCore
	cache *Cache
}

// BeginRead runs fn against a read-only snapshot. Any number of
// BeginRead calls may run concurrently with one BeginWrite.
func (c *Cache) BeginRead(fn func(*ReadTxn) error) error {
	return c.db.View(func(tx *bolt.Tx) error {
		return fn(&ReadTxn{txCore{tx}})
	})
}

// BeginWrite runs fn under bbolt's single writer lock.
func (c *Cache) BeginWrite(fn func(*WriteTxn) error) error {
	if c.readOnly {
		return fmt.Errorf("store: cache opened read-only")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return fn(&WriteTxn{txCore{tx}, c})
	})
}

// InsertVector stores vec under the caller-supplied vectorID, replacing
// any vector already stored under it (spec.md §4.5 step 5's
// insert_vector).
func (w *WriteTxn) InsertVector(vectorID string, vec []float32) error {
	return w.cache.vectors.Add(context.Background(), []string{vectorID}, [][]float32{vec})
}

// DeleteVector tombstones vec_id, used by delete_node's cascade.
func (w *WriteTxn) DeleteVector(vectorID string) error {
	return w.cache.vectors.Delete(context.Background(), []string{vectorID})
}

// UpsertNode writes node, keeping the by_entity_id secondary index in
// sync (spec.md §3: "A secondary index on id enables constant-time
// lookup by entity id").
func (w *WriteTxn) UpsertNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("store: node has no id")
	}

	if existing, ok, err := w.GetNode(n.ID); err != nil {
		return err
	} else if ok && existing.VectorID != "" && existing.VectorID != n.VectorID {
		if err := w.tx.Bucket(bucketByVectorID).Delete([]byte(existing.VectorID)); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("store: encoding node: %w", err)
	}
	if err := w.tx.Bucket(bucketNodes).Put([]byte(n.ID), raw); err != nil {
		return err
	}
	if err := w.tx.Bucket(bucketByEntityID).Put([]byte(n.EntityID), []byte(n.ID)); err != nil {
		return err
	}
	if n.VectorID != "" {
		if err := w.tx.Bucket(bucketByVectorID).Put([]byte(n.VectorID), []byte(n.ID)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteNode removes nodeID and cascades its outgoing/incoming edges,
// secondary-index entry, and vector (spec.md invariant 6).
func (w *WriteTxn) DeleteNode(nodeID string) error {
	n, ok, err := w.GetNode(nodeID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	out, err := w.OutEdges(nodeID, "")
	if err != nil {
		return err
	}
	for _, e := range out {
		if err := w.DeleteEdge(e.ID); err != nil {
			return err
		}
	}

	in, err := w.InEdges(nodeID, "")
	if err != nil {
		return err
	}
	for _, e := range in {
		if err := w.DeleteEdge(e.ID); err != nil {
			return err
		}
	}

	if n.VectorID != "" {
		if err := w.DeleteVector(n.VectorID); err != nil {
			return err
		}
		if err := w.tx.Bucket(bucketByVectorID).Delete([]byte(n.VectorID)); err != nil {
			return err
		}
	}

	if err := w.tx.Bucket(bucketByEntityID).Delete([]byte(n.EntityID)); err != nil {
		return err
	}
	return w.tx.Bucket(bucketNodes).Delete([]byte(nodeID))
}

// UpsertEdge writes edge to the canonical edges record plus both
// adjacency indexes (spec.md §3's "stored redundantly in three
// indexes").
func (w *WriteTxn) UpsertEdge(e Edge) error {
	if e.ID == "" {
		return fmt.Errorf("store: edge has no id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: encoding edge: %w", err)
	}
	if err := w.tx.Bucket(bucketEdges).Put([]byte(e.ID), raw); err != nil {
		return err
	}
	if err := w.tx.Bucket(bucketOutEdges).Put(outEdgeKey(e.FromNode, e.Label, e.ID), []byte(e.ID)); err != nil {
		return err
	}
	return w.tx.Bucket(bucketInEdges).Put(inEdgeKey(e.ToNode, e.Label, e.ID), []byte(e.ID))
}

// DeleteEdge removes edgeID from the canonical record and both
// adjacency indexes.
func (w *WriteTxn) DeleteEdge(edgeID string) error {
	raw := w.tx.Bucket(bucketEdges).Get([]byte(edgeID))
	if raw == nil {
		return nil
	}
	var e Edge
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("store: decoding edge %s: %w", edgeID, err)
	}

	if err := w.tx.Bucket(bucketOutEdges).Delete(outEdgeKey(e.FromNode, e.Label, e.ID)); err != nil {
		return err
	}
	if err := w.tx.Bucket(bucketInEdges).Delete(inEdgeKey(e.ToNode, e.Label, e.ID)); err != nil {
		return err
	}
	return w.tx.Bucket(bucketEdges).Delete([]byte(edgeID))
}

// PutManifest persists m as the final write of the transaction (spec.md
// §4.5 step 6).
func (w *WriteTxn) PutManifest(m *manifest.Manifest) error {
	raw, err := m.Encode()
	if err != nil {
		return err
	}
	return w.tx.Bucket(bucketMetadata).Put([]byte(manifest.MetadataKey), raw)
}

func outEdgeKey(fromNode, label, edgeID string) []byte {
	return compositeKey(fromNode, label, edgeID)
}

func inEdgeKey(toNode, label, edgeID string) []byte {
	return compositeKey(toNode, label, edgeID)
}

func compositeKey(anchor, label, edgeID string) []byte {
	key := make([]byte, 0, len(anchor)+labelHashLen+len(edgeID))
	key = append(key, []byte(anchor)...)
	key = append(key, labelHash(label)...)
	key = append(key, []byte(edgeID)...)
	return key
}

// labelHash hashes a relation label to a fixed-width byte string so the
// composite adjacency key sorts by (anchor, label, edge_id) regardless
// of label length — "label hashing uses the same algorithm used in the
// adjacency key to preserve lookup correctness" (spec.md §4.5).
func labelHash(label string) []byte {
	sum := ident.ContentHash([]byte(label))
	return sum[:labelHashLen]
}
