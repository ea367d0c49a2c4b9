// Package vectorindex builds an approximate-nearest-neighbor view over a
// container's embedded chunks, for query-time similarity search.
package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Options tunes the HNSW graph.
type Options struct {
	// M is the maximum connections per node (0 = 16).
	M int

	// EfSearch is the search expansion factor (0 = 20).
	EfSearch int
}

// Result is one nearest-neighbor hit.
type Result struct {
	// ChunkID identifies the matched chunk in the container.
	ChunkID string

	// Distance is the cosine distance to the query (0 = identical).
	Distance float32

	// Score is 1 - Distance/2, a 0..1 similarity.
	Score float32
}

// Index is an HNSW graph over chunk vectors with a string-to-key mapping.
// Deletions are lazy: the node stays in the graph but drops out of the
// mapping and never surfaces in results.
type Index struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// indexMetadata is the gob sidecar persisted next to the graph.
type indexMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// New creates an empty index for vectors of the given dimensionality.
func New(dimensions int, opts Options) *Index {
	if opts.M == 0 {
		opts.M = 16
	}
	if opts.EfSearch == 0 {
		opts.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = opts.M
	graph.EfSearch = opts.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

// Build creates an index over every chunk in the container.
func Build(c *container.Container, opts Options) (*Index, error) {
	idx := New(c.Dimensions(), opts)
	for _, rec := range c.Chunks() {
		if err := idx.Add(rec.ID, rec.Vector); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Add inserts or replaces one vector. Replacement orphans the old graph
// node rather than deleting it.
func (x *Index) Add(chunkID string, vector []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dimensions == 0 {
		x.dimensions = len(vector)
	}
	if len(vector) != x.dimensions {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector for %q has %d dimensions, index has %d", chunkID, len(vector), x.dimensions), nil)
	}

	if oldKey, exists := x.idMap[chunkID]; exists {
		delete(x.keyMap, oldKey)
		delete(x.idMap, chunkID)
	}

	key := x.nextKey
	x.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	x.graph.Add(hnsw.MakeNode(key, vec))
	x.idMap[chunkID] = key
	x.keyMap[key] = chunkID
	return nil
}

// Delete lazily removes vectors by chunk ID. Unknown IDs are ignored.
func (x *Index) Delete(chunkIDs ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range chunkIDs {
		if key, exists := x.idMap[id]; exists {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
}

// Sync applies one merge outcome to the index: tombstoned chunks drop
// out, current chunks are upserted.
func (x *Index) Sync(c *container.Container) error {
	for _, rec := range c.DeletedChunks() {
		x.Delete(rec.ID)
	}
	for _, rec := range c.Chunks() {
		if err := x.Add(rec.ID, rec.Vector); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the k nearest chunks to the query vector, best first.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(query) != x.dimensions {
		return nil, errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index has %d", len(query), x.dimensions), nil)
	}
	if x.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Overfetch to compensate for lazily deleted nodes still in the graph.
	orphans := x.graph.Len() - len(x.idMap)
	nodes := x.graph.Search(q, k+orphans)

	results := make([]Result, 0, k)
	for _, node := range nodes {
		id, live := x.keyMap[node.Key]
		if !live {
			continue
		}
		distance := x.graph.Distance(q, node.Value)
		results = append(results, Result{
			ChunkID:  id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Contains reports whether a chunk ID is live in the index.
func (x *Index) Contains(chunkID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, exists := x.idMap[chunkID]
	return exists
}

// Count returns the number of live vectors.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

// Dimensions returns the indexed vector dimensionality.
func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimensions
}

// Save persists the graph and its ID mapping sidecar, atomically per file.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.PersistenceError("failed to create index directory", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.PersistenceError("failed to create index file", err)
	}
	if err := x.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to export index graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to move index into place", err)
	}

	return x.saveMetadata(path + ".meta")
}

func (x *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.PersistenceError("failed to create index metadata file", err)
	}

	meta := indexMetadata{
		IDMap:      x.idMap,
		NextKey:    x.nextKey,
		Dimensions: x.dimensions,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to encode index metadata", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to close index metadata file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.PersistenceError("failed to move index metadata into place", err)
	}
	return nil
}

// Load reads a previously saved index.
func Load(path string, opts Options) (*Index, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, errors.PersistenceError("failed to open index metadata", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta indexMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, errors.PersistenceError("failed to decode index metadata", err)
	}

	idx := New(meta.Dimensions, opts)
	idx.idMap = meta.IDMap
	idx.nextKey = meta.NextKey
	for id, key := range meta.IDMap {
		idx.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.PersistenceError("failed to open index file", err)
	}
	defer func() { _ = f.Close() }()

	// Import needs an io.ByteReader.
	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, errors.PersistenceError("failed to import index graph", err)
	}
	return idx, nil
}

// normalizeInPlace scales a vector to unit length for cosine distance.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
