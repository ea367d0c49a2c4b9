// Package container implements the versioned embeddings container: the
// source and chunk registries, the incremental merge engine that reconciles
// a freshly cracked snapshot against them, and the save/load surface.
//
// Registries are only ever rebuilt through Merge or Load; callers get
// read access but no direct mutation, which keeps the referential
// invariants enforceable in one place.
package container

import (
	"time"
)

// SourceRecord tracks one source document: its stable filename key, its
// modification time, and the chunk IDs currently derived from it.
type SourceRecord struct {
	// Filename is the stable source key, unique per source across runs.
	Filename string

	// MTime is the source modification time. Nil means unknown, which is
	// treated as always stale on the next merge.
	MTime *time.Time

	// ChunkIDs lists the chunks derived from this source, in document order.
	ChunkIDs []string
}

// ChunkRecord is one embedded chunk: its content-addressing hash, its
// vector, and the metadata carried through from the chunking stage.
type ChunkRecord struct {
	// ID is the stable chunk identity assigned by the chunking stage.
	ID string

	// MTime is propagated from the owning source.
	MTime *time.Time

	// ContentHash is the hex sha256 digest of the chunk text.
	ContentHash string

	// Data is the chunk text that was embedded.
	Data string

	// Vector is the embedding. Dimensionality is uniform per container.
	Vector []float32

	// Metadata is opaque to the engine. Always carries "content_hash".
	Metadata map[string]string
}

// MergeStats reports what one merge pass decided, at both granularities.
// Diagnostics only; correctness never depends on these counts.
type MergeStats struct {
	SourcesEmbedded int
	SourcesReused   int
	SourcesDeleted  int
	ChunksEmbedded  int
	ChunksReused    int
	ChunksDeleted   int
}

// orderedMap is an insertion-ordered string-keyed map. Registry iteration
// order is not load-bearing but keeps logging and persistence deterministic.
type orderedMap[V any] struct {
	keys   []string
	values map[string]V
}

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{values: make(map[string]V)}
}

func (m *orderedMap[V]) set(key string, value V) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap[V]) get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *orderedMap[V]) has(key string) bool {
	_, ok := m.values[key]
	return ok
}

func (m *orderedMap[V]) len() int {
	return len(m.values)
}

// each visits entries in insertion order.
func (m *orderedMap[V]) each(fn func(key string, value V)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}
