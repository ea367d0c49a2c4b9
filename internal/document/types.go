// Package document defines the input model the merge engine consumes from
// the cracking/chunking stage: source documents, their derived chunks, and
// the single-traversal iterator that delivers them.
package document

import "time"

// Chunk is one sub-unit of a source document's text, the unit that gets
// embedded into a vector.
//
// ID must be deterministic for the same source and offset under unchanged
// chunking parameters, so re-runs can recognize unchanged chunks.
type Chunk struct {
	// ID is the stable chunk identity assigned by the chunking stage.
	ID string

	// Metadata is an opaque key-value mapping carried through to the
	// embedded record.
	Metadata map[string]string

	// loadData yields the chunk text on demand.
	loadData func() (string, error)

	// data is set when the chunk text is already in memory.
	data   string
	loaded bool
}

// NewChunk creates a chunk whose text is already in memory.
func NewChunk(id, data string, metadata map[string]string) Chunk {
	return Chunk{ID: id, Metadata: metadata, data: data, loaded: true}
}

// NewLazyChunk creates a chunk whose text is loaded on first use.
func NewLazyChunk(id string, load func() (string, error), metadata map[string]string) Chunk {
	return Chunk{ID: id, Metadata: metadata, loadData: load}
}

// LoadData returns the chunk text, reading it lazily if necessary.
func (c *Chunk) LoadData() (string, error) {
	if c.loaded {
		return c.data, nil
	}
	if c.loadData == nil {
		return "", nil
	}
	data, err := c.loadData()
	if err != nil {
		return "", err
	}
	c.data = data
	c.loaded = true
	return data, nil
}

// Source is one externally-addressable content unit subject to
// cracking/chunking, together with the chunks derived from it.
type Source struct {
	// Filename is the stable source key, unique per source across runs.
	// Typically a relative path or URI.
	Filename string

	// MTime is the source modification time. Nil means unknown, which the
	// merge engine treats as always stale.
	MTime *time.Time

	// Chunks are the chunks derived from this source, in document order.
	Chunks []Chunk
}

// Iterator is a lazy, finite, single-traversal sequence of cracked sources.
// Next returns nil, nil when the sequence is exhausted.
type Iterator interface {
	Next() (*Source, error)
}

// sliceIterator adapts an in-memory slice to Iterator. Used by tests and by
// callers that already hold the full snapshot.
type sliceIterator struct {
	sources []Source
	pos     int
}

// FromSlice wraps a slice of sources in a single-traversal Iterator.
func FromSlice(sources []Source) Iterator {
	return &sliceIterator{sources: sources}
}

func (it *sliceIterator) Next() (*Source, error) {
	if it.pos >= len(it.sources) {
		return nil, nil
	}
	s := &it.sources[it.pos]
	it.pos++
	return s, nil
}
