package container

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Container is the versioned, persistable aggregate owning the source and
// chunk registries plus the embedding backend configuration.
//
// A container is exclusively owned by one process during a merge; there is
// no internal locking. Cross-process exclusion is handled by Lock.
type Container struct {
	kind      embed.Kind
	arguments map[string]string

	sources *orderedMap[*SourceRecord]
	chunks  *orderedMap[*ChunkRecord]

	// Tombstones from the most recent merge pass. Overwritten, not
	// accumulated, on every pass.
	deletedSources *orderedMap[*SourceRecord]
	deletedChunks  *orderedMap[*ChunkRecord]
}

// New creates an empty container configured for the given backend.
func New(kind embed.Kind, arguments map[string]string) *Container {
	args := make(map[string]string, len(arguments))
	for k, v := range arguments {
		args[k] = v
	}
	return &Container{
		kind:           kind,
		arguments:      args,
		sources:        newOrderedMap[*SourceRecord](),
		chunks:         newOrderedMap[*ChunkRecord](),
		deletedSources: newOrderedMap[*SourceRecord](),
		deletedChunks:  newOrderedMap[*ChunkRecord](),
	}
}

// FromURI parses a backend specification string (e.g.
// "ollama://model/nomic-embed-text") and returns an empty container wired
// to that backend family.
func FromURI(uri string, overrides map[string]string) (*Container, error) {
	kind, arguments, err := embed.ParseURI(uri, overrides)
	if err != nil {
		return nil, err
	}
	return New(kind, arguments), nil
}

// Kind returns the embedding backend family tag.
func (c *Container) Kind() embed.Kind {
	return c.kind
}

// Arguments returns a copy of the backend configuration mapping.
func (c *Container) Arguments() map[string]string {
	args := make(map[string]string, len(c.arguments))
	for k, v := range c.arguments {
		args[k] = v
	}
	return args
}

// Get returns the chunk record for the given chunk ID.
func (c *Container) Get(chunkID string) (*ChunkRecord, error) {
	rec, ok := c.chunks.get(chunkID)
	if !ok {
		return nil, errors.New(errors.ErrCodeChunkNotFound,
			fmt.Sprintf("chunk %q not found in container", chunkID), nil)
	}
	return rec, nil
}

// Len returns the chunk count (not the source count).
func (c *Container) Len() int {
	return c.chunks.len()
}

// SourceCount returns the number of tracked sources.
func (c *Container) SourceCount() int {
	return c.sources.len()
}

// Dimensions returns the vector dimensionality, or 0 for an empty container.
func (c *Container) Dimensions() int {
	for _, key := range c.chunks.keys {
		return len(c.chunks.values[key].Vector)
	}
	return 0
}

// Sources returns the source records in registry order.
func (c *Container) Sources() []*SourceRecord {
	out := make([]*SourceRecord, 0, c.sources.len())
	c.sources.each(func(_ string, rec *SourceRecord) {
		out = append(out, rec)
	})
	return out
}

// Chunks returns the chunk records in registry order.
func (c *Container) Chunks() []*ChunkRecord {
	out := make([]*ChunkRecord, 0, c.chunks.len())
	c.chunks.each(func(_ string, rec *ChunkRecord) {
		out = append(out, rec)
	})
	return out
}

// DeletedSources returns the sources tombstoned by the most recent merge.
func (c *Container) DeletedSources() []*SourceRecord {
	out := make([]*SourceRecord, 0, c.deletedSources.len())
	c.deletedSources.each(func(_ string, rec *SourceRecord) {
		out = append(out, rec)
	})
	return out
}

// DeletedChunks returns the chunks tombstoned by the most recent merge.
func (c *Container) DeletedChunks() []*ChunkRecord {
	out := make([]*ChunkRecord, 0, c.deletedChunks.len())
	c.deletedChunks.each(func(_ string, rec *ChunkRecord) {
		out = append(out, rec)
	})
	return out
}

// Embedder materializes the embedding backend this container is configured
// for. The caller owns the returned embedder and must Close it.
func (c *Container) Embedder(ctx context.Context) (embed.Embedder, error) {
	return embed.New(ctx, c.kind, c.arguments)
}

// QueryEmbedder materializes the backend wrapped with an LRU cache, suited
// for repeated query embedding against a built index.
func (c *Container) QueryEmbedder(ctx context.Context) (embed.Embedder, error) {
	inner, err := c.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(inner, embed.DefaultEmbeddingCacheSize), nil
}

// Validate checks the container's referential invariants:
//
//  1. every chunk ID referenced by a source exists in the chunk registry
//  2. every chunk is referenced by exactly one source
//  3. vector dimensionality is uniform
func (c *Container) Validate() error {
	owners := make(map[string]string, c.chunks.len())

	var err error
	c.sources.each(func(filename string, rec *SourceRecord) {
		if err != nil {
			return
		}
		for _, chunkID := range rec.ChunkIDs {
			if !c.chunks.has(chunkID) {
				err = errors.New(errors.ErrCodeContainerCorrupt,
					fmt.Sprintf("source %q references missing chunk %q", filename, chunkID), nil)
				return
			}
			if owner, taken := owners[chunkID]; taken {
				err = errors.New(errors.ErrCodeContainerCorrupt,
					fmt.Sprintf("chunk %q owned by both %q and %q", chunkID, owner, filename), nil)
				return
			}
			owners[chunkID] = filename
		}
	})
	if err != nil {
		return err
	}

	c.chunks.each(func(chunkID string, _ *ChunkRecord) {
		if err != nil {
			return
		}
		if _, owned := owners[chunkID]; !owned {
			err = errors.New(errors.ErrCodeContainerCorrupt,
				fmt.Sprintf("chunk %q has no owning source", chunkID), nil)
		}
	})
	if err != nil {
		return err
	}

	dims := -1
	c.chunks.each(func(chunkID string, rec *ChunkRecord) {
		if err != nil {
			return
		}
		if dims == -1 {
			dims = len(rec.Vector)
			return
		}
		if len(rec.Vector) != dims {
			err = errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("chunk %q has %d dimensions, container has %d", chunkID, len(rec.Vector), dims), nil)
		}
	})
	return err
}
