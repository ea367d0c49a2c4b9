package container

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// MetadataContentHash is the metadata key the engine always sets on an
// embedded chunk.
const MetadataContentHash = "content_hash"

// Locator is optionally implemented by source iterators that know where
// their documents came from. Used to enrich NoDocumentsFound diagnostics.
type Locator interface {
	Location() (root string, patterns []string)
}

// pendingChunk is a chunk waiting on a vector from the embedding backend.
// Slice order is the batch submission order; vectors are zipped back by
// position, never by content, so identical texts cannot be conflated.
type pendingChunk struct {
	sourceIdx int
	id        string
	mtime     *time.Time
	data      string
	hash      string
	metadata  map[string]string
}

// mergeSource is one triaged entry of the incoming snapshot.
type mergeSource struct {
	filename string
	mtime    *time.Time
	reused   *SourceRecord    // set when the source is carried verbatim
	chunks   []document.Chunk // set when the source is to-embed
}

// Merge reconciles a freshly cracked snapshot of sources against the
// container's registries and returns a new container, leaving the input
// untouched. Chunks are re-embedded only when their source looks newer by
// mtime AND their content hash actually changed; everything else is carried
// forward. All texts needing vectors go to the backend in a single
// EmbedBatch call.
//
// On any error the input container is still valid: all triage results are
// buffered and the new registries are materialized only after the embed
// call has succeeded.
func Merge(ctx context.Context, c *Container, iter document.Iterator, embedder embed.Embedder) (*Container, *MergeStats, error) {
	if embedder == nil {
		return nil, nil, errors.InternalError("no embedder provided to merge", nil)
	}

	stats := &MergeStats{}

	// Stage 1: source-level triage by mtime, in arrival order.
	var merged []mergeSource
	matchedSrc := make(map[string]bool)
	sawAnySource := false
	for {
		src, err := iter.Next()
		if err != nil {
			return nil, nil, errors.New(errors.ErrCodeMergeFailed,
				"source iteration failed during merge", err)
		}
		if src == nil {
			break
		}
		sawAnySource = true

		existing, known := c.sources.get(src.Filename)
		matchedSrc[src.Filename] = true

		// Equal mtimes count as unchanged. This assumes the upstream
		// chunker is deterministic; see the note on reuse below.
		if known && existing.MTime != nil && src.MTime != nil && !existing.MTime.Before(*src.MTime) {
			merged = append(merged, mergeSource{
				filename: src.Filename,
				mtime:    existing.MTime,
				reused:   existing,
			})
			stats.SourcesReused++
			slog.Debug("source unchanged since last embedded",
				slog.String("source", src.Filename),
				slog.Time("mtime", *existing.MTime))
			continue
		}

		merged = append(merged, mergeSource{
			filename: src.Filename,
			mtime:    src.MTime,
			chunks:   src.Chunks,
		})
		stats.SourcesEmbedded++
	}

	if !sawAnySource {
		if loc, ok := iter.(Locator); ok {
			root, patterns := loc.Location()
			return nil, nil, errors.NoDocumentsFound(root, patterns)
		}
		return nil, nil, errors.NoDocumentsFound("(unknown)", nil)
	}

	// Stage 2: chunk-level triage by content hash, only for to-embed
	// sources. Reused chunks are carried verbatim; changed or new chunks
	// are queued for the backend.
	var (
		toEmbed      []pendingChunk
		reusedChunks = make(map[string]*ChunkRecord)
		matchedChunk = make(map[string]bool)
		seenChunk    = make(map[string]string) // chunk ID -> owning filename this pass
	)

	// Chunks of reused sources are matched without reprocessing.
	for _, ms := range merged {
		if ms.reused == nil {
			continue
		}
		for _, chunkID := range ms.reused.ChunkIDs {
			if owner, dup := seenChunk[chunkID]; dup {
				return nil, nil, errors.MalformedChunk(
					fmt.Sprintf("chunk %q claimed by both %q and %q", chunkID, owner, ms.filename))
			}
			seenChunk[chunkID] = ms.filename
			matchedChunk[chunkID] = true
		}
	}

	for i, ms := range merged {
		if ms.reused != nil {
			continue
		}
		for j := range ms.chunks {
			chk := &ms.chunks[j]
			if chk.ID == "" {
				return nil, nil, errors.MalformedChunk(
					fmt.Sprintf("source %q produced a chunk with no ID at position %d", ms.filename, j))
			}
			if owner, dup := seenChunk[chk.ID]; dup {
				return nil, nil, errors.MalformedChunk(
					fmt.Sprintf("chunk %q claimed by both %q and %q", chk.ID, owner, ms.filename))
			}
			seenChunk[chk.ID] = ms.filename

			data, err := chk.LoadData()
			if err != nil {
				return nil, nil, errors.New(errors.ErrCodeFileNotFound,
					fmt.Sprintf("failed to load chunk %q of source %q", chk.ID, ms.filename), err)
			}
			hash := hashContent(data)

			if existing, known := c.chunks.get(chk.ID); known {
				matchedChunk[chk.ID] = true
				if existing.ContentHash == hash {
					reusedChunks[chk.ID] = existing
					stats.ChunksReused++
					continue
				}
			}

			metadata := make(map[string]string, len(chk.Metadata)+1)
			for k, v := range chk.Metadata {
				metadata[k] = v
			}
			metadata[MetadataContentHash] = hash

			toEmbed = append(toEmbed, pendingChunk{
				sourceIdx: i,
				id:        chk.ID,
				mtime:     ms.mtime,
				data:      data,
				hash:      hash,
				metadata:  metadata,
			})
		}
	}
	stats.ChunksEmbedded = len(toEmbed)

	// Count carried chunks of reused sources as reused too.
	for _, ms := range merged {
		if ms.reused != nil {
			stats.ChunksReused += len(ms.reused.ChunkIDs)
		}
	}

	// Stage 3: one batched call to the backend for everything that needs
	// a vector. Zero candidates means zero calls.
	newRecords := make(map[string]*ChunkRecord, len(toEmbed))
	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, p := range toEmbed {
			texts[i] = p.data
		}

		slog.Info("embedding batch",
			slog.Int("chunks_to_embed", len(toEmbed)),
			slog.Int("chunks_reused", stats.ChunksReused),
			slog.String("model", embedder.ModelName()))

		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, errors.EmbeddingError(
				fmt.Sprintf("embedding %d chunks failed", len(toEmbed)), err)
		}
		if len(vectors) != len(toEmbed) {
			return nil, nil, errors.EmbeddingError(
				fmt.Sprintf("backend returned %d vectors for %d chunks", len(vectors), len(toEmbed)), nil)
		}

		for i, p := range toEmbed {
			newRecords[p.id] = &ChunkRecord{
				ID:          p.id,
				MTime:       p.mtime,
				ContentHash: p.hash,
				Data:        p.data,
				Vector:      vectors[i],
				Metadata:    p.metadata,
			}
		}
	}

	// Stage 4: materialize the new registries in one step.
	out := New(c.kind, c.arguments)

	for i := range merged {
		ms := &merged[i]
		if ms.reused != nil {
			out.sources.set(ms.filename, ms.reused)
			for _, chunkID := range ms.reused.ChunkIDs {
				rec, ok := c.chunks.get(chunkID)
				if !ok {
					return nil, nil, errors.New(errors.ErrCodeContainerCorrupt,
						fmt.Sprintf("reused source %q references missing chunk %q", ms.filename, chunkID), nil)
				}
				out.chunks.set(chunkID, rec)
			}
			continue
		}

		chunkIDs := make([]string, 0, len(ms.chunks))
		for j := range ms.chunks {
			chk := &ms.chunks[j]
			chunkIDs = append(chunkIDs, chk.ID)
			if rec, ok := reusedChunks[chk.ID]; ok {
				out.chunks.set(chk.ID, rec)
			} else {
				out.chunks.set(chk.ID, newRecords[chk.ID])
			}
		}
		out.sources.set(ms.filename, &SourceRecord{
			Filename: ms.filename,
			MTime:    ms.mtime,
			ChunkIDs: chunkIDs,
		})
	}

	// Tombstones: whatever the snapshot did not claim.
	c.sources.each(func(filename string, rec *SourceRecord) {
		if !matchedSrc[filename] {
			out.deletedSources.set(filename, rec)
			stats.SourcesDeleted++
		}
	})
	c.chunks.each(func(chunkID string, rec *ChunkRecord) {
		if !matchedChunk[chunkID] {
			out.deletedChunks.set(chunkID, rec)
			stats.ChunksDeleted++
		}
	})

	if err := out.Validate(); err != nil {
		return nil, nil, err
	}

	slog.Info("merge complete",
		slog.Int("sources_embedded", stats.SourcesEmbedded),
		slog.Int("sources_reused", stats.SourcesReused),
		slog.Int("sources_deleted", stats.SourcesDeleted),
		slog.Int("chunks_embedded", stats.ChunksEmbedded),
		slog.Int("chunks_reused", stats.ChunksReused),
		slog.Int("chunks_deleted", stats.ChunksDeleted))

	return out, stats, nil
}

// hashContent returns the hex sha256 digest of chunk text.
func hashContent(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// TODO: the mtime tie-break reuses a source wholesale when mtimes are equal,
// which silently assumes the chunker splits deterministically. If chunking
// parameters change between runs a source can go stale without detection.
// Changing this would re-embed on every equal-mtime pass, so it stays.
