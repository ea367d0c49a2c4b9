package container

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// fakeEmbedder derives each vector from its text so tests can verify that
// vectors land on the right chunks. Counts batch calls.
type fakeEmbedder struct {
	calls      int
	batchSizes []int
	failWith   error
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	return []float32{float32(len(text)), float32(text[0])}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                    { return 2 }
func (f *fakeEmbedder) ModelName() string                  { return "fake" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                       { return nil }

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func src(filename string, mtime *time.Time, chunks ...document.Chunk) document.Source {
	return document.Source{Filename: filename, MTime: mtime, Chunks: chunks}
}

func chk(id, data string) document.Chunk {
	return document.NewChunk(id, data, map[string]string{"source": "test"})
}

func mustMerge(t *testing.T, c *Container, sources []document.Source, e embed.Embedder) (*Container, *MergeStats) {
	t.Helper()
	out, stats, err := Merge(context.Background(), c, document.FromSlice(sources), e)
	require.NoError(t, err)
	return out, stats
}

func TestMerge_FirstRunEmbedsEverything(t *testing.T) {
	e := &fakeEmbedder{}
	c := New(embed.KindStatic, nil)

	out, stats := mustMerge(t, c, []document.Source{
		src("a.md", ts(100), chk("c1", "hello"), chk("c2", "world")),
		src("b.md", ts(100), chk("c3", "other")),
	}, e)

	assert.Equal(t, 1, e.calls, "one batched embed call per merge")
	assert.Equal(t, []int{3}, e.batchSizes)
	assert.Equal(t, 2, stats.SourcesEmbedded)
	assert.Equal(t, 3, stats.ChunksEmbedded)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, 2, out.SourceCount())

	rec, err := out.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, hashContent("hello"), rec.ContentHash)
	assert.Equal(t, rec.ContentHash, rec.Metadata[MetadataContentHash])
	assert.Equal(t, e.vectorFor("hello"), rec.Vector)
}

func TestMerge_IdempotentSecondPassSkipsBackend(t *testing.T) {
	e := &fakeEmbedder{}
	snapshot := []document.Source{
		src("a.md", ts(100), chk("c1", "hello"), chk("c2", "world")),
	}

	first, _ := mustMerge(t, New(embed.KindStatic, nil), snapshot, e)
	second, stats := mustMerge(t, first, snapshot, e)

	assert.Equal(t, 1, e.calls, "second merge must not call the backend")
	assert.Equal(t, 1, stats.SourcesReused)
	assert.Equal(t, 0, stats.ChunksEmbedded)
	assert.Equal(t, first.Sources(), second.Sources())
	assert.Equal(t, first.Chunks(), second.Chunks())
	assert.Empty(t, second.DeletedSources())
	assert.Empty(t, second.DeletedChunks())
}

func TestMerge_SingleChangedChunkReembedsOnlyItself(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "hello"), chk("c2", "world"), chk("c3", "stable")),
	}, e)

	// Source mtime advances, only c2's text changes.
	out, stats := mustMerge(t, first, []document.Source{
		src("a.md", ts(200), chk("c1", "hello"), chk("c2", "changed"), chk("c3", "stable")),
	}, e)

	assert.Equal(t, 1, stats.SourcesEmbedded)
	assert.Equal(t, 1, stats.ChunksEmbedded)
	assert.Equal(t, 2, stats.ChunksReused)

	changed, err := out.Get("c2")
	require.NoError(t, err)
	assert.Equal(t, hashContent("changed"), changed.ContentHash)
	assert.Equal(t, e.vectorFor("changed"), changed.Vector)

	// c1 carried forward verbatim, old mtime and all.
	kept, err := out.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, ts(100), kept.MTime)
	assert.Equal(t, e.vectorFor("hello"), kept.Vector)
}

func TestMerge_EqualMTimeReusesWholesale(t *testing.T) {
	// Documents the tie-break policy: equal mtimes mean reuse, even when
	// the text underneath actually changed.
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "hello")),
	}, e)

	out, stats := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "goodbye")),
	}, e)

	assert.Equal(t, 1, e.calls, "no second backend call")
	assert.Equal(t, 1, stats.SourcesReused)

	rec, err := out.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, hashContent("hello"), rec.ContentHash, "stale content is kept by policy")
	assert.Equal(t, e.vectorFor("hello"), rec.Vector)
}

func TestMerge_UnknownStoredMTimeForcesReprocessing(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", nil, chk("c1", "hello")),
	}, e)

	// Stored mtime is unknown, so the source is always reprocessed; the
	// unchanged hash still saves the embedding call.
	_, stats := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "hello")),
	}, e)

	assert.Equal(t, 1, stats.SourcesEmbedded)
	assert.Equal(t, 0, stats.SourcesReused)
	assert.Equal(t, 1, stats.ChunksReused)
	assert.Equal(t, 0, stats.ChunksEmbedded)
	assert.Equal(t, 1, e.calls)
}

func TestMerge_InvariantsHoldAfterMerge(t *testing.T) {
	e := &fakeEmbedder{}
	out, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one"), chk("c2", "two")),
		src("b.md", ts(100), chk("c3", "three")),
	}, e)

	require.NoError(t, out.Validate())

	// Every source chunk ID resolves; every chunk has exactly one owner.
	owners := map[string]int{}
	for _, s := range out.Sources() {
		for _, id := range s.ChunkIDs {
			_, err := out.Get(id)
			require.NoError(t, err)
			owners[id]++
		}
	}
	assert.Len(t, owners, out.Len())
	for id, n := range owners {
		assert.Equal(t, 1, n, "chunk %s should have exactly one owner", id)
	}
}

func TestMerge_DeletionPropagatesToTombstones(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
		src("b.md", ts(100), chk("c2", "two"), chk("c3", "three")),
	}, e)

	// b.md disappears from the snapshot.
	out, stats := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)

	assert.Equal(t, 1, stats.SourcesDeleted)
	assert.Equal(t, 2, stats.ChunksDeleted)
	assert.Equal(t, 1, out.SourceCount())
	assert.Equal(t, 1, out.Len())

	_, err := out.Get("c2")
	assert.True(t, errors.HasCode(err, errors.ErrCodeChunkNotFound))

	deletedSources := out.DeletedSources()
	require.Len(t, deletedSources, 1)
	assert.Equal(t, "b.md", deletedSources[0].Filename)

	deletedIDs := make([]string, 0, 2)
	for _, rec := range out.DeletedChunks() {
		deletedIDs = append(deletedIDs, rec.ID)
	}
	assert.ElementsMatch(t, []string{"c2", "c3"}, deletedIDs)
}

func TestMerge_TombstonesAreSnapshotScoped(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
		src("b.md", ts(100), chk("c2", "two")),
	}, e)

	withTombstones, _ := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)
	require.NotEmpty(t, withTombstones.DeletedSources())

	// Next pass with no further deletions clears the tombstones.
	out, stats := mustMerge(t, withTombstones, []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)

	assert.Zero(t, stats.SourcesDeleted)
	assert.Empty(t, out.DeletedSources())
	assert.Empty(t, out.DeletedChunks())
}

func TestMerge_BatchOrderPreserved(t *testing.T) {
	e := &fakeEmbedder{}
	out, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "aaaa"), chk("c2", "bb")),
		src("b.md", ts(100), chk("c3", "cccccc"), chk("c4", "d")),
	}, e)

	// Each chunk must carry the vector derived from its own text, not a
	// sibling's, across the single embed boundary.
	for id, text := range map[string]string{
		"c1": "aaaa", "c2": "bb", "c3": "cccccc", "c4": "d",
	} {
		rec, err := out.Get(id)
		require.NoError(t, err)
		assert.Equal(t, e.vectorFor(text), rec.Vector, "chunk %s", id)
	}
}

func TestMerge_IdenticalTextsNotConflated(t *testing.T) {
	e := &fakeEmbedder{}
	out, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "same text"), chk("c2", "same text")),
	}, e)

	r1, err := out.Get("c1")
	require.NoError(t, err)
	r2, err := out.Get("c2")
	require.NoError(t, err)
	assert.Equal(t, r1.Vector, r2.Vector)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestMerge_EmptyInputFails(t *testing.T) {
	e := &fakeEmbedder{}

	// Even against a non-empty container: silently producing an empty
	// container is almost always a misconfiguration.
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)

	_, _, err := Merge(context.Background(), first, document.FromSlice(nil), e)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoDocumentsFound))
	assert.Equal(t, 1, e.calls, "failed merge must not call the backend")
}

// locatedIterator decorates a slice iterator with source location info.
type locatedIterator struct {
	document.Iterator
	root     string
	patterns []string
}

func (l *locatedIterator) Location() (string, []string) {
	return l.root, l.patterns
}

func TestMerge_NoDocumentsFoundCarriesLocation(t *testing.T) {
	iter := &locatedIterator{
		Iterator: document.FromSlice(nil),
		root:     "/data/docs",
		patterns: []string{"**/*.md"},
	}

	_, _, err := Merge(context.Background(), New(embed.KindStatic, nil), iter, &fakeEmbedder{})
	require.Error(t, err)

	var ve *errors.VecError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "/data/docs", ve.Details["root"])
	assert.Contains(t, ve.Details["patterns"], "*.md")
}

// failingIterator fails partway through iteration.
type failingIterator struct {
	served int
}

func (f *failingIterator) Next() (*document.Source, error) {
	if f.served > 0 {
		return nil, fmt.Errorf("walk interrupted")
	}
	f.served++
	s := src("a.md", ts(100), chk("c1", "one"))
	return &s, nil
}

func TestMerge_IteratorFailureReportsMergeFailed(t *testing.T) {
	e := &fakeEmbedder{}

	_, _, err := Merge(context.Background(), New(embed.KindStatic, nil), &failingIterator{}, e)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMergeFailed))
	assert.Equal(t, 0, e.calls, "failed iteration must not call the backend")
}

func TestMerge_EmbedFailureLeavesContainerUntouched(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)

	failing := &fakeEmbedder{failWith: fmt.Errorf("quota exceeded")}
	_, _, err := Merge(context.Background(), first, document.FromSlice([]document.Source{
		src("a.md", ts(200), chk("c1", "changed")),
	}), failing)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingFailed))
	assert.True(t, errors.IsRetryable(err))

	// Input container keeps its pre-merge state.
	require.NoError(t, first.Validate())
	rec, getErr := first.Get("c1")
	require.NoError(t, getErr)
	assert.Equal(t, hashContent("one"), rec.ContentHash)
}

func TestMerge_MissingChunkIDFailsFast(t *testing.T) {
	_, _, err := Merge(context.Background(), New(embed.KindStatic, nil),
		document.FromSlice([]document.Source{
			src("a.md", ts(100), chk("", "anonymous")),
		}), &fakeEmbedder{})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMalformedChunk))
}

func TestMerge_DuplicateChunkIDFailsFast(t *testing.T) {
	_, _, err := Merge(context.Background(), New(embed.KindStatic, nil),
		document.FromSlice([]document.Source{
			src("a.md", ts(100), chk("c1", "one")),
			src("b.md", ts(100), chk("c1", "elsewhere")),
		}), &fakeEmbedder{})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMalformedChunk))
}

func TestMerge_NewSourceJoinsExistingContainer(t *testing.T) {
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)

	out, stats := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
		src("new.md", ts(150), chk("c9", "fresh")),
	}, e)

	assert.Equal(t, 1, stats.SourcesReused)
	assert.Equal(t, 1, stats.SourcesEmbedded)
	assert.Equal(t, 2, out.SourceCount())
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, []int{1, 1}, e.batchSizes, "only the new chunk goes to the backend")
}
