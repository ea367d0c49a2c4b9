package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/embed"
)

func buildTestContainer(t *testing.T) *container.Container {
	t.Helper()

	e := embed.NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	now := time.Now()
	c, _, err := container.Merge(context.Background(),
		container.New(embed.KindStatic, nil),
		document.FromSlice([]document.Source{
			{Filename: "a.md", MTime: &now, Chunks: []document.Chunk{
				document.NewChunk("c1", "the quick brown fox jumps over the lazy dog", nil),
				document.NewChunk("c2", "vector databases store embeddings for retrieval", nil),
			}},
			{Filename: "b.md", MTime: &now, Chunks: []document.Chunk{
				document.NewChunk("c3", "embeddings power semantic retrieval over documents", nil),
			}},
		}), e)
	require.NoError(t, err)
	return c
}

func TestBuild_IndexesEveryChunk(t *testing.T) {
	c := buildTestContainer(t)

	idx, err := Build(c, Options{})
	require.NoError(t, err)

	assert.Equal(t, c.Len(), idx.Count())
	assert.Equal(t, c.Dimensions(), idx.Dimensions())
	assert.True(t, idx.Contains("c1"))
}

func TestSearch_FindsSemanticallySimilarChunk(t *testing.T) {
	c := buildTestContainer(t)
	idx, err := Build(c, Options{})
	require.NoError(t, err)

	e := embed.NewStaticEmbedder()
	defer func() { _ = e.Close() }()
	query, err := e.Embed(context.Background(), "semantic retrieval with embeddings")
	require.NoError(t, err)

	results, err := idx.Search(query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The shared-vocabulary chunks should outrank the fox.
	assert.NotEqual(t, "c1", results[0].ChunkID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New(4, Options{})

	results, err := idx.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	c := buildTestContainer(t)
	idx, err := Build(c, Options{})
	require.NoError(t, err)

	_, err = idx.Search([]float32{1, 2}, 1)
	require.Error(t, err)
}

func TestDelete_RemovesFromResults(t *testing.T) {
	idx := New(2, Options{})
	require.NoError(t, idx.Add("c1", []float32{1, 0}))
	require.NoError(t, idx.Add("c2", []float32{0, 1}))

	idx.Delete("c1")

	assert.False(t, idx.Contains("c1"))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
}

func TestAdd_ReplacesExistingVector(t *testing.T) {
	idx := New(2, Options{})
	require.NoError(t, idx.Add("c1", []float32{1, 0}))
	require.NoError(t, idx.Add("c1", []float32{0, 1}))

	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func TestSync_AppliesMergeOutcome(t *testing.T) {
	e := embed.NewStaticEmbedder()
	defer func() { _ = e.Close() }()
	now := time.Now()

	first, _, err := container.Merge(context.Background(),
		container.New(embed.KindStatic, nil),
		document.FromSlice([]document.Source{
			{Filename: "a.md", MTime: &now, Chunks: []document.Chunk{
				document.NewChunk("c1", "alpha", nil),
			}},
			{Filename: "b.md", MTime: &now, Chunks: []document.Chunk{
				document.NewChunk("c2", "beta", nil),
			}},
		}), e)
	require.NoError(t, err)

	idx, err := Build(first, Options{})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	second, _, err := container.Merge(context.Background(), first,
		document.FromSlice([]document.Source{
			{Filename: "a.md", MTime: &later, Chunks: []document.Chunk{
				document.NewChunk("c1", "alpha updated", nil),
			}},
		}), e)
	require.NoError(t, err)

	require.NoError(t, idx.Sync(second))

	assert.True(t, idx.Contains("c1"))
	assert.False(t, idx.Contains("c2"))
	assert.Equal(t, 1, idx.Count())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	c := buildTestContainer(t)
	idx, err := Build(c, Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path, Options{})
	require.NoError(t, err)

	assert.Equal(t, idx.Count(), loaded.Count())
	assert.Equal(t, idx.Dimensions(), loaded.Dimensions())

	e := embed.NewStaticEmbedder()
	defer func() { _ = e.Close() }()
	query, err := e.Embed(context.Background(), "vector databases")
	require.NoError(t, err)

	want, err := idx.Search(query, 1)
	require.NoError(t, err)
	got, err := loaded.Search(query, 1)
	require.NoError(t, err)
	assert.Equal(t, want[0].ChunkID, got[0].ChunkID)
}
