package indexstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/embed"
)

func mergeSnapshot(t *testing.T, base *container.Container, sources []document.Source) *container.Container {
	t.Helper()
	e := embed.NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	c, _, err := container.Merge(context.Background(), base, document.FromSlice(sources), e)
	require.NoError(t, err)
	return c
}

func snapshot(mtime time.Time, sources map[string][]string) []document.Source {
	var out []document.Source
	for filename, texts := range sources {
		src := document.Source{Filename: filename, MTime: &mtime}
		for i, text := range texts {
			src.Chunks = append(src.Chunks,
				document.NewChunk(filename+"-"+string(rune('a'+i)), text, nil))
		}
		out = append(out, src)
	}
	return out
}

func TestSync_IndexesAllChunks(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	c := mergeSnapshot(t, container.New(embed.KindStatic, nil), snapshot(time.Now(), map[string][]string{
		"a.md": {"install instructions for the tool", "troubleshooting common errors"},
		"b.md": {"release notes for version two"},
	}))

	require.NoError(t, s.Sync(context.Background(), c))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestSearch_FindsMatchingChunk(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	c := mergeSnapshot(t, container.New(embed.KindStatic, nil), snapshot(time.Now(), map[string][]string{
		"a.md": {"install instructions for the tool"},
		"b.md": {"release notes for version two"},
	}))
	require.NoError(t, s.Sync(context.Background(), c))

	results, err := s.Search(context.Background(), "install", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.md-a", results[0].ChunkID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	results, err := s.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSync_RemovesTombstonedChunks(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	now := time.Now()
	first := mergeSnapshot(t, container.New(embed.KindStatic, nil), snapshot(now, map[string][]string{
		"a.md": {"kept content"},
		"b.md": {"doomed content"},
	}))
	require.NoError(t, s.Sync(context.Background(), first))

	second := mergeSnapshot(t, first, snapshot(now, map[string][]string{
		"a.md": {"kept content"},
	}))
	require.NoError(t, s.Sync(context.Background(), second))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := s.Search(context.Background(), "doomed", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/index.bleve"

	s, err := Open(path)
	require.NoError(t, err)

	c := mergeSnapshot(t, container.New(embed.KindStatic, nil), snapshot(time.Now(), map[string][]string{
		"a.md": {"persistent content"},
	}))
	require.NoError(t, s.Sync(context.Background(), c))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestStore_ClosedErrors(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Search(context.Background(), "anything", 1)
	assert.Error(t, err)
	assert.Error(t, s.Delete(context.Background(), []string{"x"}))
}
