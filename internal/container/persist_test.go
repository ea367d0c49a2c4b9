package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

func containerPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "container")
}

func assertEquivalent(t *testing.T, want, got *Container) {
	t.Helper()
	assert.Equal(t, want.Kind(), got.Kind())
	assert.Equal(t, want.Arguments(), got.Arguments())
	assert.Equal(t, want.Sources(), got.Sources())
	assert.Equal(t, want.Chunks(), got.Chunks())
	assert.Equal(t, want.DeletedSources(), got.DeletedSources())
	assert.Equal(t, want.DeletedChunks(), got.DeletedChunks())
}

func TestSaveLoad_EmptyContainer(t *testing.T) {
	path := containerPath(t)
	c := New(embed.KindStatic, map[string]string{"model": "fnv"})

	require.NoError(t, c.Save(path, true))
	loaded, err := Load(path)
	require.NoError(t, err)

	assertEquivalent(t, c, loaded)
	assert.Zero(t, loaded.Len())
}

func TestSaveLoad_SingleSourceContainer(t *testing.T) {
	path := containerPath(t)
	e := &fakeEmbedder{}
	c, _ := mustMerge(t, New(embed.KindOllama, map[string]string{"model": "nomic-embed-text"}),
		[]document.Source{
			src("a.md", ts(100), chk("c1", "hello"), chk("c2", "world")),
		}, e)

	require.NoError(t, c.Save(path, true))
	loaded, err := Load(path)
	require.NoError(t, err)

	assertEquivalent(t, c, loaded)
	require.NoError(t, loaded.Validate())

	rec, err := loaded.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Data)
	assert.Equal(t, e.vectorFor("hello"), rec.Vector)
	assert.Equal(t, ts(100), rec.MTime)
}

func TestSaveLoad_ContainerWithTombstones(t *testing.T) {
	path := containerPath(t)
	e := &fakeEmbedder{}
	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
		src("b.md", ts(100), chk("c2", "two")),
	}, e)
	withTombstones, _ := mustMerge(t, first, []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)
	require.NotEmpty(t, withTombstones.DeletedSources())

	require.NoError(t, withTombstones.Save(path, true))
	loaded, err := Load(path)
	require.NoError(t, err)

	assertEquivalent(t, withTombstones, loaded)
	require.Len(t, loaded.DeletedSources(), 1)
	assert.Equal(t, "b.md", loaded.DeletedSources()[0].Filename)
	require.Len(t, loaded.DeletedChunks(), 1)
	assert.Equal(t, "c2", loaded.DeletedChunks()[0].ID)
}

func TestSaveLoad_NilMTimeRoundTrips(t *testing.T) {
	path := containerPath(t)
	e := &fakeEmbedder{}
	c, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", nil, chk("c1", "one")),
	}, e)

	require.NoError(t, c.Save(path, true))
	loaded, err := Load(path)
	require.NoError(t, err)

	sources := loaded.Sources()
	require.Len(t, sources, 1)
	assert.Nil(t, sources[0].MTime)
}

func TestSave_OverwritesPreviousSnapshotAtomically(t *testing.T) {
	path := containerPath(t)
	e := &fakeEmbedder{}

	first, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "one")),
	}, e)
	require.NoError(t, first.Save(path, true))

	second, _ := mustMerge(t, first, []document.Source{
		src("a.md", ts(200), chk("c1", "changed")),
	}, e)
	require.NoError(t, second.Save(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	rec, err := loaded.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, hashContent("changed"), rec.ContentHash)

	// No staging leftovers next to the container.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestSave_WithoutMetadataSkipsYAML(t *testing.T) {
	path := containerPath(t)
	c := New(embed.KindStatic, nil)

	require.NoError(t, c.Save(path, false))

	_, err := os.Stat(filepath.Join(path, metadataFile))
	assert.True(t, os.IsNotExist(err))

	_, err = LoadMetadata(path)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerNotFound))

	// A registries-only snapshot is not loadable.
	_, err = Load(path)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerNotFound))
}

func TestLoadMetadata_ReadsWithoutRegistries(t *testing.T) {
	path := containerPath(t)
	e := &fakeEmbedder{}
	c, _ := mustMerge(t, New(embed.KindOllama, map[string]string{"model": "nomic-embed-text"}),
		[]document.Source{
			src("a.md", ts(100), chk("c1", "hello")),
		}, e)
	require.NoError(t, c.Save(path, true))

	meta, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", meta.Kind)
	assert.Equal(t, "nomic-embed-text", meta.Arguments["model"])
	assert.Equal(t, 1, meta.ChunkCount)
	assert.Equal(t, 1, meta.SourceCount)
	assert.Equal(t, 2, meta.Dimension)
}

func TestLoad_MissingContainer(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerNotFound))
}

func TestMergeSaveLoadMerge_FullCycle(t *testing.T) {
	// A saved container picked up by a later process must keep saving
	// re-embedding work.
	path := containerPath(t)
	e := &fakeEmbedder{}

	c, _ := mustMerge(t, New(embed.KindStatic, nil), []document.Source{
		src("a.md", ts(100), chk("c1", "hello")),
	}, e)
	require.NoError(t, c.Save(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)

	_, stats, err := Merge(context.Background(), loaded, document.FromSlice([]document.Source{
		src("a.md", ts(100), chk("c1", "hello")),
	}), e)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SourcesReused)
	assert.Equal(t, 0, stats.ChunksEmbedded)
	assert.Equal(t, 1, e.calls, "no re-embedding after a save/load cycle")
}
