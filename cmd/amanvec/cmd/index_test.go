package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanvec/internal/container"
)

// setupProject creates a project directory with a static-backend config
// and a few source files.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir()) // keep log files out of the real home

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanvec.yaml"), []byte(`
source:
  root: docs
embeddings:
  provider: static
`), 0o644))

	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.md"),
		[]byte("installation guide for the indexer"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.md"),
		[]byte("troubleshooting embedding backends"), 0o644))
	return dir
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestIndexCmd_CreatesContainer(t *testing.T) {
	dir := setupProject(t)

	out, err := runCommand(t, "index", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 embedded")

	c, err := container.Load(filepath.Join(dir, ".amanvec", "container"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.SourceCount())
	require.NoError(t, c.Validate())
}

func TestIndexCmd_SecondRunReusesEverything(t *testing.T) {
	dir := setupProject(t)

	_, err := runCommand(t, "index", "-C", dir)
	require.NoError(t, err)

	out, err := runCommand(t, "index", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "sources: 0 embedded, 2 reused")
	assert.Contains(t, out, "chunks:  0 embedded")
}

func TestIndexCmd_EmptySourceRootFails(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "docs", "a.md")))
	require.NoError(t, os.Remove(filepath.Join(dir, "docs", "b.md")))

	_, err := runCommand(t, "index", "-C", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents found")
}

func TestInfoCmd_ReportsContainerMetadata(t *testing.T) {
	dir := setupProject(t)
	_, err := runCommand(t, "index", "-C", dir)
	require.NoError(t, err)

	out, err := runCommand(t, "info", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:    static")
	assert.Contains(t, out, "Sources:    2")
}

func TestInfoCmd_MissingContainer(t *testing.T) {
	dir := setupProject(t)

	_, err := runCommand(t, "info", "-C", dir)
	require.Error(t, err)
}

func TestSearchCmd_FindsRelevantChunk(t *testing.T) {
	dir := setupProject(t)
	_, err := runCommand(t, "index", "-C", dir)
	require.NoError(t, err)

	out, err := runCommand(t, "search", "-C", dir, "-n", "1", "installation guide")
	require.NoError(t, err)
	assert.Contains(t, out, "a.md")
}
