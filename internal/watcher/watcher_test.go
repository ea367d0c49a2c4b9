package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForBatch(t *testing.T, w *Watcher, timeout time.Duration) []string {
	t.Helper()
	select {
	case batch, ok := <-w.Events():
		require.True(t, ok, "events channel closed before a batch arrived")
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for watcher batch")
		return nil
	}
}

func TestWatcher_EmitsBatchAfterWrite(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	batch := waitForBatch(t, w, 5*time.Second)
	assert.Contains(t, batch, path)
}

func TestWatcher_CoalescesBurstIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 200 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		path := filepath.Join(root, "a.md")
		require.NoError(t, os.WriteFile(path, []byte("rev"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	batch := waitForBatch(t, w, 5*time.Second)
	assert.Len(t, batch, 1)

	// The burst settled into a single flush; nothing further is pending.
	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected second batch: %v", extra)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_SeesFilesInNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	sub := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	batch := waitForBatch(t, w, 5*time.Second)
	assert.Contains(t, batch, sub)

	inner := filepath.Join(sub, "inner.md")
	require.NoError(t, os.WriteFile(inner, []byte("deep"), 0o644))
	batch = waitForBatch(t, w, 5*time.Second)
	assert.Contains(t, batch, inner)
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Stop()
	w.Stop() // idempotent

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Stop")
	}
}
