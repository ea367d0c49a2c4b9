// Package indexstore keeps a bleve lexical index in step with a
// container, so keyword search stays consistent with the embedded corpus
// after every merge pass.
package indexstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/crack"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Store wraps a bleve index keyed by chunk ID.
type Store struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// chunkDocument is the shape bleve indexes per chunk.
type chunkDocument struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Result is one keyword search hit.
type Result struct {
	ChunkID string
	Score   float64
}

// Open opens or creates the lexical index at path. An empty path creates
// an in-memory index.
func Open(path string) (*Store, error) {
	mapping := bleve.NewIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, errors.PersistenceError("failed to create index directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, errors.PersistenceError(
			fmt.Sprintf("failed to open lexical index at %q", path), err)
	}
	return &Store{index: idx, path: path}, nil
}

// Sync applies one merge outcome: tombstoned chunks are deleted, current
// chunks are upserted. Chunk IDs change whenever content position changes,
// so upserting by ID is enough to keep the index exact.
func (s *Store) Sync(ctx context.Context, c *container.Container) error {
	deleted := c.DeletedChunks()
	ids := make([]string, 0, len(deleted))
	for _, rec := range deleted {
		ids = append(ids, rec.ID)
	}
	if err := s.Delete(ctx, ids); err != nil {
		return err
	}
	if err := s.Upsert(ctx, c); err != nil {
		return err
	}

	slog.Debug("lexical index synced",
		slog.Int("chunks", c.Len()),
		slog.Int("deleted", len(ids)),
		slog.String("path", s.path))
	return nil
}

// Upsert indexes every chunk in the container in one batch.
func (s *Store) Upsert(ctx context.Context, c *container.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.PersistenceError("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, rec := range c.Chunks() {
		doc := chunkDocument{
			Content: rec.Data,
			Source:  rec.Metadata[crack.MetadataSource],
		}
		if err := batch.Index(rec.ID, doc); err != nil {
			return errors.PersistenceError(
				fmt.Sprintf("failed to index chunk %q", rec.ID), err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.PersistenceError("failed to apply index batch", err)
	}
	return nil
}

// Delete removes chunks from the index by ID.
func (s *Store) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.PersistenceError("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.PersistenceError("failed to delete chunks from index", err)
	}
	return nil
}

// Search returns chunks matching the query, best first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.PersistenceError("lexical index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.PersistenceError("lexical search failed", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{ChunkID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, errors.PersistenceError("lexical index is closed", nil)
	}
	return s.index.DocCount()
}

// Close releases the underlying index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}
