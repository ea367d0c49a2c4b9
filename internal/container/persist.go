package container

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// On-disk layout of a saved container directory:
//
//	<path>/metadata.yaml   backend kind, arguments, dimension (optional)
//	<path>/embeddings.db   sqlite: sources, chunks, deleted_sources, deleted_chunks
const (
	metadataFile   = "metadata.yaml"
	embeddingsFile = "embeddings.db"

	// formatVersion identifies the on-disk schema.
	formatVersion = 1
)

// Metadata mirrors metadata.yaml.
type Metadata struct {
	Version     int               `yaml:"version"`
	Kind        string            `yaml:"kind"`
	Arguments   map[string]string `yaml:"arguments,omitempty"`
	Dimension   int               `yaml:"dimension"`
	SourceCount int               `yaml:"source_count"`
	ChunkCount  int               `yaml:"chunk_count"`
	SavedAt     time.Time         `yaml:"saved_at"`
}

const schema = `
CREATE TABLE sources (
	position   INTEGER NOT NULL,
	filename   TEXT PRIMARY KEY,
	mtime      INTEGER,
	chunk_ids  TEXT NOT NULL
);
CREATE TABLE chunks (
	position     INTEGER NOT NULL,
	id           TEXT PRIMARY KEY,
	mtime        INTEGER,
	content_hash TEXT NOT NULL,
	data         TEXT NOT NULL,
	vector       BLOB NOT NULL,
	metadata     TEXT NOT NULL
);
CREATE TABLE deleted_sources (
	position   INTEGER NOT NULL,
	filename   TEXT PRIMARY KEY,
	mtime      INTEGER,
	chunk_ids  TEXT NOT NULL
);
CREATE TABLE deleted_chunks (
	position     INTEGER NOT NULL,
	id           TEXT PRIMARY KEY,
	mtime        INTEGER,
	content_hash TEXT NOT NULL,
	data         TEXT NOT NULL,
	vector       BLOB NOT NULL,
	metadata     TEXT NOT NULL
);
`

// Save serializes the container to a directory. The write goes to a
// temporary sibling directory which is swapped into place at the end, so a
// reader never observes registries from two different merge passes.
//
// With withMetadata false only the registries are written; the resulting
// snapshot has no metadata.yaml and cannot be opened by Load, which needs
// it to restore the embedder identity. Pass true for any directory that
// will be loaded later.
func (c *Container) Save(path string, withMetadata bool) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.PersistenceError("failed to create container parent directory", err)
	}

	tmp, err := os.MkdirTemp(parent, filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.PersistenceError("failed to create staging directory", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := c.writeRegistries(filepath.Join(tmp, embeddingsFile)); err != nil {
		return err
	}

	if withMetadata {
		if err := c.writeMetadata(filepath.Join(tmp, metadataFile)); err != nil {
			return err
		}
	}

	return swapDir(tmp, path)
}

// writeMetadata writes metadata.yaml.
func (c *Container) writeMetadata(path string) error {
	meta := Metadata{
		Version:     formatVersion,
		Kind:        string(c.kind),
		Arguments:   c.Arguments(),
		Dimension:   c.Dimensions(),
		SourceCount: c.SourceCount(),
		ChunkCount:  c.Len(),
		SavedAt:     time.Now().UTC(),
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return errors.PersistenceError("failed to marshal container metadata", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.PersistenceError("failed to write container metadata", err)
	}
	return nil
}

// writeRegistries writes all four registries into one sqlite database in a
// single transaction.
func (c *Container) writeRegistries(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return errors.PersistenceError("failed to create embeddings database", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(schema); err != nil {
		return errors.PersistenceError("failed to create embeddings schema", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.PersistenceError("failed to begin save transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSources(tx, "sources", c.sources); err != nil {
		return err
	}
	if err := insertChunks(tx, "chunks", c.chunks); err != nil {
		return err
	}
	if err := insertSources(tx, "deleted_sources", c.deletedSources); err != nil {
		return err
	}
	if err := insertChunks(tx, "deleted_chunks", c.deletedChunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.PersistenceError("failed to commit save transaction", err)
	}
	return nil
}

func insertSources(tx *sql.Tx, table string, m *orderedMap[*SourceRecord]) error {
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (position, filename, mtime, chunk_ids) VALUES (?, ?, ?, ?)", table))
	if err != nil {
		return errors.PersistenceError("failed to prepare source insert", err)
	}
	defer func() { _ = stmt.Close() }()

	pos := 0
	var insertErr error
	m.each(func(filename string, rec *SourceRecord) {
		if insertErr != nil {
			return
		}
		chunkIDs, err := json.Marshal(rec.ChunkIDs)
		if err != nil {
			insertErr = errors.PersistenceError("failed to encode chunk IDs", err)
			return
		}
		if _, err := stmt.Exec(pos, filename, encodeMTime(rec.MTime), string(chunkIDs)); err != nil {
			insertErr = errors.PersistenceError(
				fmt.Sprintf("failed to insert source %q", filename), err)
			return
		}
		pos++
	})
	return insertErr
}

func insertChunks(tx *sql.Tx, table string, m *orderedMap[*ChunkRecord]) error {
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (position, id, mtime, content_hash, data, vector, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)", table))
	if err != nil {
		return errors.PersistenceError("failed to prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	pos := 0
	var insertErr error
	m.each(func(id string, rec *ChunkRecord) {
		if insertErr != nil {
			return
		}
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			insertErr = errors.PersistenceError("failed to encode chunk metadata", err)
			return
		}
		if _, err := stmt.Exec(pos, id, encodeMTime(rec.MTime), rec.ContentHash,
			rec.Data, encodeVector(rec.Vector), string(metadata)); err != nil {
			insertErr = errors.PersistenceError(
				fmt.Sprintf("failed to insert chunk %q", id), err)
			return
		}
		pos++
	})
	return insertErr
}

// Load reads a container directory written by Save and re-validates the
// registry invariants.
func Load(path string) (*Container, error) {
	meta, err := LoadMetadata(path)
	if err != nil {
		return nil, err
	}

	c := New(embed.Kind(meta.Kind), meta.Arguments)

	dbPath := filepath.Join(path, embeddingsFile)
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, errors.PersistenceError("failed to open embeddings database", err)
	}
	defer func() { _ = db.Close() }()

	if err := loadSources(db, "sources", c.sources); err != nil {
		return nil, err
	}
	if err := loadChunks(db, "chunks", c.chunks); err != nil {
		return nil, err
	}
	if err := loadSources(db, "deleted_sources", c.deletedSources); err != nil {
		return nil, err
	}
	if err := loadChunks(db, "deleted_chunks", c.deletedChunks); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadMetadata reads only metadata.yaml, without touching the registries.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeContainerNotFound,
				fmt.Sprintf("no container found at %q", path), err)
		}
		return nil, errors.PersistenceError("failed to read container metadata", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, errors.New(errors.ErrCodeContainerCorrupt,
			"failed to parse container metadata", err)
	}
	if meta.Version != formatVersion {
		return nil, errors.New(errors.ErrCodeContainerCorrupt,
			fmt.Sprintf("unsupported container format version %d", meta.Version), nil)
	}
	return &meta, nil
}

func loadSources(db *sql.DB, table string, m *orderedMap[*SourceRecord]) error {
	rows, err := db.Query(fmt.Sprintf(
		"SELECT filename, mtime, chunk_ids FROM %s ORDER BY position", table))
	if err != nil {
		return errors.PersistenceError(fmt.Sprintf("failed to read %s", table), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			filename string
			mtime    sql.NullInt64
			chunkIDs string
		)
		if err := rows.Scan(&filename, &mtime, &chunkIDs); err != nil {
			return errors.PersistenceError(fmt.Sprintf("failed to scan %s row", table), err)
		}
		rec := &SourceRecord{Filename: filename, MTime: decodeMTime(mtime)}
		if err := json.Unmarshal([]byte(chunkIDs), &rec.ChunkIDs); err != nil {
			return errors.New(errors.ErrCodeContainerCorrupt,
				fmt.Sprintf("corrupt chunk ID list for source %q", filename), err)
		}
		m.set(filename, rec)
	}
	return rows.Err()
}

func loadChunks(db *sql.DB, table string, m *orderedMap[*ChunkRecord]) error {
	rows, err := db.Query(fmt.Sprintf(
		"SELECT id, mtime, content_hash, data, vector, metadata FROM %s ORDER BY position", table))
	if err != nil {
		return errors.PersistenceError(fmt.Sprintf("failed to read %s", table), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id       string
			mtime    sql.NullInt64
			hash     string
			data     string
			vector   []byte
			metadata string
		)
		if err := rows.Scan(&id, &mtime, &hash, &data, &vector, &metadata); err != nil {
			return errors.PersistenceError(fmt.Sprintf("failed to scan %s row", table), err)
		}
		rec := &ChunkRecord{
			ID:          id,
			MTime:       decodeMTime(mtime),
			ContentHash: hash,
			Data:        data,
			Vector:      decodeVector(vector),
		}
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return errors.New(errors.ErrCodeContainerCorrupt,
				fmt.Sprintf("corrupt metadata for chunk %q", id), err)
		}
		m.set(id, rec)
	}
	return rows.Err()
}

// encodeMTime stores a timestamp as unix nanoseconds, nil as NULL.
func encodeMTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func decodeMTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// swapDir replaces dst with src, keeping the previous contents around as
// dst.old until the swap has succeeded.
func swapDir(src, dst string) error {
	old := dst + ".old"
	_ = os.RemoveAll(old)

	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			return errors.PersistenceError("failed to stage previous container", err)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		// Try to restore the previous container before giving up.
		_ = os.Rename(old, dst)
		return errors.PersistenceError("failed to move container into place", err)
	}

	_ = os.RemoveAll(old)
	return nil
}
