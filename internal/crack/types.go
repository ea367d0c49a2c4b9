// Package crack discovers source documents under a root directory and
// splits them into chunks with deterministic IDs, producing the lazy
// source iterator the merge engine consumes.
package crack

import "time"

// Defaults for discovery and chunking.
const (
	// DefaultMaxFileSize is the largest file read during cracking (10MB).
	// Bigger files are skipped with a warning.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// DefaultMaxChunkChars is the chunk size ceiling in characters.
	// Roughly 512 tokens at 4 chars per token.
	DefaultMaxChunkChars = 2048

	// DefaultWorkers is the number of concurrent filter workers (0 means
	// runtime.NumCPU).
	DefaultWorkers = 0

	// binarySniffLen is how many leading bytes are inspected to detect
	// binary content.
	binarySniffLen = 512
)

// Options configures cracking.
type Options struct {
	// RootDir is the directory to crack.
	RootDir string

	// IncludePatterns are path glob patterns to include (empty = all files).
	// Matched against the slash-separated path relative to RootDir using
	// path.Match syntax, plus two recursive forms: a "**/" prefix matches
	// at any depth and a "/**" suffix matches a whole subtree. A plain
	// pattern also matches against the base name, so "*.md" selects
	// markdown anywhere in the tree.
	IncludePatterns []string

	// ExcludePatterns are path glob patterns to exclude, same syntax as
	// IncludePatterns.
	ExcludePatterns []string

	// MaxFileSize is the maximum file size to crack in bytes.
	MaxFileSize int64

	// MaxChunkChars is the chunk size ceiling in characters.
	MaxChunkChars int

	// Workers is the number of concurrent filter workers.
	Workers int
}

// fileInfo is one discovered source file.
type fileInfo struct {
	relPath string
	absPath string
	mtime   time.Time
}
