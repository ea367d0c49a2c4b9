package crack

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanvec/internal/document"
	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Metadata keys set on every cracked chunk.
const (
	MetadataSource   = "source"
	MetadataPosition = "position"
)

// Iterator walks discovered files one at a time, cracking each into a
// Source on demand. Implements document.Iterator; files are read only
// when their turn comes, so an interrupted merge never touches the rest.
type Iterator struct {
	opts  Options
	files []fileInfo
	pos   int
}

// Crack discovers the files under opts.RootDir that pass the include and
// exclude patterns, the size ceiling, and a binary-content sniff, and
// returns an iterator over them in path order.
func Crack(ctx context.Context, opts Options) (*Iterator, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	info, err := os.Stat(opts.RootDir)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("source root %q does not exist", opts.RootDir), err)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError(
			fmt.Sprintf("source root %q is not a directory", opts.RootDir), nil)
	}

	candidates, err := discover(opts)
	if err != nil {
		return nil, err
	}

	files, err := filterFiles(ctx, candidates, opts)
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })

	slog.Debug("cracking discovered files",
		slog.String("root", opts.RootDir),
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(files)))

	return &Iterator{opts: opts, files: files}, nil
}

// Next cracks the next file into a Source. Returns nil, nil when done.
func (it *Iterator) Next() (*document.Source, error) {
	if it.pos >= len(it.files) {
		return nil, nil
	}
	fi := it.files[it.pos]
	it.pos++

	raw, err := os.ReadFile(fi.absPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("failed to read %q", fi.relPath), err)
	}

	pieces := splitText(string(raw), it.opts.MaxChunkChars)
	chunks := make([]document.Chunk, 0, len(pieces))
	for seq, piece := range pieces {
		chunks = append(chunks, document.NewChunk(chunkID(fi.relPath, seq), piece, map[string]string{
			MetadataSource:   fi.relPath,
			MetadataPosition: strconv.Itoa(seq),
		}))
	}

	mtime := fi.mtime
	return &document.Source{
		Filename: fi.relPath,
		MTime:    &mtime,
		Chunks:   chunks,
	}, nil
}

// Location reports where this iterator's documents come from. Used to
// enrich empty-input diagnostics.
func (it *Iterator) Location() (string, []string) {
	return it.opts.RootDir, it.opts.IncludePatterns
}

// Remaining returns how many files have not been cracked yet.
func (it *Iterator) Remaining() int {
	return len(it.files) - it.pos
}

// discover walks the root and collects regular files passing the path
// patterns. Excluded directories are pruned without descending.
func discover(opts Options) ([]fileInfo, error) {
	var out []fileInfo
	err := filepath.WalkDir(opts.RootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(opts.RootDir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if matchesAny(opts.ExcludePatterns, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(opts.ExcludePatterns, rel) {
			return nil
		}
		if len(opts.IncludePatterns) > 0 && !matchesAny(opts.IncludePatterns, rel) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		out = append(out, fileInfo{relPath: rel, absPath: p, mtime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission,
			fmt.Sprintf("walking %q failed", opts.RootDir), err)
	}
	return out, nil
}

// filterFiles drops oversized and binary files, checking candidates
// concurrently since the sniff reads from disk.
func filterFiles(ctx context.Context, candidates []fileInfo, opts Options) ([]fileInfo, error) {
	keep := make([]bool, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fi := candidates[i]

			stat, err := os.Stat(fi.absPath)
			if err != nil {
				// Deleted between walk and filter, skip it.
				return nil
			}
			if stat.Size() > opts.MaxFileSize {
				slog.Warn("skipping oversized file",
					slog.String("path", fi.relPath),
					slog.Int64("size", stat.Size()),
					slog.Int64("limit", opts.MaxFileSize))
				return nil
			}

			binary, err := looksBinary(fi.absPath)
			if err != nil {
				return nil
			}
			keep[i] = !binary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}

	var out []fileInfo
	for i, k := range keep {
		if k {
			out = append(out, candidates[i])
		}
	}
	return out, nil
}

// looksBinary sniffs the leading bytes for a NUL, the same cheap heuristic
// git uses.
func looksBinary(absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySniffLen)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return false, nil
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

// matchesAny matches a slash-separated relative path against glob
// patterns.
func matchesAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if matchPattern(pat, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches one relative path against a glob. path.Match has
// no "**", so the two common recursive forms are handled explicitly: a
// "**/" prefix matches at any depth and a "/**" suffix matches the whole
// subtree. Plain patterns match the full path or the base name, so
// "*.md" selects markdown anywhere in the tree.
func matchPattern(pat, rel string) bool {
	if sub, found := strings.CutPrefix(pat, "**/"); found {
		if matchPattern(sub, rel) {
			return true
		}
		parts := strings.Split(rel, "/")
		for i := 1; i < len(parts); i++ {
			if matchPattern(sub, strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}
	if dir, found := strings.CutSuffix(pat, "/**"); found {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
		if ok, _ := path.Match(dir, rel); ok {
			return true
		}
		return false
	}
	if ok, _ := path.Match(pat, rel); ok {
		return true
	}
	ok, _ := path.Match(pat, path.Base(rel))
	return ok
}
