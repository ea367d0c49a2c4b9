package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanvec/internal/config"
	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/crack"
	"github.com/Aman-CERP/amanvec/internal/embed"
	"github.com/Aman-CERP/amanvec/internal/errors"
	"github.com/Aman-CERP/amanvec/internal/indexstore"
)

func newIndexCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Crack, embed, and merge documents into the container",
		Long: `Index walks the configured source root, splits each document into
chunks, and reconciles them against the persisted embeddings container.
Only new or changed chunks are sent to the embedding backend; everything
else is carried forward from the previous run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}

			stats, elapsed, err := runIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Indexed %s in %s\n  sources: %d embedded, %d reused, %d deleted\n  chunks:  %d embedded, %d reused, %d deleted\n",
				cfg.Source.Root, elapsed.Round(time.Millisecond),
				stats.SourcesEmbedded, stats.SourcesReused, stats.SourcesDeleted,
				stats.ChunksEmbedded, stats.ChunksReused, stats.ChunksDeleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "C", "", "Project directory (default: nearest .amanvec.yaml or .git)")
	return cmd
}

// resolveProjectDir picks the project root: an explicit flag wins,
// otherwise walk up from the working directory.
func resolveProjectDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return config.FindProjectRoot(cwd)
}

// runIndex performs one full indexing pass: lock, load, crack, merge,
// save, and optionally sync the lexical index.
func runIndex(ctx context.Context, cfg *config.Config) (*container.MergeStats, time.Duration, error) {
	start := time.Now()

	lock := container.NewLock(cfg.Container.Path)
	if err := lock.Lock(); err != nil {
		return nil, 0, err
	}
	defer func() { _ = lock.Unlock() }()

	c, err := loadOrCreateContainer(cfg)
	if err != nil {
		return nil, 0, err
	}

	iter, err := crack.Crack(ctx, crack.Options{
		RootDir:         cfg.Source.Root,
		IncludePatterns: cfg.Source.Include,
		ExcludePatterns: cfg.Source.Exclude,
		MaxFileSize:     cfg.MaxFileSizeBytes(),
		MaxChunkChars:   cfg.Chunking.MaxChars,
		Workers:         cfg.Source.Workers,
	})
	if err != nil {
		return nil, 0, err
	}

	embedder, err := c.Embedder(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = embedder.Close() }()

	merged, stats, err := container.Merge(ctx, c, iter, embedder)
	if err != nil {
		return nil, 0, err
	}

	if err := merged.Save(cfg.Container.Path, true); err != nil {
		return nil, 0, err
	}

	if cfg.Index.SyncEnabled {
		store, err := indexstore.Open(cfg.Index.Path)
		if err != nil {
			return nil, 0, err
		}
		defer func() { _ = store.Close() }()
		if err := store.Sync(ctx, merged); err != nil {
			return nil, 0, err
		}
	}

	return stats, time.Since(start), nil
}

// loadOrCreateContainer opens the persisted container, or creates an
// empty one wired to the configured backend on first run. A container
// created for one backend keeps it; changing the config requires a fresh
// container path.
func loadOrCreateContainer(cfg *config.Config) (*container.Container, error) {
	c, err := container.Load(cfg.Container.Path)
	if err == nil {
		return c, nil
	}
	if errors.HasCode(err, errors.ErrCodeContainerNotFound) {
		return container.FromURI(cfg.EmbedURI(), containerOverrides(cfg))
	}
	return nil, err
}

// containerOverrides maps embedding config onto backend arguments.
func containerOverrides(cfg *config.Config) map[string]string {
	overrides := map[string]string{}
	if cfg.Embeddings.Endpoint != "" {
		overrides[embed.ArgEndpoint] = cfg.Embeddings.Endpoint
	}
	if cfg.Embeddings.BatchSize > 0 {
		overrides[embed.ArgBatchSize] = fmt.Sprintf("%d", cfg.Embeddings.BatchSize)
	}
	return overrides
}
