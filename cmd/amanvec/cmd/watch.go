package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanvec/internal/config"
	"github.com/Aman-CERP/amanvec/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-index continuously as files change",
		Long: `Watch runs an initial indexing pass, then keeps watching the source
root and re-indexes whenever a burst of filesystem changes settles.
Stops on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			debounce, err := cfg.WatchDebounce()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			stats, elapsed, err := runIndex(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Initial pass: %d chunks embedded, %d reused (%s)\n",
				stats.ChunksEmbedded, stats.ChunksReused, elapsed.Round(time.Millisecond))

			w, err := watcher.New(cfg.Source.Root, watcher.Options{
				Debounce:    debounce,
				ExcludeDirs: cfg.Source.Exclude,
			})
			if err != nil {
				return err
			}
			defer w.Stop()
			w.Start(ctx)

			fmt.Fprintf(out, "Watching %s (debounce %s)...\n", cfg.Source.Root, debounce)

			for {
				select {
				case <-ctx.Done():
					return nil
				case batch, ok := <-w.Events():
					if !ok {
						return nil
					}
					slog.Info("changes detected, re-indexing",
						slog.Int("changed_paths", len(batch)))
					stats, elapsed, err := runIndex(ctx, cfg)
					if err != nil {
						slog.Error("re-index failed", slog.String("error", err.Error()))
						fmt.Fprintf(out, "re-index failed: %v\n", err)
						continue
					}
					fmt.Fprintf(out, "Re-indexed: %d chunks embedded, %d reused, %d deleted (%s)\n",
						stats.ChunksEmbedded, stats.ChunksReused, stats.ChunksDeleted,
						elapsed.Round(time.Millisecond))
				case err, ok := <-w.Errors():
					if !ok {
						return nil
					}
					slog.Warn("watcher error", slog.String("error", err.Error()))
				}
			}
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "C", "", "Project directory")
	return cmd
}
