package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanvec/internal/config"
	"github.com/Aman-CERP/amanvec/internal/container"
	"github.com/Aman-CERP/amanvec/internal/crack"
	"github.com/Aman-CERP/amanvec/internal/vectorindex"
)

func newSearchCmd() *cobra.Command {
	var projectDir string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the embedded corpus by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}

			c, err := container.Load(cfg.Container.Path)
			if err != nil {
				return err
			}

			idx, err := vectorindex.Build(c, vectorindex.Options{})
			if err != nil {
				return err
			}

			embedder, err := c.QueryEmbedder(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			query := strings.Join(args, " ")
			vector, err := embedder.Embed(cmd.Context(), query)
			if err != nil {
				return err
			}

			results, err := idx.Search(vector, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, res := range results {
				rec, err := c.Get(res.ChunkID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%2d. [%.3f] %s\n    %s\n",
					i+1, res.Score, rec.Metadata[crack.MetadataSource], preview(rec.Data, 120))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "C", "", "Project directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum results")
	return cmd
}

// preview flattens chunk text to a single trimmed line.
func preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
