package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanvec/internal/config"
	"github.com/Aman-CERP/amanvec/internal/container"
)

func newInfoCmd() *cobra.Command {
	var projectDir string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show container metadata without loading the registries",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}

			meta, err := container.LoadMetadata(cfg.Container.Path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(meta)
			}

			fmt.Fprintf(out, "Container:  %s\n", cfg.Container.Path)
			fmt.Fprintf(out, "Backend:    %s (model %s)\n", meta.Kind, meta.Arguments["model"])
			fmt.Fprintf(out, "Sources:    %d\n", meta.SourceCount)
			fmt.Fprintf(out, "Chunks:     %d\n", meta.ChunkCount)
			fmt.Fprintf(out, "Dimension:  %d\n", meta.Dimension)
			fmt.Fprintf(out, "Saved at:   %s\n", meta.SavedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "C", "", "Project directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
