package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docrag/config"
	"docrag/loader/service"
)

func main() {
	if err := newIngestCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newIngestCmd() *cobra.Command {
	var configPath, source, index string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load documents and rebuild the vector index",
		Long: `Walks the source directory, splits every supported document into
overlapping chunks, embeds them and atomically replaces the index.
An empty source leaves the existing index untouched.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if source != "" {
				cfg.SourceDir = source
			}
			if index != "" {
				cfg.Index.Path = index
			}
			logger := cfg.Logger()

			s, err := service.FromConfig(context.Background(), cfg, logger)
			if err != nil {
				return fmt.Errorf("init loader service: %w", err)
			}
			defer s.Close()

			sum, err := s.Run(cfg.SourceDir)
			if err != nil {
				return err
			}
			cmd.Println(sum.String())
			if sum.Skipped > 0 {
				cmd.Printf("%d unsupported file(s) skipped\n", sum.Skipped)
			}
			if sum.Failed > 0 {
				cmd.Printf("%d file(s) could not be loaded, see log\n", sum.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $RAG_CONFIG)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "directory to ingest (overrides source_dir)")
	cmd.Flags().StringVar(&index, "index", "", "index directory for the sqlite backend (overrides index.path)")
	return cmd
}
