package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docrag/config"
	"docrag/model"
	"docrag/retriever"
	"docrag/store"
	"docrag/types"
)

const defaultK = 3

func main() {
	if err := newSearchCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSearchCmd() *cobra.Command {
	var (
		configPath string
		index      string
		k          int
	)

	cmd := &cobra.Command{
		Use:          "search <query>",
		Short:        "Print the passages of the index closest to a query",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if index != "" {
				cfg.Index.Path = index
			}
			hits, err := search(cmd.Context(), cfg, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $RAG_CONFIG)")
	cmd.Flags().StringVar(&index, "index", "", "index directory for the sqlite backend (overrides index.path)")
	cmd.Flags().IntVarP(&k, "k", "k", defaultK, "number of passages to print")
	return cmd
}

// search treats a missing index as an empty one.
func search(ctx context.Context, cfg *config.Config, query string, k int) ([]types.Hit, error) {
	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	reader, err := store.OpenReader(ctx, cfg.Index, store.WithLogger(logger))
	if errors.Is(err, types.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := retriever.Open(ctx, reader, embedder, retriever.WithLogger(logger))
	if err != nil {
		reader.Close()
		return nil, err
	}
	defer r.Close()

	return r.Retrieve(ctx, query, k)
}

func printHits(w io.Writer, hits []types.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no relevant documents found")
		return
	}
	for _, h := range hits {
		src := h.Chunk.Source
		if h.Chunk.Page > 0 {
			src = fmt.Sprintf("%s (page %d)", src, h.Chunk.Page)
		}
		fmt.Fprintf(w, "#%d  score=%.4f  %s\n%s\n\n", h.Rank, h.Score, src, h.Chunk.Content)
	}
}
