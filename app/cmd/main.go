package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrag/app/server"
	"docrag/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newServeCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve questions over HTTP from the vector index",
		Long: `Starts the query API. The index is loaded in the background; until it
is available /query answers 503 and loading is retried.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := cfg.Logger()

			rt, err := server.NewRuntime(cfg, logger)
			if err != nil {
				return err
			}
			s := server.NewServer(cfg.Server.Addr, rt, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errch := make(chan error, 1)
			go func() { errch <- s.Run(ctx) }()

			select {
			case err := <-errch:
				return err
			case <-ctx.Done():
			}
			logger.Info("received shutdown signal, shutting down server")

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.Shutdown(sctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $RAG_CONFIG)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
