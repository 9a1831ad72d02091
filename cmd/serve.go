package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		jobs := api.NewJobManager(ctx, a.ingest, logger)
		server := api.NewServer(api.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}, a.answer, jobs, map[string]api.HealthChecker{
			"store":    a.vectorStore,
			"embedder": a.embedder,
			"llm":      a.llm,
		}, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info().Msg("signal received, draining")
		return server.Shutdown(context.Background())
	},
}
