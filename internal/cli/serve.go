package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/config"
)

func serveCmd(opts *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured filesystem stack to remote clients",
		Example: `  fsfacade serve
  fsfacade serve --listen 127.0.0.1:7070`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				opts.cfg.Server.Transport.Listen = listen
			}
			return ServeImpl(cmd.Context(), opts.cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")
	return cmd
}

// ServeImpl runs the server until ctx is cancelled or SIGINT/SIGTERM arrives.
func ServeImpl(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	stack, err := config.CreateStack(ctx, cfg, metricsResult)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("Failed to close filesystem stack: %v", err)
		}
	}()

	server, err := config.CreateServer(&cfg.Server, stack.FS, metricsResult)
	if err != nil {
		return err
	}

	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("Metrics available at %s/metrics", cfg.Metrics.Listen)
	}

	logger.Info("Serving %s as %s/%s on %s", stack.FS.Name(), cfg.Server.Application, cfg.Server.Tenant, cfg.Server.Transport.Listen)

	// Serve drains in-flight calls itself once ctx is cancelled.
	err = server.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("Server stopped")
	}
	return err
}
