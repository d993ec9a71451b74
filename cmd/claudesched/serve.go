package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"claudesched/internal/api"
	claudeschedmcp "claudesched/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withMCP, syncOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the JSON API under /v1. Tasks keep firing from the native scheduler
whether or not this server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if syncOnStart {
					if _, err := a.manager.Sync(ctx); err != nil {
						a.logger.Error("initial sync", "err", err)
					}
				}

				var mcpHandler http.Handler
				if withMCP {
					mcpHandler = claudeschedmcp.NewMCPServer(a.manager, a.logger).HTTPHandler()
				}
				server := api.NewServer(a.cfg.Server.Addr, a.cfg.Server.AuthToken, a.manager, mcpHandler, a.logger)
				if a.cfg.Server.AuthToken == "" {
					a.logger.Warn("http api has no auth token", "addr", a.cfg.Server.Addr)
				}

				serverErr := make(chan error, 1)
				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serverErr <- err
					}
				}()

				sigs := make(chan os.Signal, 1)
				signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(sigs)

				var runErr error
				select {
				case sig := <-sigs:
					a.logger.Info("received signal", "signal", sig.String())
				case err := <-serverErr:
					a.logger.Error("server error", "err", err)
					runErr = err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("server shutdown", "err", err)
				}
				a.logger.Info("shutdown complete")
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&opts.overrides.Addr, "addr", "", "listen address (default 127.0.0.1:7071)")
	cmd.Flags().StringVar(&opts.overrides.AuthToken, "auth-token", "", "bearer token required by /v1 and /mcp")
	cmd.Flags().BoolVar(&withMCP, "mcp", true, "also serve MCP over streamable HTTP at /mcp")
	cmd.Flags().BoolVar(&syncOnStart, "sync", false, "sync the native scheduler before serving")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				return claudeschedmcp.NewMCPServer(a.manager, a.logger).Run()
			})
		},
	}
}
