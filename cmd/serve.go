package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vegasq/deltagate/health"
	"github.com/vegasq/deltagate/server"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("api-prefix", "/api/v1", "path prefix of the API routes")
	f.String("storage-location", "", "root location for tables created without one")

	mustBindPFlag("server.addr", f.Lookup("addr"))
	mustBindPFlag("server.api_prefix", f.Lookup("api-prefix"))
	mustBindPFlag("catalog.storage_location", f.Lookup("storage-location"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.shutdown()
	cfg, logger := e.cfg, e.logger

	checker := health.NewChecker()
	httpServer := server.New(e.gateway, server.Config{
		Addr:        cfg.Server.Addr,
		APIPrefix:   cfg.Server.APIPrefix,
		CORSOrigins: cfg.Server.CORSOrigins,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}, checker, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checker.Watch(gCtx, cfg.Server.HealthInterval, map[string]health.CheckFunc{
			"catalog": func(ctx context.Context) error {
				_, err := e.catalog.ListCatalogs(ctx)
				return err
			},
		}, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.Server.Addr, "api_prefix", cfg.Server.APIPrefix, "catalog", cfg.Catalog.Type)
		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}
