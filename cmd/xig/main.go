// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/HealthIntersections/xig-server/pkg/logging"
	"github.com/HealthIntersections/xig-server/services/xig/config"
	"github.com/HealthIntersections/xig-server/services/xig/fetch"
	"github.com/HealthIntersections/xig-server/services/xig/handlers"
	"github.com/HealthIntersections/xig-server/services/xig/lifecycle"
	"github.com/HealthIntersections/xig-server/services/xig/observability"
	"github.com/HealthIntersections/xig-server/services/xig/query"
	"github.com/HealthIntersections/xig-server/services/xig/routes"
)

var (
	cfg        config.Config
	configPath string

	rootCmd = &cobra.Command{
		Use:   "xig",
		Short: "Cross-IG statistics server over the FHIR package ecosystem",
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the faceted query API over the current dataset",
		RunE:  runServe,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		cfg = loaded
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "xig",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	metrics := observability.InitMetrics()
	if err := observability.Bridge(nil); err != nil {
		return fmt.Errorf("initializing metrics bridge: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:      cfg.Dataset.FetchTimeout.Std(),
		MaxRedirects: cfg.Dataset.MaxRedirects,
		Attempts:     cfg.Dataset.FetchAttempts,
	}, logger)

	manager := lifecycle.NewManager(ctx, lifecycle.Options{
		URL:     cfg.Dataset.DownloadURL,
		Path:    cfg.Dataset.Path,
		Fetcher: fetcher,
		Logger:  logger,
		Metrics: metrics,
	})
	defer manager.Close()

	// First download runs in the background; until it lands the server
	// answers with degraded (empty) results rather than refusing to
	// start.
	if manager.Database() == nil {
		go func() {
			if err := manager.Refresh(ctx); err != nil {
				logger.Error("initial dataset refresh failed", "error", err)
			}
		}()
	}
	go refreshLoop(ctx, manager, cfg.Dataset.RefreshInterval.Std(), logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := handlers.NewHandlers(manager, query.NewEngine(cfg.Server.PageSize), metrics, logger)
	routes.SetupRoutes(router, h, metrics, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("xig server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// refreshLoop triggers a dataset refresh on the configured interval.
// A trigger that lands while a refresh is running is dropped, not
// queued; the loop itself never exits until shutdown.
func refreshLoop(ctx context.Context, manager *lifecycle.Manager, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.Refresh(ctx); err != nil && !errors.Is(err, lifecycle.ErrRefreshInProgress) {
				logger.Error("scheduled dataset refresh failed", "error", err)
			}
		}
	}
}
