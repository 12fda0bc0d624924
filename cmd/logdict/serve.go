package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logdict/backend/internal/api"
	"github.com/logdict/backend/internal/config"
	"github.com/logdict/backend/internal/dictstore"
	"github.com/logdict/backend/internal/logging"
	"github.com/logdict/backend/internal/parser"
	"github.com/logdict/backend/internal/session"
	"github.com/logdict/backend/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "logdict.config.xml", "path to the XML configuration file (created with defaults when missing)")
	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command-line flags win over the file only when given explicitly.
	level, format := cfg.Advanced.LogLevel, cfg.Advanced.LogFormat
	if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		level = logLevel
	}
	if f := rootCmd.PersistentFlags().Lookup("log-format"); f != nil && f.Changed {
		format = logFormat
	}
	log, err := logging.New(os.Stderr, level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	registry := parser.GetGlobalRegistry()
	if cfg.Build.FormatsFile != "" {
		n, err := registry.LoadFile(cfg.Build.FormatsFile)
		if err != nil {
			return fmt.Errorf("failed to load formats: %w", err)
		}
		log.Info("loaded log formats", "file", cfg.Build.FormatsFile, "count", n)
	}

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var dicts *dictstore.PersistentStore
	if cfg.Storage.EnablePersistence {
		dicts, err = dictstore.NewPersistentStore(cfg.GetDictionaryDir(), dictstore.Options{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize dictionary store: %w", err)
		}
	}

	builds, err := session.NewManager(session.Config{
		Workers:           cfg.Build.Workers,
		MaxWorkers:        cfg.Build.MaxWorkers,
		Shards:            cfg.Build.Shards,
		DefaultFormat:     cfg.Build.DefaultFormat,
		TolerateMalformed: cfg.Build.TolerateMalformed,
		Persist:           dicts != nil,
		MaxSessions:       cfg.Build.MaxSessions,
		Registry:          registry,
		Store:             dicts,
		Files:             fileStore,
		Logger:            log,
	})
	if err != nil {
		return err
	}
	defer builds.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   api.SplitOrigins(cfg.Server.AllowOrigins),
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
		Logger:         log,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:         fileStore,
		Builds:        builds,
		Dictionaries:  dicts,
		Registry:      registry,
		DefaultFormat: cfg.Build.DefaultFormat,
		Version:       Version,
		Logger:        log,
	}))
	if cfg.Advanced.EnableMetrics {
		api.RegisterMetrics(e)
	}

	// Write timeout stays zero: progress streams outlive any fixed deadline.
	srv := &http.Server{
		Addr:        cfg.GetServerAddr(),
		Handler:     e,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		IdleTimeout: time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info("server starting",
		"addr", srv.Addr,
		"version", Version,
		"workers", cfg.Build.Workers,
		"persistence", dicts != nil,
		"metrics", cfg.Advanced.EnableMetrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return builds.RunJanitor(gctx, cfg.CleanupInterval(), cfg.SessionTimeout())
	})
	return g.Wait()
}
