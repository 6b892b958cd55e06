package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/assist"
	"github.com/rpattn/dataforge/internal/db"
	"github.com/rpattn/dataforge/internal/geo"
	"github.com/rpattn/dataforge/internal/ingestion"
	"github.com/rpattn/dataforge/internal/middleware"
	"github.com/rpattn/dataforge/internal/reconcile"
	"github.com/rpattn/dataforge/internal/repository"
	"github.com/rpattn/dataforge/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	converter := geo.NewProjConverter()
	defer converter.Close()

	opts, err := cfg.EngineOptions(converter)
	if err != nil {
		return err
	}
	engine := reconcile.NewEngine(opts)

	var (
		ingestionLogs repository.IngestionLogRepository
		runs          repository.TransformationLogRepository
	)
	if cfg.Database.Enabled {
		if err := db.RunMigrations(cfg.Database.Config, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		conn, err := db.NewConnection(ctx, cfg.Database.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()
		ingestionLogs = repository.NewIngestionLogRepository(conn.Pool)
		runs = repository.NewTransformationLogRepository(conn.Pool)
		logger.Info("audit persistence enabled",
			zap.String("host", cfg.Database.Host),
			zap.String("dbname", cfg.Database.DBName))
	}

	metrics, err := session.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var assistant *assist.Service
	if cfg.Assist.APIKey != "" {
		generator, err := assist.NewGenAIGenerator(ctx, cfg.Assist.APIKey, cfg.Assist.Model)
		if err != nil {
			return err
		}
		assistant = assist.NewService(generator, logger)
		logger.Info("assist enabled", zap.String("model", generator.Model()))
	}

	manager := session.NewManager(engine, runs, metrics, logger)
	api := session.NewHTTPHandler(manager, ingestion.NewService(ingestionLogs, logger), assistant, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.Logging(logger)(api)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
