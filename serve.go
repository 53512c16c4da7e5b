package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/cache"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/config"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/database"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/handlers"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/locks"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/logging"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/middleware"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/retry"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting itsm-engine",
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("nats", logging.SanitizeConnectionString(cfg.NATS.URL)))

	// Database
	db, err := database.Connect(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, retry.StartupConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(cfg, logger); err != nil {
			return err
		}
	}

	// Supporting infrastructure. Redis, NATS and the cache are optional.
	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	knownErrorCache, closeCache, err := newKnownErrorCache(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	registry, err := models.NewCustomFieldRegistry(cfg.CustomFields)
	if err != nil {
		return fmt.Errorf("invalid custom field definitions: %w", err)
	}

	// Repositories
	problemRepo := repositories.NewProblemRepository()
	knownErrorRepo := repositories.NewKnownErrorRepository()

	// Services
	problemService := services.NewProblemService(problemRepo, registry, cfg.Problems.NonDeletableStatuses,
		services.RunInTx, publisher, logger)
	rcaService := services.NewRCAService(problemRepo, services.RunInTx, publisher, logger)
	knownErrorService := services.NewKnownErrorService(knownErrorRepo, problemRepo, knownErrorCache,
		services.RunInTx, publisher, services.KnownErrorServiceConfig{
			DefaultSearchLimit: cfg.KnownErrors.DefaultSearchLimit,
			MaxSearchLimit:     cfg.KnownErrors.MaxSearchLimit,
		}, logger)
	statisticsService := services.NewStatisticsService(problemRepo, knownErrorRepo, services.ReadSnapshot,
		cfg.Problems.SLA.Threshold, logger)
	bulkService := services.NewBulkService(problemService, problemRepo, locker, services.NewScopeFunc(db),
		services.ReadSnapshot, services.BulkConfig{
			MaxIDs:         cfg.Problems.BulkMaxIDs,
			MaxConcurrency: cfg.Problems.BulkMaxConcurrency,
			ExportMaxRows:  cfg.Problems.ExportMaxRows,
		}, logger)

	// Routes
	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithRequestScope(db, logger))

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewProblemHandler(problemService, logger).RegisterRoutes(mux, scope)
	handlers.NewRCAHandler(rcaService, logger).RegisterRoutes(mux, scope)
	handlers.NewKnownErrorHandler(knownErrorService, logger).RegisterRoutes(mux, scope)
	handlers.NewStatisticsHandler(statisticsService, logger).RegisterRoutes(mux, scope)
	handlers.NewBulkHandler(bulkService, logger).RegisterRoutes(mux, scope)

	handler := middleware.Correlation(middleware.Actor(middleware.RequestLogger(logger)(mux)))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" {
			logger.Info("Serving HTTPS", zap.String("addr", server.Addr))
			serverErr <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		logger.Info("Serving HTTP", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newLocker returns a Redis-backed locker when Redis is configured so that
// bulk writers on every instance serialize on the same problem ids.
func newLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (locks.Locker, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %s", logging.SanitizeError(err))
	}
	if client == nil {
		logger.Info("Redis not configured; record locks are process-local")
		return locks.NewLocalLocker(), func() {}, nil
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	return locks.NewRedisLocker(client, "itsm:lock", cfg.Redis.LockTTL, logger), closeFn, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, func(), error) {
	if cfg.NATS.URL == "" {
		logger.Info("NATS not configured; lifecycle events are not published")
		return events.NoopPublisher{}, func() {}, nil
	}
	publisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: %s", logging.SanitizeError(err))
	}
	return publisher, publisher.Close, nil
}

func newKnownErrorCache(cfg *config.Config, logger *zap.Logger) (cache.KnownErrorCache, func(), error) {
	if cfg.KnownErrors.CacheMaxCost <= 0 {
		return cache.Noop{}, func() {}, nil
	}
	c, err := cache.NewRistretto(cfg.KnownErrors.CacheMaxCost, cfg.KnownErrors.CacheTTL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create known error cache: %w", err)
	}
	return c, c.Close, nil
}
