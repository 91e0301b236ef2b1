package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medvik/internal/api"
	"medvik/internal/config"
	"medvik/internal/database"
	"medvik/internal/domain"
	"medvik/internal/events"
	"medvik/internal/export"
	"medvik/internal/gateway"
	"medvik/internal/google"
	"medvik/internal/logging"
	"medvik/internal/metrics"
	"medvik/internal/models"
	"medvik/internal/repository"
	"medvik/internal/service"
	"medvik/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	idemStore := initIdempotencyStore(redisClient, &logger)
	sheetsService := initGoogleSheets(cfg, &logger)

	workerLogger := logging.Component(&logger, "report_worker")
	reportWorker := worker.NewReportWorker(db, sheetsService, redisClient, worker.RetryPolicy{}, &workerLogger)

	eventBus := events.NewEventBus()

	gatewayLogger := logging.Component(&logger, "payment_gateway")
	provider := gateway.NewClient(cfg.Ledger.Gateway, &gatewayLogger)
	ledgerService := service.NewLedgerService(db, eventBus, provider, idemStore, reportWorker, cfg.Ledger, &logger)
	allocationService := service.NewAllocationService(db, eventBus, reportWorker, ledgerService, cfg.Allocation, &logger)
	reconciliationService := service.NewReconciliationService(db, eventBus, reportWorker, cfg.Reconciliation, &logger)

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	httpServer := api.NewHTTPServer(cfg.API, allocationService, ledgerService, reconciliationService, exporter, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reportWorker.Start(ctx)

	startMetrics(ctx, cfg, &logger)
	startSweeps(ctx, cfg, allocationService, ledgerService, reconciliationService, &logger)

	return startServers(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "api-main")

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := seedPools(cfg, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// seedPools registers configured pools that are not in the database yet.
// Existing pools keep their counters; capacity changes go through the
// adjustment path, not the config.
func seedPools(cfg *config.Config, db *database.DB, logger *zerolog.Logger) error {
	ctx := context.Background()
	for i := range cfg.Pools {
		pool := cfg.Pools[i]
		_, err := db.GetPool(ctx, pool.HospitalID, pool.ResourceType)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("check pool %d/%s: %w", pool.HospitalID, pool.ResourceType, err)
		}
		if err := db.CreatePool(ctx, &pool, models.SystemActor); err != nil {
			return fmt.Errorf("seed pool %d/%s: %w", pool.HospitalID, pool.ResourceType, err)
		}
		logger.Info().
			Int64("hospital_id", pool.HospitalID).
			Str("resource_type", pool.ResourceType).
			Int64("total", pool.Total).
			Msg("pool registered from config")
	}
	return nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initIdempotencyStore(redisClient *redis.Client, logger *zerolog.Logger) domain.IdempotencyStore {
	memory := repository.NewMemoryIdempotencyStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverIdempotencyStore(repository.NewRedisIdempotencyStore(redisClient), memory, logger)
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) domain.SheetsWriter {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.ReportSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(cfg.Google.GoogleCredentialsFile, cfg.Google.ReportSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

// startSweeps runs the periodic jobs: the reconciliation pass, the
// start/complete window sweeps and the pending payment expiry.
func startSweeps(
	ctx context.Context,
	cfg *config.Config,
	allocation domain.AllocationService,
	ledger domain.LedgerService,
	reconciliation domain.ReconciliationService,
	logger *zerolog.Logger,
) {
	go runEvery(ctx, cfg.Reconciliation.Interval, func(_ time.Time) {
		records, err := reconciliation.RunOnce(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("reconciliation run failed")
			return
		}
		if len(records) > 0 {
			logger.Warn().Int("discrepancies", len(records)).Msg("reconciliation found discrepancies")
		}
	})

	go runEvery(ctx, time.Minute, func(now time.Time) {
		started, err := allocation.StartDue(ctx, now)
		if err != nil {
			logger.Error().Err(err).Msg("start sweep failed")
		} else if started > 0 {
			logger.Info().Int("started", started).Msg("bookings moved to occupancy")
		}

		completed, err := allocation.CompleteElapsed(ctx, now)
		if err != nil {
			logger.Error().Err(err).Msg("complete sweep failed")
		} else if completed > 0 {
			logger.Info().Int("completed", completed).Msg("bookings completed")
		}

		expired, err := ledger.ExpirePending(ctx, now)
		if err != nil {
			logger.Error().Err(err).Msg("payment expiry sweep failed")
		} else if expired > 0 {
			logger.Info().Int("expired", expired).Msg("pending payments expired")
		}
	})
}

func runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

func startServers(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
