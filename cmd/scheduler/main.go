package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitalspan/metrics-cache/internal/api"
	"github.com/vitalspan/metrics-cache/internal/cache"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/engine"
	"github.com/vitalspan/metrics-cache/internal/jobs"
	"github.com/vitalspan/metrics-cache/internal/pubsub"
	"github.com/vitalspan/metrics-cache/internal/scoring"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment, logger.Service("scheduler")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting scheduler service",
		logger.Int("health_port", cfg.Scheduler.HealthCheckPort),
		logger.Duration("daily_interval", cfg.Scheduler.DailyInterval),
		logger.Duration("correlation_interval", cfg.Scheduler.CorrelationInterval),
		logger.Duration("cleanup_interval", cfg.Scheduler.CleanupInterval),
		logger.Bool("run_on_start", cfg.Scheduler.RunOnStart),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize raw data store behind the circuit breaker
	rawStore, err := storage.NewPostgresRawStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize raw data store",
			logger.ErrorField(err),
		)
	}
	raw := storage.NewBreakerRawStore(rawStore, cfg.Database)
	defer raw.Close()

	// Initialize cache service and calculation engine
	cacheService := cache.NewService(redisClient, cfg.Cache)
	calc := engine.New(
		raw,
		cacheService,
		scoring.NewDefaultPolicy(cfg.Engine.DefaultScore),
		cfg.Engine,
		redisClient,
		cfg.Cache.ReadyChannel,
	)

	// Register jobs
	scheduler := jobs.NewScheduler(cfg.Scheduler.RunOnStart)
	scheduler.Register(jobs.NewDailyRecomputeJob(raw, calc, cfg.Scheduler), cfg.Scheduler.DailyInterval)
	scheduler.Register(jobs.NewCorrelationRefreshJob(raw, cacheService, calc, cfg.Scheduler), cfg.Scheduler.CorrelationInterval)
	scheduler.Register(jobs.NewCacheCleanupJob(cacheService, calc, cfg.Scheduler, cfg.Cache.OversizedBytes), cfg.Scheduler.CleanupInterval)

	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler",
			logger.ErrorField(err),
		)
	}

	// Set up HTTP server for health checks, manual runs and metrics
	router := mux.NewRouter()
	api.NewHealthHandler(map[string]api.Pinger{
		"postgres": rawStore,
		"redis":    redisClient,
	}).Register(router)

	// Manual trigger, runs synchronously under the overlap guard
	router.HandleFunc("/jobs/{name}/run", jobs.RunHandler(scheduler)).Methods("POST")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Scheduler.HealthCheckPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down scheduler service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	// Cancels in-flight runs; an interrupted run is picked up on the next start
	scheduler.Stop()

	logger.Info("Scheduler service stopped")
}
