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
	"github.com/vitalspan/metrics-cache/internal/auth"
	"github.com/vitalspan/metrics-cache/internal/cache"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/engine"
	"github.com/vitalspan/metrics-cache/internal/pubsub"
	"github.com/vitalspan/metrics-cache/internal/recompute"
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
	if err := logger.Init(cfg.LogLevel, cfg.Environment, logger.Service("api")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting metrics API service",
		logger.Int("port", cfg.API.Port),
		logger.Int("rate_limit_rps", cfg.API.RateLimitRPS),
		logger.Bool("serve_stale", cfg.API.ServeStale),
		logger.Bool("auth_enabled", cfg.API.JWTSecret != ""),
	)

	// Initialize Redis client (cache store, event stream, ready channel)
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize raw data store
	rawStore, err := storage.NewPostgresRawStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize raw data store",
			logger.ErrorField(err),
		)
	}
	defer rawStore.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rawStore.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		logger.Fatal("Failed to ensure raw data schema",
			logger.ErrorField(err),
		)
	}
	schemaCancel()

	// Initialize cache service and calculation engine
	cacheService := cache.NewService(redisClient, cfg.Cache)
	calc := engine.New(
		storage.NewBreakerRawStore(rawStore, cfg.Database),
		cacheService,
		scoring.NewDefaultPolicy(cfg.Engine.DefaultScore),
		cfg.Engine,
		redisClient,
		cfg.Cache.ReadyChannel,
	)
	trigger := recompute.NewTrigger(calc, cacheService, cfg.Engine.RecomputeTimeout)

	// Initialize handlers
	authManager := auth.NewAuthManager(cfg.API.JWTSecret)
	publisher := pubsub.NewEventPublisher(redisClient, pubsub.DefaultEventPublisherConfig(cfg.API.EventStream))
	metricsHandler := api.NewMetricsHandler(cacheService, trigger, cfg.API)
	ingestHandler := api.NewIngestHandler(rawStore, publisher)
	healthHandler := api.NewHealthHandler(map[string]api.Pinger{
		"postgres": rawStore,
		"redis":    redisClient,
	})

	// Set up router
	router := mux.NewRouter()

	// API v1 routes
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(api.MetricsMiddleware(), api.AuthMiddleware(authManager))

	// Cache-aside reads
	v1.HandleFunc("/dashboard/{userId}", metricsHandler.GetDashboard).Methods("GET")
	v1.HandleFunc("/metrics/{userId}/{timeframe}", metricsHandler.GetMetrics).Methods("GET")

	// Raw data ingest
	v1.HandleFunc("/users", ingestHandler.CreateUser).Methods("POST")
	v1.HandleFunc("/users/{userId}/readings", ingestHandler.CreateReading).Methods("POST")
	v1.HandleFunc("/users/{userId}/assessments", ingestHandler.CreateAssessment).Methods("POST")

	// Health check endpoints
	healthHandler.Register(router)

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Apply middleware
	middlewares := api.ChainMiddleware(
		api.RequestIDMiddleware(),
		api.CORSMiddleware(cfg.API.AllowedOrigins),
		api.LoggingMiddleware(),
		api.ErrorHandlingMiddleware(),
		api.TimeoutMiddleware(cfg.API.RequestTimeout),
		api.RateLimitMiddleware(cfg.API.RateLimitRPS),
	)

	// Start HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           middlewares(router),
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
	logger.Info("Shutting down metrics API service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	// Let detached recomputes finish so their in-flight markers are cleared
	if err := trigger.Wait(ctx); err != nil {
		logger.Warn("Recomputes still running at shutdown",
			logger.ErrorField(err),
		)
	}

	logger.Info("Metrics API service stopped")
}
