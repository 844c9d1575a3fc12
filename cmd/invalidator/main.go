package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/vitalspan/metrics-cache/internal/invalidation"
	"github.com/vitalspan/metrics-cache/internal/pubsub"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// consumerCheck reports the consumer loop as a readiness dependency
type consumerCheck struct {
	consumer *pubsub.EventConsumer
}

func (c consumerCheck) Ping(ctx context.Context) error {
	if !c.consumer.IsRunning() {
		return errors.New("consumer not running")
	}
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment, logger.Service("invalidator")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invalidator service",
		logger.Int("health_port", cfg.Invalidator.HealthCheckPort),
		logger.String("stream", cfg.Invalidator.StreamName),
		logger.String("consumer_group", cfg.Invalidator.ConsumerGroup),
		logger.String("consumer_name", cfg.Invalidator.ConsumerName),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize invalidator
	cacheService := cache.NewService(redisClient, cfg.Cache)
	invalidator := invalidation.NewInvalidator(cacheService,
		invalidation.WithDeduplicator(invalidation.NewDeduplicator(redisClient, cfg.Invalidator.DedupeTTL)),
	)

	// Initialize consumer
	consumerConfig := pubsub.DefaultEventConsumerConfig(
		cfg.Invalidator.StreamName,
		cfg.Invalidator.ConsumerGroup,
		cfg.Invalidator.ConsumerName,
	)
	if cfg.Invalidator.BatchSize > 0 {
		consumerConfig.BatchSize = cfg.Invalidator.BatchSize
	}
	if cfg.Invalidator.HandleTimeout > 0 {
		consumerConfig.HandleTimeout = cfg.Invalidator.HandleTimeout
	}
	if cfg.Invalidator.AckTimeout > 0 {
		consumerConfig.AckTimeout = cfg.Invalidator.AckTimeout
	}
	consumer := pubsub.NewEventConsumer(redisClient, invalidator, consumerConfig)

	// Start consumer
	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start event consumer",
			logger.ErrorField(err),
		)
	}
	defer consumer.Stop()

	// Set up HTTP server for health checks and metrics
	router := mux.NewRouter()
	api.NewHealthHandler(map[string]api.Pinger{
		"redis":    redisClient,
		"consumer": consumerCheck{consumer: consumer},
	}).Register(router)

	// Stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(consumer.GetStats())
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Invalidator.HealthCheckPort),
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

	select {
	case <-sigChan:
		logger.Info("Shutting down invalidator service")
	case <-consumer.Done():
		logger.Error("Event consumer exited, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	logger.Info("Invalidator service stopped")
}
