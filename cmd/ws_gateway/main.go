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
	"github.com/vitalspan/metrics-cache/internal/auth"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/notify"
	"github.com/vitalspan/metrics-cache/internal/pubsub"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// hubCheck reports the hub's subscription as a readiness dependency
type hubCheck struct {
	hub *notify.Hub
}

func (c hubCheck) Ping(ctx context.Context) error {
	if !c.hub.IsRunning() {
		return errors.New("hub not running")
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
	if err := logger.Init(cfg.LogLevel, cfg.Environment, logger.Service("ws-gateway")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting WebSocket gateway service",
		logger.Int("port", cfg.WSGateway.Port),
		logger.Int("max_connections", cfg.WSGateway.MaxConnections),
		logger.String("channel", cfg.Cache.ReadyChannel),
		logger.Bool("auth_enabled", cfg.WSGateway.JWTSecret != ""),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize hub
	authManager := auth.NewAuthManager(cfg.WSGateway.JWTSecret)
	hub := notify.NewHub(cfg.WSGateway, redisClient, cfg.Cache.ReadyChannel, authManager)

	// Start hub
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start notification hub",
			logger.ErrorField(err),
		)
	}

	// Set up HTTP server
	router := mux.NewRouter()

	// WebSocket endpoint
	router.Handle("/ws", hub)

	// Health check endpoints
	api.NewHealthHandler(map[string]api.Pinger{
		"redis": redisClient,
		"hub":   hubCheck{hub: hub},
	}).Register(router)

	// Stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WSGateway.Port),
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
	logger.Info("Shutting down WebSocket gateway service")

	// Shutdown does not wait for hijacked sockets; the hub closes those
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}
	hub.Stop()

	logger.Info("WebSocket gateway service stopped")
}
