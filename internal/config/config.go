package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Raw data store
	Database DatabaseConfig

	// Cache store
	Redis RedisConfig

	Cache  CacheConfig
	Engine EngineConfig

	// Services
	API         APIConfig
	Invalidator InvalidatorConfig
	Scheduler   SchedulerConfig
	WSGateway   WSGatewayConfig
}

// DatabaseConfig holds Postgres configuration for the raw data store
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Circuit breaker around bulk reads
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// CacheConfig holds per-sub-cache TTLs and maintenance thresholds
type CacheConfig struct {
	KeyPrefix        string
	DailyTTL         time.Duration
	WeeklyTTL        time.Duration
	MonthlyTTL       time.Duration
	DashboardTTL     time.Duration
	ComputingTTL     time.Duration // Lifetime of the in-flight recompute marker
	OversizedBytes   int64
	LifetimeMaxRetry int
	ReadyChannel     string
}

// EngineConfig holds Calculation Engine policy
type EngineConfig struct {
	DefaultScore     float64
	TrendThreshold   float64 // Percent change between window halves
	RecomputeTimeout time.Duration
	SmoothingWindow  int
}

// APIConfig holds the read API configuration
type APIConfig struct {
	Port            int
	HealthCheckPort int
	RequestTimeout  time.Duration
	RetryAfter      time.Duration
	ServeStale      bool
	JWTSecret       string
	RateLimitRPS    int
	EventStream     string
	AllowedOrigins  []string
}

// InvalidatorConfig holds document-event consumer configuration
type InvalidatorConfig struct {
	HealthCheckPort int
	StreamName      string
	ConsumerGroup   string
	ConsumerName    string
	BatchSize       int
	AckTimeout      time.Duration
	HandleTimeout   time.Duration
	DedupeTTL       time.Duration // How long a handled event ID is remembered
}

// SchedulerConfig holds batch job configuration
type SchedulerConfig struct {
	HealthCheckPort     int
	RunOnStart          bool
	DailyInterval       time.Duration
	CorrelationInterval time.Duration
	CleanupInterval     time.Duration
	ActiveWindow        time.Duration
	MinTrackedDays      int
	DailyChunkSize      int
	CorrelationChunk    int
	CleanupChunkSize    int
	ChunkParallelism    int
	UserTimeout         time.Duration
}

// WSGatewayConfig holds WebSocket gateway configuration
type WSGatewayConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxConnections int
	JWTSecret      string
}

// Load loads configuration from environment variables
// It loads a .env file first if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvAsInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "postgres"),
			Password:           getEnv("DB_PASSWORD", "postgres"),
			Database:           getEnv("DB_NAME", "vitalspan"),
			SSLMode:            getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:       getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			BreakerMaxFailures: uint32(getEnvAsInt("DB_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvAsDuration("DB_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Cache: CacheConfig{
			KeyPrefix:        getEnv("CACHE_KEY_PREFIX", "usercache"),
			DailyTTL:         getEnvAsDuration("CACHE_DAILY_TTL", 24*time.Hour),
			WeeklyTTL:        getEnvAsDuration("CACHE_WEEKLY_TTL", 7*24*time.Hour),
			MonthlyTTL:       getEnvAsDuration("CACHE_MONTHLY_TTL", 30*24*time.Hour),
			DashboardTTL:     getEnvAsDuration("CACHE_DASHBOARD_TTL", 1*time.Hour),
			ComputingTTL:     getEnvAsDuration("CACHE_COMPUTING_TTL", 2*time.Minute),
			OversizedBytes:   int64(getEnvAsInt("CACHE_OVERSIZED_BYTES", 64*1024)),
			LifetimeMaxRetry: getEnvAsInt("CACHE_LIFETIME_MAX_RETRY", 5),
			ReadyChannel:     getEnv("CACHE_READY_CHANNEL", "metrics.ready"),
		},
		Engine: EngineConfig{
			DefaultScore:     getEnvAsFloat("ENGINE_DEFAULT_SCORE", 75),
			TrendThreshold:   getEnvAsFloat("ENGINE_TREND_THRESHOLD", 10),
			RecomputeTimeout: getEnvAsDuration("ENGINE_RECOMPUTE_TIMEOUT", 60*time.Second),
			SmoothingWindow:  getEnvAsInt("ENGINE_SMOOTHING_WINDOW", 3),
		},
		API: APIConfig{
			Port:            getEnvAsInt("API_PORT", 8090),
			HealthCheckPort: getEnvAsInt("API_HEALTH_PORT", 8091),
			RequestTimeout:  getEnvAsDuration("API_REQUEST_TIMEOUT", 5*time.Second),
			RetryAfter:      getEnvAsDuration("API_RETRY_AFTER", 5*time.Second),
			ServeStale:      getEnvAsBool("API_SERVE_STALE", false),
			JWTSecret:       getEnv("API_JWT_SECRET", ""),
			RateLimitRPS:    getEnvAsInt("API_RATE_LIMIT_RPS", 100),
			EventStream:     getEnv("API_EVENT_STREAM", "documents.created"),
			AllowedOrigins:  getEnvAsStringSlice("API_ALLOWED_ORIGINS", []string{"*"}),
		},
		Invalidator: InvalidatorConfig{
			HealthCheckPort: getEnvAsInt("INVALIDATOR_HEALTH_PORT", 8093),
			StreamName:      getEnv("INVALIDATOR_STREAM_NAME", "documents.created"),
			ConsumerGroup:   getEnv("INVALIDATOR_CONSUMER_GROUP", "cache-invalidator"),
			ConsumerName:    getEnv("INVALIDATOR_CONSUMER_NAME", hostnameOr("invalidator-1")),
			BatchSize:       getEnvAsInt("INVALIDATOR_BATCH_SIZE", 50),
			AckTimeout:      getEnvAsDuration("INVALIDATOR_ACK_TIMEOUT", 2*time.Second),
			HandleTimeout:   getEnvAsDuration("INVALIDATOR_HANDLE_TIMEOUT", 5*time.Second),
			DedupeTTL:       getEnvAsDuration("INVALIDATOR_DEDUPE_TTL", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			HealthCheckPort:     getEnvAsInt("SCHEDULER_HEALTH_PORT", 8095),
			RunOnStart:          getEnvAsBool("SCHEDULER_RUN_ON_START", false),
			DailyInterval:       getEnvAsDuration("SCHEDULER_DAILY_INTERVAL", 24*time.Hour),
			CorrelationInterval: getEnvAsDuration("SCHEDULER_CORRELATION_INTERVAL", 7*24*time.Hour),
			CleanupInterval:     getEnvAsDuration("SCHEDULER_CLEANUP_INTERVAL", 6*time.Hour),
			ActiveWindow:        getEnvAsDuration("SCHEDULER_ACTIVE_WINDOW", 7*24*time.Hour),
			MinTrackedDays:      getEnvAsInt("SCHEDULER_MIN_TRACKED_DAYS", 30),
			DailyChunkSize:      getEnvAsInt("SCHEDULER_DAILY_CHUNK_SIZE", 50),
			CorrelationChunk:    getEnvAsInt("SCHEDULER_CORRELATION_CHUNK_SIZE", 10),
			CleanupChunkSize:    getEnvAsInt("SCHEDULER_CLEANUP_CHUNK_SIZE", 25),
			ChunkParallelism:    getEnvAsInt("SCHEDULER_CHUNK_PARALLELISM", 10),
			UserTimeout:         getEnvAsDuration("SCHEDULER_USER_TIMEOUT", 2*time.Minute),
		},
		WSGateway: WSGatewayConfig{
			Port:           getEnvAsInt("WS_GATEWAY_PORT", 8088),
			ReadTimeout:    getEnvAsDuration("WS_GATEWAY_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getEnvAsDuration("WS_GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:   getEnvAsDuration("WS_GATEWAY_PING_INTERVAL", 30*time.Second),
			MaxConnections: getEnvAsInt("WS_GATEWAY_MAX_CONNECTIONS", 1000),
			JWTSecret:      getEnv("WS_GATEWAY_JWT_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	for name, ttl := range map[string]time.Duration{
		"CACHE_DAILY_TTL":     c.Cache.DailyTTL,
		"CACHE_WEEKLY_TTL":    c.Cache.WeeklyTTL,
		"CACHE_MONTHLY_TTL":   c.Cache.MonthlyTTL,
		"CACHE_DASHBOARD_TTL": c.Cache.DashboardTTL,
		"CACHE_COMPUTING_TTL": c.Cache.ComputingTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Engine.DefaultScore < 0 || c.Engine.DefaultScore > 100 {
		return fmt.Errorf("ENGINE_DEFAULT_SCORE must be within [0,100]")
	}
	if c.Engine.TrendThreshold < 0 {
		return fmt.Errorf("ENGINE_TREND_THRESHOLD must not be negative")
	}
	if c.Scheduler.DailyChunkSize <= 0 || c.Scheduler.CorrelationChunk <= 0 || c.Scheduler.CleanupChunkSize <= 0 {
		return fmt.Errorf("scheduler chunk sizes must be positive")
	}
	if c.Scheduler.ChunkParallelism <= 0 {
		return fmt.Errorf("SCHEDULER_CHUNK_PARALLELISM must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}
