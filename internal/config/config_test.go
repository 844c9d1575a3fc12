package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Cache.DailyTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.WeeklyTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.MonthlyTTL)
	assert.Equal(t, time.Hour, cfg.Cache.DashboardTTL)
	assert.Equal(t, 75.0, cfg.Engine.DefaultScore)
	assert.Equal(t, 10.0, cfg.Engine.TrendThreshold)
	assert.Equal(t, 50, cfg.Scheduler.DailyChunkSize)
	assert.False(t, cfg.API.ServeStale)
	assert.Equal(t, []string{"*"}, cfg.API.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CACHE_DASHBOARD_TTL", "30m")
	t.Setenv("ENGINE_DEFAULT_SCORE", "60")
	t.Setenv("API_SERVE_STALE", "true")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Cache.DashboardTTL)
	assert.Equal(t, 60.0, cfg.Engine.DefaultScore)
	assert.True(t, cfg.API.ServeStale)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SCHEDULER_DAILY_CHUNK_SIZE", "not-a-number")
	t.Setenv("CACHE_DAILY_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Scheduler.DailyChunkSize)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DailyTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing redis host", mutate: func(c *Config) { c.Redis.Host = "" }, wantErr: true},
		{name: "zero dashboard ttl", mutate: func(c *Config) { c.Cache.DashboardTTL = 0 }, wantErr: true},
		{name: "default score above 100", mutate: func(c *Config) { c.Engine.DefaultScore = 120 }, wantErr: true},
		{name: "zero chunk size", mutate: func(c *Config) { c.Scheduler.DailyChunkSize = 0 }, wantErr: true},
		{name: "zero parallelism", mutate: func(c *Config) { c.Scheduler.ChunkParallelism = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
