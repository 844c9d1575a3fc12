package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var (
	rawQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raw_store_query_latency_seconds",
			Help:    "Latency of raw data store queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	rawQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raw_store_query_errors_total",
			Help: "Total number of raw data store query errors",
		},
		[]string{"operation"},
	)
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wearable_readings (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	metric_type TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS assessments (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	chronological_age DOUBLE PRECISION NOT NULL,
	biological_age DOUBLE PRECISION NOT NULL,
	sleep_quality INTEGER NOT NULL,
	exercise_minutes_per_week INTEGER NOT NULL,
	diet_quality INTEGER NOT NULL,
	stress_level INTEGER NOT NULL,
	smoker BOOLEAN NOT NULL DEFAULT FALSE,
	alcohol_drinks_per_week INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_readings_user_recorded ON wearable_readings(user_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_readings_recorded ON wearable_readings(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_user_created ON assessments(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at DESC);
`

// PostgresRawStore implements RawDataStore and RawDataWriter on Postgres
type PostgresRawStore struct {
	db       *sql.DB
	dbConfig config.DatabaseConfig
}

// NewPostgresRawStore opens and pings the raw data database
func NewPostgresRawStore(dbConfig config.DatabaseConfig) (*PostgresRawStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to raw data store",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return &PostgresRawStore{db: db, dbConfig: dbConfig}, nil
}

// EnsureSchema creates the raw data tables and indexes if they do not exist
func (p *PostgresRawStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresRawStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// GetWearableReadings retrieves a user's readings within a time range
func (p *PostgresRawStore) GetWearableReadings(ctx context.Context, userID string, start, end time.Time) ([]*models.WearableReading, error) {
	defer observe("get_readings", time.Now())

	query := `
		SELECT id, user_id, metric_type, value, source, recorded_at, created_at
		FROM wearable_readings
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		rawQueryErrors.WithLabelValues("get_readings").Inc()
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.WearableReading
	for rows.Next() {
		var r models.WearableReading
		var metricType string
		if err := rows.Scan(&r.ID, &r.UserID, &metricType, &r.Value, &r.Source, &r.RecordedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.MetricType = models.MetricType(metricType)
		readings = append(readings, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// GetAssessments retrieves a user's assessments within a time range
func (p *PostgresRawStore) GetAssessments(ctx context.Context, userID string, start, end time.Time) ([]*models.Assessment, error) {
	defer observe("get_assessments", time.Now())

	query := `
		SELECT id, user_id, chronological_age, biological_age, sleep_quality,
		       exercise_minutes_per_week, diet_quality, stress_level, smoker,
		       alcohol_drinks_per_week, created_at
		FROM assessments
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		rawQueryErrors.WithLabelValues("get_assessments").Inc()
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	var assessments []*models.Assessment
	for rows.Next() {
		var a models.Assessment
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.ChronologicalAge,
			&a.BiologicalAge,
			&a.SleepQuality,
			&a.ExerciseMinutesPerWeek,
			&a.DietQuality,
			&a.StressLevel,
			&a.Smoker,
			&a.AlcoholDrinksPerWeek,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		assessments = append(assessments, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return assessments, nil
}

// GetActiveUsers retrieves users with readings or assessments since the given time
func (p *PostgresRawStore) GetActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	defer observe("get_active_users", time.Now())

	query := `
		SELECT user_id FROM wearable_readings WHERE recorded_at >= $1
		UNION
		SELECT user_id FROM assessments WHERE created_at >= $1
		ORDER BY user_id
	`
	return p.queryUserIDs(ctx, "get_active_users", query, since)
}

// GetUsersWithMinTrackedDays retrieves users with readings on at least minDays distinct UTC days
func (p *PostgresRawStore) GetUsersWithMinTrackedDays(ctx context.Context, minDays int) ([]string, error) {
	defer observe("get_users_min_days", time.Now())

	query := `
		SELECT user_id
		FROM wearable_readings
		GROUP BY user_id
		HAVING COUNT(DISTINCT (recorded_at AT TIME ZONE 'UTC')::date) >= $1
		ORDER BY user_id
	`
	return p.queryUserIDs(ctx, "get_users_min_days", query, minDays)
}

func (p *PostgresRawStore) queryUserIDs(ctx context.Context, operation string, query string, args ...interface{}) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		rawQueryErrors.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return userIDs, nil
}

// CreateUser inserts a user if it does not exist yet
func (p *PostgresRawStore) CreateUser(ctx context.Context, user *models.User) (bool, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		user.ID, user.CreatedAt,
	)
	if err != nil {
		rawQueryErrors.WithLabelValues("create_user").Inc()
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// InsertWearableReading inserts a reading, assigning an ID if missing
func (p *PostgresRawStore) InsertWearableReading(ctx context.Context, r *models.WearableReading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wearable_readings (id, user_id, metric_type, value, source, recorded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, string(r.MetricType), r.Value, r.Source, r.RecordedAt, r.CreatedAt,
	)
	if err != nil {
		rawQueryErrors.WithLabelValues("insert_reading").Inc()
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertAssessment inserts an assessment, assigning an ID if missing
func (p *PostgresRawStore) InsertAssessment(ctx context.Context, a *models.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO assessments (id, user_id, chronological_age, biological_age, sleep_quality,
			exercise_minutes_per_week, diet_quality, stress_level, smoker, alcohol_drinks_per_week, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, a.ChronologicalAge, a.BiologicalAge, a.SleepQuality,
		a.ExerciseMinutesPerWeek, a.DietQuality, a.StressLevel, a.Smoker, a.AlcoholDrinksPerWeek, a.CreatedAt,
	)
	if err != nil {
		rawQueryErrors.WithLabelValues("insert_assessment").Inc()
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

// Close closes the database connection
func (p *PostgresRawStore) Close() error {
	return p.db.Close()
}

func observe(operation string, start time.Time) {
	rawQueryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
