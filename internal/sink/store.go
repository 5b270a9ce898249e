package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/procintel/sinoscan/internal/classify"
)

// Writer is the sink contract the pipeline depends on. The Postgres Store
// is the production implementation; tests substitute an in-memory one.
type Writer interface {
	WriteBatch(ctx context.Context, runID string, results []*classify.DetectionResult) (*BatchResult, error)
	Close() error
}

// Config contains detection sink configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	WritesPerSecond float64       `yaml:"writes_per_second" mapstructure:"writes_per_second"`
}

// BatchResult summarizes one durable batch write.
type BatchResult struct {
	Upserted int64
	Duration time.Duration
}

// SinkWriteError reports a batch that failed after retry exhaustion. The
// owning shard halts at its last checkpoint rather than dropping results.
type SinkWriteError struct {
	Attempts int
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// Store handles detection persistence with PostgreSQL
type Store struct {
	db      *sqlx.DB
	config  *Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// detectionsSchema is the sink table. The unique provenance key is what
// makes shard replay idempotent: re-running a shard upserts the same rows.
const detectionsSchema = `
	CREATE TABLE IF NOT EXISTS detections (
		id                  BIGSERIAL PRIMARY KEY,
		source_format_id    TEXT        NOT NULL,
		source_offset       BIGINT      NOT NULL,
		run_id              TEXT        NOT NULL,
		recipient_name      TEXT        NOT NULL DEFAULT '',
		vendor_name         TEXT        NOT NULL DEFAULT '',
		recipient_country   TEXT        NOT NULL DEFAULT '',
		performance_country TEXT        NOT NULL DEFAULT '',
		importance_tier     TEXT        NOT NULL,
		highest_confidence  TEXT        NOT NULL,
		detection_types     JSONB       NOT NULL,
		detection_details   JSONB       NOT NULL,
		detected_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (source_format_id, source_offset)
	)`

// NewStore creates a new detection store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	limit := rate.Inf
	if config.WritesPerSecond > 0 {
		limit = rate.Limit(config.WritesPerSecond)
	}

	store := &Store{
		db:      db,
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Detection store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the database connection and ensures the sink table.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, detectionsSchema); err != nil {
		return fmt.Errorf("failed to ensure detections table: %w", err)
	}

	return nil
}

// WriteBatch upserts a batch of detection results keyed by
// (source_format_id, source_offset). Transient failures are retried with
// exponential backoff; exhaustion returns a *SinkWriteError.
func (s *Store) WriteBatch(ctx context.Context, runID string, results []*classify.DetectionResult) (*BatchResult, error) {
	if len(results) == 0 {
		return &BatchResult{}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	const cols = 11
	valueStrings := make([]string, 0, len(results))
	valueArgs := make([]interface{}, 0, len(results)*cols)

	for i, result := range results {
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")

		types, err := json.Marshal(result.DetectionTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal detection_types: %w", err)
		}
		details, err := json.Marshal(result.Rationale)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal detection_details: %w", err)
		}

		valueArgs = append(valueArgs,
			result.Ref.SourceFormatID,
			result.Ref.SourceOffset,
			runID,
			result.RecipientName,
			result.VendorName,
			result.RecipientCountry,
			result.PerformanceCountry,
			string(result.Tier),
			string(result.Confidence),
			string(types),
			string(details),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO detections (
			source_format_id, source_offset, run_id,
			recipient_name, vendor_name, recipient_country, performance_country,
			importance_tier, highest_confidence, detection_types, detection_details
		)
		VALUES %s
		ON CONFLICT (source_format_id, source_offset) DO UPDATE SET
			run_id              = EXCLUDED.run_id,
			recipient_name      = EXCLUDED.recipient_name,
			vendor_name         = EXCLUDED.vendor_name,
			recipient_country   = EXCLUDED.recipient_country,
			performance_country = EXCLUDED.performance_country,
			importance_tier     = EXCLUDED.importance_tier,
			highest_confidence  = EXCLUDED.highest_confidence,
			detection_types     = EXCLUDED.detection_types,
			detection_details   = EXCLUDED.detection_details,
			detected_at         = now()`,
		strings.Join(valueStrings, ","))

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			delay := s.config.RetryDelay * time.Duration(1<<(attempt-1))
			s.logger.Warn("Retrying sink batch",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := s.db.ExecContext(ctx, query, valueArgs...)
		if err != nil {
			lastErr = err
			continue
		}

		upserted, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Could not get rows affected", zap.Error(err))
			upserted = int64(len(results))
		}

		result := &BatchResult{Upserted: upserted, Duration: time.Since(start)}
		s.logger.Debug("Sink batch upserted",
			zap.Int64("rows", result.Upserted),
			zap.Duration("duration", result.Duration))
		return result, nil
	}

	s.logger.Error("Sink batch failed after retries",
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return nil, &SinkWriteError{Attempts: attempts, Err: lastErr}
}

// TierCounts returns sink row counts grouped by importance tier.
func (s *Store) TierCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT importance_tier, COUNT(*)
		FROM detections
		GROUP BY importance_tier
		ORDER BY importance_tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to get tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[tier] = count
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	// Simple masking - replace password with ***
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
