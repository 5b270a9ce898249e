package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config contains checkpoint store configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RedisStore is the Redis-backed checkpoint store.
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
}

// NewRedisStore creates a new Redis-based checkpoint store
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	store := &RedisStore{
		client: client,
		config: config,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Checkpoint store initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("ttl", config.TTL))

	return store, nil
}

func offsetKey(runID, shard string) string {
	return fmt.Sprintf("sinoscan:%s:offset:%s", runID, shard)
}

func reportKey(runID, shard string) string {
	return fmt.Sprintf("sinoscan:%s:report:%s", runID, shard)
}

func shardsKey(runID string) string {
	return fmt.Sprintf("sinoscan:%s:shards", runID)
}

// Commit durably records the last committed offset for a shard.
func (s *RedisStore) Commit(ctx context.Context, runID, shard string, offset int64) error {
	if err := s.client.Set(ctx, offsetKey(runID, shard), offset, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint committed",
		zap.String("shard", shard),
		zap.Int64("offset", offset))
	return nil
}

// Last returns the committed offset for a shard, or NoOffset when the shard
// has never checkpointed in this run.
func (s *RedisStore) Last(ctx context.Context, runID, shard string) (int64, error) {
	value, err := s.client.Get(ctx, offsetKey(runID, shard)).Result()
	if err == redis.Nil {
		return NoOffset, nil
	}
	if err != nil {
		return NoOffset, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return NoOffset, fmt.Errorf("corrupt checkpoint value %q: %w", value, err)
	}
	return offset, nil
}

// SetReport persists the shard report and registers the shard for listing.
func (s *RedisStore) SetReport(ctx context.Context, runID string, report *Report) error {
	report.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, reportKey(runID, report.Shard), data, s.config.TTL)
	pipe.SAdd(ctx, shardsKey(runID), report.Shard)
	pipe.Expire(ctx, shardsKey(runID), s.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist report: %w", err)
	}
	return nil
}

// Reports returns all shard reports for a run.
func (s *RedisStore) Reports(ctx context.Context, runID string) ([]*Report, error) {
	shards, err := s.client.SMembers(ctx, shardsKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	reports := make([]*Report, 0, len(shards))
	for _, shard := range shards {
		data, err := s.client.Get(ctx, reportKey(runID, shard)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report for %s: %w", shard, err)
		}

		var report Report
		if err := json.Unmarshal([]byte(data), &report); err != nil {
			s.logger.Warn("Corrupt shard report skipped",
				zap.String("shard", shard),
				zap.Error(err))
			continue
		}
		reports = append(reports, &report)
	}
	return reports, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// maskRedisURL masks credentials in the Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			return "redis://***@" + parts[len(parts)-1]
		}
	}
	return url
}
