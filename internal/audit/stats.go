package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/phi"
)

const (
	keyPassed        = "deid:decisions:passed"
	keyBlockedTotal  = "deid:blocks:total"
	keyBlockedPrefix = "deid:blocks:"
)

// BlockStats counts gate decisions in Redis so the block rate, and with it
// the false-positive rate of the matcher, can be watched per category.
// Counters hold no order references or identifiers.
type BlockStats struct {
	redis *redis.Client
}

// StatsSnapshot is a point-in-time read of the counters.
type StatsSnapshot struct {
	Passed     int64            `json:"passed"`
	Blocked    int64            `json:"blocked"`
	ByCategory map[string]int64 `json:"by_category"`
	BlockRate  float64          `json:"block_rate"`
}

// NewBlockStats connects to Redis using the cache configuration.
func NewBlockStats(config domain.CacheConfig) (*BlockStats, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &BlockStats{redis: client}, nil
}

// NewBlockStatsWithClient wraps an existing client.
func NewBlockStatsWithClient(client *redis.Client) *BlockStats {
	return &BlockStats{redis: client}
}

// RecordPassed counts one passed decision.
func (s *BlockStats) RecordPassed(ctx context.Context) error {
	if err := s.redis.Incr(ctx, keyPassed).Err(); err != nil {
		return fmt.Errorf("failed to record passed decision: %w", err)
	}
	return nil
}

// RecordBlocked counts one blocked decision and each category it fired on.
func (s *BlockStats) RecordBlocked(ctx context.Context, categories phi.CategorySet) error {
	pipe := s.redis.TxPipeline()
	pipe.Incr(ctx, keyBlockedTotal)
	for _, c := range categories.Sorted() {
		pipe.Incr(ctx, keyBlockedPrefix+string(c))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record blocked decision: %w", err)
	}
	return nil
}

// Snapshot reads every counter.
func (s *BlockStats) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	keys := []string{keyPassed, keyBlockedTotal}
	for _, c := range phi.ScanCategories {
		keys = append(keys, keyBlockedPrefix+string(c))
	}

	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read block stats: %w", err)
	}

	counts := make([]int64, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt counter %s: %w", keys[i], err)
		}
		counts[i] = n
	}

	snap := &StatsSnapshot{
		Passed:     counts[0],
		Blocked:    counts[1],
		ByCategory: make(map[string]int64, len(phi.ScanCategories)),
	}
	for i, c := range phi.ScanCategories {
		snap.ByCategory[string(c)] = counts[i+2]
	}
	if total := snap.Passed + snap.Blocked; total > 0 {
		snap.BlockRate = float64(snap.Blocked) / float64(total)
	}
	return snap, nil
}

// Ping checks the Redis connection.
func (s *BlockStats) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *BlockStats) Close() error {
	return s.redis.Close()
}
