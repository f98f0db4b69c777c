// Package cache provides the Redis-backed leaderboard cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"greenloop/internal/model"
)

const (
	keyPrefix     = "greenloop:leaderboard:"
	generationKey = keyPrefix + "generation"
)

// Leaderboard caches ranked leaderboards per timeframe in Redis. Entries are
// keyed by a generation counter that Invalidate bumps, so a load that started
// before an invalidation can only write under a generation nobody reads again.
// There is no local in-process tier.
type Leaderboard struct {
	client   redis.UniversalClient
	instance *cache.Cache
	ttl      time.Duration
}

// NewLeaderboard creates a Leaderboard cache on client. Entries expire after ttl.
func NewLeaderboard(client redis.UniversalClient, ttl time.Duration) *Leaderboard {
	return &Leaderboard{
		client: client,
		instance: cache.New(&cache.Options{
			Redis:     client,
			Marshal:   msgpack.Marshal,
			Unmarshal: msgpack.Unmarshal,
		}),
		ttl: ttl,
	}
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func key(tf model.Timeframe, generation int64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, tf, generation)
}

func (l *Leaderboard) generation(ctx context.Context) (int64, error) {
	gen, err := l.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Leaderboard returns the cached ranking for tf, calling load on a miss.
// A Redis failure falls back to load so reads keep working without Redis.
func (l *Leaderboard) Leaderboard(ctx context.Context, tf model.Timeframe, load func() ([]model.LeaderboardEntry, error)) ([]model.LeaderboardEntry, error) {
	gen, err := l.generation(ctx)
	if err != nil {
		log.Warn().Err(err).Str("timeframe", string(tf)).Msg("Leaderboard cache generation read failed")
		return load()
	}

	var entries []model.LeaderboardEntry
	err = l.instance.Get(ctx, key(tf, gen), &entries)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("timeframe", string(tf)).Msg("Leaderboard cache read failed")
	}

	entries, err = load()
	if err != nil {
		return nil, err
	}

	if err := l.instance.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key(tf, gen),
		Value: entries,
		TTL:   l.ttl,
	}); err != nil {
		log.Warn().Err(err).Str("timeframe", string(tf)).Msg("Leaderboard cache write failed")
	}
	return entries, nil
}

// Invalidate retires every cached timeframe by moving to a new generation.
// Entries of older generations expire on their TTL.
func (l *Leaderboard) Invalidate(ctx context.Context) error {
	if err := l.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("failed to bump leaderboard generation: %w", err)
	}
	return nil
}
