package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"greenloop/internal/badge"
	"greenloop/internal/cache"
	"greenloop/internal/config"
	"greenloop/internal/notify"
	"greenloop/internal/pkg/db"
	"greenloop/internal/pkg/lock"
	"greenloop/internal/repository"
	"greenloop/internal/scoring"
	"greenloop/internal/service"
)

// app holds the wired dependencies for one command invocation.
type app struct {
	cfg     *config.Config
	pool    *db.Pool
	redis   *redis.Client
	rs      *redsync.Redsync
	actions *repository.ActionRepository
	engine  *service.Engine
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Log)
	return cfg, nil
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// bootstrap loads configuration and wires the engine against PostgreSQL,
// plus Redis and Telegram when configured.
func bootstrap(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Gamification.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(c.Context, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool}

	tiers := make([]scoring.Tier, 0, len(cfg.Gamification.StreakTiers))
	for _, t := range cfg.Gamification.SortedTiers() {
		tiers = append(tiers, scoring.Tier{MinDays: t.MinDays, BonusPercent: t.BonusPercent})
	}

	a.actions = repository.NewActionRepository(pool.Pool)
	deps := &service.Dependencies{
		Actions:           a.actions,
		Categories:        repository.NewCategoryRepository(pool.Pool),
		Users:             repository.NewUserRepository(pool.Pool),
		Badges:            repository.NewBadgeRepository(pool.Pool),
		Ledger:            repository.NewLedgerRepository(pool.Pool, cfg.Ledger.LockTimeout),
		Calculator:        scoring.NewCalculator(cfg.Gamification.FlatBasePoints, tiers),
		Streaks:           scoring.NewStreakTracker(loc),
		Rules:             badge.NewRules(badge.NewDefaultRegistry()),
		UserLock:          lock.NewUserLock(),
		Notifier:          notify.Noop{},
		LockTimeout:       cfg.Ledger.LockTimeout,
		DefaultBoardLimit: cfg.Leaderboard.DefaultLimit,
	}

	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.rs = redsync.New(goredis.NewPool(client))
		deps.Cache = cache.NewLeaderboard(client, cfg.Leaderboard.CacheTTL)
		log.Info().Dur("ttl", cfg.Leaderboard.CacheTTL).Msg("Leaderboard cache enabled")
	}

	if cfg.Notify.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Notifier = tg
		log.Info().Int64("chat_id", cfg.Notify.Telegram.ChatID).Msg("Telegram badge notifications enabled")
	}

	engine, err := service.NewEngine(deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine
	return a, nil
}

// Close releases the pool and the Redis client.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// commandContext bounds one-shot commands.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, 2*time.Minute)
}
