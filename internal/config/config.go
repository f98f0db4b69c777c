// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Gamification GamificationConfig `mapstructure:"gamification"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Leaderboard  LeaderboardConfig  `mapstructure:"leaderboard"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Notify       NotifyConfig       `mapstructure:"notify"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used for caching and job locks.
// An empty URL disables both.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// StreakTier grants BonusPercent extra points once a streak reaches MinDays.
type StreakTier struct {
	MinDays      int   `mapstructure:"min_days"`
	BonusPercent int64 `mapstructure:"bonus_percent"`
}

// GamificationConfig holds scoring and streak settings.
type GamificationConfig struct {
	FlatBasePoints int64        `mapstructure:"flat_base_points"`
	StreakTiers    []StreakTier `mapstructure:"streak_tiers"`
	Timezone       string       `mapstructure:"timezone"`
}

// LedgerConfig bounds how long a ledger write waits for the per-user lock.
type LedgerConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// LeaderboardConfig holds leaderboard defaults.
type LeaderboardConfig struct {
	DefaultLimit int           `mapstructure:"default_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// RetryConfig holds the caller-side backoff used on concurrency errors.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// ReconcileConfig holds the ledger reconcile job settings.
type ReconcileConfig struct {
	Schedule string        `mapstructure:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// NotifyConfig holds badge notification settings.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram notifier configuration.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`

	// Offline skips the getMe handshake.
	Offline bool `mapstructure:"offline"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the canonical timezone used for streak day boundaries.
func (g *GamificationConfig) Location() (*time.Location, error) {
	if g.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", g.Timezone, err)
	}
	return loc, nil
}

// SortedTiers returns the streak tiers ordered by MinDays ascending.
func (g *GamificationConfig) SortedTiers() []StreakTier {
	tiers := make([]StreakTier, len(g.StreakTiers))
	copy(tiers, g.StreakTiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinDays < tiers[j].MinDays
	})
	return tiers
}

// Validate checks settings that would otherwise fail deep inside scoring.
func (c *Config) Validate() error {
	g := c.Gamification
	if g.FlatBasePoints < 0 {
		return errors.New("gamification.flat_base_points must not be negative")
	}
	if _, err := g.Location(); err != nil {
		return err
	}

	// Bonus must grow with the threshold.
	tiers := g.SortedTiers()
	for i, t := range tiers {
		if t.MinDays < 1 || t.BonusPercent < 0 {
			return fmt.Errorf("invalid streak tier %+v", t)
		}
		if i > 0 && (t.MinDays == tiers[i-1].MinDays || t.BonusPercent < tiers[i-1].BonusPercent) {
			return fmt.Errorf("streak tiers must increase monotonically: %+v after %+v", t, tiers[i-1])
		}
	}

	if c.Ledger.LockTimeout < time.Millisecond {
		return errors.New("ledger.lock_timeout must be at least 1ms")
	}
	return nil
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, GAMIFICATION_TIMEZONE, NOTIFY_TELEGRAM_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "greenloop")
	v.SetDefault("database.name", "greenloop")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	// Scoring defaults
	v.SetDefault("gamification.flat_base_points", 10)
	v.SetDefault("gamification.timezone", "UTC")
	v.SetDefault("gamification.streak_tiers", []map[string]any{
		{"min_days": 7, "bonus_percent": 10},
		{"min_days": 30, "bonus_percent": 25},
	})

	v.SetDefault("ledger.lock_timeout", "5s")

	v.SetDefault("leaderboard.default_limit", 50)
	v.SetDefault("leaderboard.cache_ttl", "30s")

	v.SetDefault("retry.initial_interval", "100ms")
	v.SetDefault("retry.max_interval", "2s")
	v.SetDefault("retry.max_elapsed_time", "15s")

	v.SetDefault("reconcile.schedule", "@every 1h")
	v.SetDefault("reconcile.lock_ttl", "10m")
}
