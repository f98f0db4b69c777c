package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, int64(10), cfg.Gamification.FlatBasePoints)
	assert.Equal(t, "UTC", cfg.Gamification.Timezone)
	assert.Equal(t, []StreakTier{{MinDays: 7, BonusPercent: 10}, {MinDays: 30, BonusPercent: 25}}, cfg.Gamification.StreakTiers)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, 50, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, "@every 1h", cfg.Reconcile.Schedule)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
gamification:
  flat_base_points: 25
  timezone: Europe/Berlin
  streak_tiers:
    - min_days: 3
      bonus_percent: 5
    - min_days: 14
      bonus_percent: 20
ledger:
  lock_timeout: 2s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, int64(25), cfg.Gamification.FlatBasePoints)
	assert.Len(t, cfg.Gamification.StreakTiers, 2)
	assert.Equal(t, 14, cfg.Gamification.StreakTiers[1].MinDays)
	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTimeout)

	loc, err := cfg.Gamification.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Gamification: GamificationConfig{
				FlatBasePoints: 10,
				Timezone:       "UTC",
				StreakTiers:    []StreakTier{{MinDays: 7, BonusPercent: 10}, {MinDays: 30, BonusPercent: 25}},
			},
			Ledger: LedgerConfig{LockTimeout: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"negative flat base", func(c *Config) { c.Gamification.FlatBasePoints = -1 }, true},
		{"bad timezone", func(c *Config) { c.Gamification.Timezone = "Mars/Olympus" }, true},
		{"decreasing bonus", func(c *Config) {
			c.Gamification.StreakTiers = []StreakTier{{MinDays: 7, BonusPercent: 30}, {MinDays: 30, BonusPercent: 25}}
		}, true},
		{"duplicate threshold", func(c *Config) {
			c.Gamification.StreakTiers = []StreakTier{{MinDays: 7, BonusPercent: 10}, {MinDays: 7, BonusPercent: 20}}
		}, true},
		{"unordered but monotonic", func(c *Config) {
			c.Gamification.StreakTiers = []StreakTier{{MinDays: 30, BonusPercent: 25}, {MinDays: 7, BonusPercent: 10}}
		}, false},
		{"zero lock timeout", func(c *Config) { c.Ledger.LockTimeout = 0 }, true},
		{"sub-millisecond lock timeout", func(c *Config) { c.Ledger.LockTimeout = 500 * time.Microsecond }, true},
		{"one millisecond lock timeout", func(c *Config) { c.Ledger.LockTimeout = time.Millisecond }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
