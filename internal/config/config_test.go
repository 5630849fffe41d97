package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cubegift-bot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("yaml with env overrides", func(t *testing.T) {
		t.Setenv("BOT_TOKEN", "env-token")
		t.Setenv("APP_ENV", "local")
		t.Setenv("REDIS_ADDR", "")

		path := writeConfig(t, `
telegram:
  token: file-token
  web_app_url: https://example.org/app
payments:
  min_amount: 1
  default_amount: 50
  pending_ttl: 2h
  sweep_interval: 1m
`)
		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, "env-token", cfg.Telegram.Token)
		assert.Equal(t, "https://example.org/app", cfg.Telegram.WebAppURL)
		assert.Equal(t, int64(1), cfg.Payments.MinAmount)
		assert.Equal(t, int64(50), cfg.Payments.DefaultAmount)
		assert.Equal(t, 2*time.Hour, cfg.Payments.PendingTTL)
		assert.Equal(t, time.Minute, cfg.Payments.SweepInterval)
		assert.Equal(t, "XTR", cfg.Payments.Currency)
		assert.Equal(t, []int{100, 300, 500}, cfg.Payments.SuggestedTips)
		assert.True(t, cfg.IsMockMode())
	})

	t.Run("missing file falls back to env", func(t *testing.T) {
		t.Setenv("BOT_TOKEN", "env-token")
		t.Setenv("APP_ENV", "development")

		cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, int64(10), cfg.Payments.MinAmount)
		assert.Equal(t, int64(100), cfg.Payments.DefaultAmount)
	})

	t.Run("production requires database url", func(t *testing.T) {
		t.Setenv("BOT_TOKEN", "env-token")
		t.Setenv("APP_ENV", "production")
		t.Setenv("DATABASE_URL", "")

		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("production requires journal path", func(t *testing.T) {
		t.Setenv("BOT_TOKEN", "env-token")
		t.Setenv("APP_ENV", "production")
		t.Setenv("DATABASE_URL", "postgres://localhost/cubegift")
		t.Setenv("JOURNAL_PATH", "")

		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "journal.path")

		t.Setenv("JOURNAL_PATH", filepath.Join(t.TempDir(), "journal.db"))
		cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.NotEmpty(t, cfg.Journal.Path)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Telegram.Token = "token"
		return cfg
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(c *config.Config){
		"empty token":            func(c *config.Config) { c.Telegram.Token = "" },
		"zero minimum":           func(c *config.Config) { c.Payments.MinAmount = 0 },
		"default below minimum":  func(c *config.Config) { c.Payments.DefaultAmount = 5 },
		"empty currency":         func(c *config.Config) { c.Payments.Currency = "" },
		"non-positive ttl":       func(c *config.Config) { c.Payments.PendingTTL = 0 },
		"non-positive interval":  func(c *config.Config) { c.Payments.SweepInterval = -time.Second },
		"negative max tip":       func(c *config.Config) { c.Payments.MaxTipAmount = -1 },
		"non-positive suggested": func(c *config.Config) { c.Payments.SuggestedTips = []int{100, 0} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
