package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config конфигурация приложения
type Config struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	Payments    PaymentsConfig `yaml:"payments"`
	API         APIConfig      `yaml:"api"`
	Redis       RedisConfig    `yaml:"redis"`
	Journal     JournalConfig  `yaml:"journal"`
	Log         LogConfig      `yaml:"log"`
	DatabaseURL string         `yaml:"-"` // Loaded from environment
	AppEnv      string         `yaml:"-"` // "local" = in-memory stores, "production" = Postgres
}

// TelegramConfig настройки Telegram бота
type TelegramConfig struct {
	Token     string  `yaml:"token"`
	WebAppURL string  `yaml:"web_app_url"`
	AdminIDs  []int64 `yaml:"admin_ids"`
}

// PaymentsConfig политика покупок в Telegram Stars
type PaymentsConfig struct {
	MinAmount     int64         `yaml:"min_amount"`
	DefaultAmount int64         `yaml:"default_amount"`
	Currency      string        `yaml:"currency"`
	ProviderToken string        `yaml:"provider_token"`
	Title         string        `yaml:"title"`
	MaxTipAmount  int           `yaml:"max_tip_amount"`
	SuggestedTips []int         `yaml:"suggested_tips"`
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// InitDataMaxAge 0 отключает проверку auth_date
	InitDataMaxAge time.Duration `yaml:"init_data_max_age"`
}

// APIConfig HTTP API для Mini App
type APIConfig struct {
	Listen       string `yaml:"listen"`
	AllowOrigins string `yaml:"allow_origins"`
}

// RedisConfig хранилище ожидающих платежей в Redis (пустой addr = не используется)
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// JournalConfig журнал зачислений (пустой path = в памяти, только в mock mode)
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level string `yaml:"level"`
}

// envOverrides переменные окружения, перекрывающие файл
type envOverrides struct {
	BotToken      string `envconfig:"BOT_TOKEN"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	AppEnv        string `envconfig:"APP_ENV" default:"local"`
	APIListen     string `envconfig:"API_LISTEN"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	JournalPath   string `envconfig:"JOURNAL_PATH"`
	ProviderToken string `envconfig:"PROVIDER_TOKEN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Payments: PaymentsConfig{
			MinAmount:     10,
			DefaultAmount: 100,
			Currency:      "XTR",
			Title:         "🎮 Пополнение баланса CubeGift",
			MaxTipAmount:  1000,
			SuggestedTips: []int{100, 300, 500},
			PendingTTL:    24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		API: APIConfig{
			Listen:       ":8080",
			AllowOrigins: "*",
		},
		Redis: RedisConfig{
			KeyPrefix: "cubegift:",
		},
		Log: LogConfig{
			Level: "info",
		},
		AppEnv: "local",
	}
}

// Load загружает конфигурацию из файла и окружения
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// only env
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env config: %w", err)
	}

	if env.BotToken != "" {
		c.Telegram.Token = env.BotToken
	}
	if env.APIListen != "" {
		c.API.Listen = env.APIListen
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.JournalPath != "" {
		c.Journal.Path = env.JournalPath
	}
	if env.ProviderToken != "" {
		c.Payments.ProviderToken = env.ProviderToken
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	c.DatabaseURL = env.DatabaseURL
	c.AppEnv = env.AppEnv

	return nil
}

// Validate проверяет политику платежей
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is not set")
	}
	p := c.Payments
	if p.MinAmount < 1 {
		return fmt.Errorf("payments.min_amount must be >= 1, got %d", p.MinAmount)
	}
	if p.DefaultAmount < p.MinAmount {
		return fmt.Errorf("payments.default_amount %d is below min_amount %d", p.DefaultAmount, p.MinAmount)
	}
	if p.Currency == "" {
		return errors.New("payments.currency is not set")
	}
	if p.PendingTTL <= 0 {
		return errors.New("payments.pending_ttl must be positive")
	}
	if p.SweepInterval <= 0 {
		return errors.New("payments.sweep_interval must be positive")
	}
	if p.MaxTipAmount < 0 {
		return errors.New("payments.max_tip_amount must not be negative")
	}
	for _, tip := range p.SuggestedTips {
		if tip <= 0 {
			return fmt.Errorf("payments.suggested_tips: invalid tip %d", tip)
		}
	}
	if !c.IsMockMode() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if !c.IsMockMode() && c.Journal.Path == "" {
		return errors.New("journal.path is not set")
	}
	return nil
}

// IsMockMode returns true if running in local/development mode
func (c *Config) IsMockMode() bool {
	return c.AppEnv == "local" || c.AppEnv == "development"
}
