package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	minPaymentTimeout = 5 * time.Second
	maxPaymentTimeout = 10 * time.Second
)

type Config struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	Environment        string        `env:"APP_ENV" envDefault:"development"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigin      string        `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	AutoMigrate        bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	AuthSecret         string        `env:"AUTH_SECRET"`
	ManagerPIN         string        `env:"MANAGER_PIN"`
	ManagerPINHash     string        `env:"MANAGER_PIN_HASH"`
	Timezone           string        `env:"BUSINESS_TIMEZONE" envDefault:"Asia/Jakarta"`
	AllowNegativeStock bool          `env:"ALLOW_NEGATIVE_STOCK" envDefault:"false"`
	SweepInterval      time.Duration `env:"PAYMENT_SWEEP_INTERVAL" envDefault:"0s"`
	Payment            PaymentConfig `envPrefix:"PAYMENT_"`

	Location *time.Location `env:"-"`
}

// PaymentConfig is read once at startup and handed to the gateway.
type PaymentConfig struct {
	Provider       string        `env:"PROVIDER" envDefault:"fallback"`
	ServerKey      string        `env:"SERVER_KEY"`
	ClientKey      string        `env:"CLIENT_KEY"`
	IsProduction   bool          `env:"IS_PRODUCTION" envDefault:"false"`
	BaseURL        string        `env:"BASE_URL"`
	CallbackToken  string        `env:"CALLBACK_TOKEN"`
	MerchantName   string        `env:"MERCHANT_NAME" envDefault:"SALECORE"`
	MerchantCity   string        `env:"MERCHANT_CITY" envDefault:"JAKARTA"`
	MerchantID     string        `env:"MERCHANT_ID"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"8s"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.ManagerPINHash = strings.TrimSpace(cfg.ManagerPINHash)
	cfg.Payment.Provider = strings.ToLower(strings.TrimSpace(cfg.Payment.Provider))
	cfg.Payment.Timeout = clampTimeout(cfg.Payment.Timeout)
	if cfg.SweepInterval < 0 {
		cfg.SweepInterval = 0
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return 8 * time.Second
	case d < minPaymentTimeout:
		return minPaymentTimeout
	case d > maxPaymentTimeout:
		return maxPaymentTimeout
	default:
		return d
	}
}
