// Package config содержит логику чтения конфигурации платёжного сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации платёжного сервиса.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	RedisAddress string `env:"REDIS_ADDRESS"`
	GatewayURL   string `env:"GATEWAY_URL"`

	PaymentSecret    string `env:"PAYMENT_SECRET"`
	AuthSecret       string `env:"AUTH_SECRET"`
	GatewayKeyID     string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret string `env:"GATEWAY_KEY_SECRET"`

	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayRPS     float64       `env:"GATEWAY_RPS" envDefault:"0"`

	MaxAttempts            int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	CooldownWindow         time.Duration `env:"COOLDOWN_WINDOW" envDefault:"15m"`
	AmountTolerance        int64         `env:"AMOUNT_TOLERANCE" envDefault:"1"`
	OrderFreshnessWindow   time.Duration `env:"ORDER_FRESHNESS_WINDOW" envDefault:"30m"`
	OrderClockSkew         time.Duration `env:"ORDER_CLOCK_SKEW" envDefault:"1m"`
	HighValueAmount        int64         `env:"HIGH_VALUE_AMOUNT" envDefault:"10000000"`
	CountSignatureFailures bool          `env:"COUNT_SIGNATURE_FAILURES" envDefault:"true"`
}

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envGatewayURL := cfg.GatewayURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the attempt store")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for the attempt store")
	flag.StringVar(&cfg.GatewayURL, "g", "", "payment gateway base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// Validate проверяет, что заданы секреты и параметры ограничений.
func (c *Config) Validate() error {
	var errs []error

	if c.PaymentSecret == "" {
		errs = append(errs, errors.New("PAYMENT_SECRET is required"))
	}
	if c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	}
	if c.GatewayKeyID == "" || c.GatewayKeySecret == "" {
		errs = append(errs, errors.New("GATEWAY_KEY_ID and GATEWAY_KEY_SECRET are required"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be positive"))
	}
	if c.CooldownWindow <= 0 {
		errs = append(errs, errors.New("COOLDOWN_WINDOW must be positive"))
	}
	if c.AmountTolerance <= 0 {
		errs = append(errs, errors.New("AMOUNT_TOLERANCE must be positive"))
	}
	if c.OrderFreshnessWindow <= 0 {
		errs = append(errs, errors.New("ORDER_FRESHNESS_WINDOW must be positive"))
	}
	if c.OrderClockSkew <= 0 {
		errs = append(errs, errors.New("ORDER_CLOCK_SKEW must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperr.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// loadDotEnv загружает переменные из файла ENV_FILE (по умолчанию .env), если он есть.
// Уже заданные переменные окружения не перезаписываются.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
