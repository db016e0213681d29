package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	Port           string `envconfig:"PORT" default:"8080"`
	AppEnv         string `envconfig:"APP_ENV" default:"development"`

	AdminJWTSecret string `envconfig:"ADMIN_JWT_SECRET" required:"true"`

	TapAPIURL     string        `envconfig:"TAP_API_URL" default:"https://api.iyk.app"`
	TapAPITimeout time.Duration `envconfig:"TAP_API_TIMEOUT" default:"5s"`
	// TapDevMode swaps the upstream for the in-memory stub authority.
	TapDevMode bool   `envconfig:"TAP_DEV_MODE" default:"false"`
	TapStubSalt string `envconfig:"TAP_STUB_SALT" default:"dev-salt"`

	SessionCookieName string        `envconfig:"SESSION_COOKIE_NAME" default:"doa-tap-otp"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"30m"`

	// RewardPeriodDuration of 0 opens periods that run until stopped.
	RewardPeriodDuration time.Duration `envconfig:"REWARD_PERIOD_DURATION" default:"10m"`
	StoreTimeout         time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`

	SIWEDomain      string        `envconfig:"SIWE_DOMAIN" default:"localhost:8080"`
	SIWEURI         string        `envconfig:"SIWE_URI" default:"http://localhost:8080"`
	SIWEChainID     int64         `envconfig:"SIWE_CHAIN_ID" default:"8453"`
	SIWEMaxValidity time.Duration `envconfig:"SIWE_MAX_VALIDITY" default:"10m"`

	RequireWallet       bool `envconfig:"REQUIRE_WALLET" default:"false"`
	AllowUnsignedWallet bool `envconfig:"ALLOW_UNSIGNED_WALLET" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AMQPURL   string `envconfig:"AMQP_URL"`
	AMQPQueue string `envconfig:"AMQP_QUEUE" default:"reward.claim.created"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	RateLimitBurst     int `envconfig:"RATE_LIMIT_BURST" default:"10"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// LoadDotEnv loads .env from CWD or server/ so it works from repo root or server/.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logDatabaseTarget(cfg.DatabaseURL)
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("DATABASE_URL environment variable is required")
	case c.AdminJWTSecret == "":
		return fmt.Errorf("ADMIN_JWT_SECRET environment variable is required")
	case c.RewardPeriodDuration < 0:
		return fmt.Errorf("REWARD_PERIOD_DURATION must not be negative")
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be positive")
	case c.SIWEMaxValidity <= 0:
		return fmt.Errorf("SIWE_MAX_VALIDITY must be positive")
	case c.RateLimitPerMinute <= 0:
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	case c.IsProduction() && c.TapDevMode:
		return fmt.Errorf("TAP_DEV_MODE cannot be enabled in production")
	case c.IsProduction() && len(c.AdminJWTSecret) < 32:
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 bytes in production")
	}
	return nil
}

// logDatabaseTarget logs connection details with the password left out
func logDatabaseTarget(databaseURL string) {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Scheme == "" || strings.HasPrefix(u.Scheme, "sqlite") || u.Scheme == "file" {
		slog.Info("DB connect", "target", "sqlite")
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	slog.Info("DB connect", "host", host, "port", port, "db", strings.TrimPrefix(u.Path, "/"), "user", user)
}
