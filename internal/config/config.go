// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Options struct {
	// LoadDotEnv reads .env (or DotEnvFiles) before the environment is
	// inspected. Variables already set win over file values.
	LoadDotEnv  bool
	DotEnvFiles []string
}

type Config struct {
	Port        string
	AppEnv      string
	Release     string
	DatabaseURL string
	RedisURL    string
	SentryDSN   string
	CronSecret  string

	RunMigrations bool

	DB   DBConfig
	Auth AuthConfig
	HTTP HTTPConfig
}

type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type AuthConfig struct {
	BcryptCost int
	// TokenTTL of zero issues tokens that never expire.
	TokenTTL              time.Duration
	LoginMaxAttempts      int
	LoginLockDuration     time.Duration
	LoginRateLimitMax     int
	LoginRateLimitWindow  time.Duration
	LoginAttemptRetention time.Duration
	CleanupBatchSize      int
}

type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load(options.DotEnvFiles...)
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:          envOrDefault("PORT", "8080"),
		AppEnv:        envOrDefault("APP_ENV", "development"),
		Release:       os.Getenv("APP_RELEASE"),
		DatabaseURL:   databaseURL,
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		SentryDSN:     strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		CronSecret:    strings.TrimSpace(os.Getenv("CRON_SECRET")),
		RunMigrations: envBoolOrDefault("RUN_MIGRATIONS", true),
		DB: DBConfig{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		Auth: AuthConfig{
			BcryptCost:            envIntOrDefault("BCRYPT_COST", 10),
			TokenTTL:              envHoursOrDefault("ACCESS_TOKEN_TTL_HOURS", 0),
			LoginMaxAttempts:      envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			LoginLockDuration:     envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
			LoginRateLimitMax:     envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			LoginRateLimitWindow:  envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
			LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
			CleanupBatchSize:      envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     envSecondsOrDefault("HTTP_READ_TIMEOUT_SECONDS", 10),
			WriteTimeout:    envSecondsOrDefault("HTTP_WRITE_TIMEOUT_SECONDS", 15),
			ShutdownTimeout: envSecondsOrDefault("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 10),
		},
	}

	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// envIntOrDefault accepts zero so features such as token expiry can be
// switched off explicitly; negative or malformed values fall back.
func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
