package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string `validate:"required"`
	Port               string `validate:"required"`
	CORSAllowedOrigins []string

	BookingAPIURL     string        `validate:"required,url"`
	BookingAPIToken   string
	BookingAPITimeout time.Duration `validate:"gt=0"`
	BookingCacheTTL   time.Duration `validate:"gte=0"`

	PollInterval       time.Duration `validate:"gt=0"`
	PollTimeout        time.Duration `validate:"gtfield=PollInterval"`
	PollRequestTimeout time.Duration `validate:"gte=0"`

	DefaultCurrency  string `validate:"len=3,alpha"`
	QRRenderEndpoint string `validate:"required,url"`
	QRFallbackMode   string `validate:"oneof=remote local"`
	QRProviderHosts  []string

	RedisURL    string
	DatabaseURL string
	TaskQueue   string `validate:"required"`

	RetryMaxAttempts    int           `validate:"gte=1,lte=10"`
	RetryBase           time.Duration `validate:"gt=0"`
	RetryJitter         float64       `validate:"gte=0,lte=1"`
	CircuitMinRequests  int           `validate:"gte=1"`
	CircuitFailureRatio float64       `validate:"gt=0,lte=1"`
	CircuitOpenFor      time.Duration `validate:"gt=0"`

	RateLimitWindow time.Duration `validate:"gt=0"`
	RateLimitMax    int           `validate:"gte=1"`
	SnapshotTTL     time.Duration `validate:"gt=0"`
	IdempotencyTTL  time.Duration `validate:"gt=0"`
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		BookingAPIURL:     strings.TrimSpace(k.String("BOOKING_API_URL")),
		BookingAPIToken:   strings.TrimSpace(k.String("BOOKING_API_TOKEN")),
		BookingAPITimeout: parseDuration(k.String("BOOKING_API_TIMEOUT"), "5s"),
		BookingCacheTTL:   parseDuration(k.String("BOOKING_CACHE_TTL"), "30s"),

		PollInterval:       parseDuration(k.String("POLL_INTERVAL"), "4s"),
		PollTimeout:        parseDuration(k.String("POLL_TIMEOUT"), "120s"),
		PollRequestTimeout: parseDuration(k.String("POLL_REQUEST_TIMEOUT"), "10s"),

		DefaultCurrency:  strings.ToUpper(valueOrDefault(k.String("DEFAULT_CURRENCY"), "VND")),
		QRRenderEndpoint: valueOrDefault(k.String("QR_RENDER_ENDPOINT"), "https://api.qrserver.com/v1/create-qr-code/?size=240x240&data="),
		QRFallbackMode:   strings.ToLower(valueOrDefault(k.String("QR_FALLBACK_MODE"), "remote")),
		QRProviderHosts:  splitAndTrim(k.String("QR_PROVIDER_HOSTS")),

		RedisURL:    strings.TrimSpace(k.String("REDIS_URL")),
		DatabaseURL: strings.TrimSpace(k.String("DATABASE_URL")),
		TaskQueue:   valueOrDefault(k.String("TASK_QUEUE"), "checkout"),

		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitter:         parseFloat(k.String("RETRY_JITTER"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 10),
		SnapshotTTL:     parseDuration(k.String("SNAPSHOT_TTL"), "30m"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "10s"),
	}

	if cfg.BookingAPIURL == "" {
		return nil, errors.New("BOOKING_API_URL is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
