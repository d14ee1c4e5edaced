package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"

	PaymentsSandbox = "sandbox"
	PaymentsHTTP    = "http"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string
	Storage  string

	MongoURI string
	MongoDB  string

	PostgresDSN       string
	PostgresLockConns int

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	IdempotencyTTL     time.Duration

	JWTSecret string

	PaymentsMode   string
	PaymentsURL    string
	PaymentsAPIKey string
	LoadTimeout    time.Duration
	ChargeTimeout  time.Duration
	PersistTimeout time.Duration
	LockTTL        time.Duration

	BookingWindowDays int
	Currency          string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	ListingsFixtures string
	AccountsFixtures string
}

// Load parses configuration from the current environment. A .env file in the working
// directory is read first when present; real environment variables win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		Storage:          strings.ToLower(getEnv("STORAGE", StorageMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "staybook"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		PaymentsMode:     strings.ToLower(getEnv("PAYMENTS_MODE", PaymentsSandbox)),
		PaymentsURL:      getEnv("PAYMENTS_URL", "http://localhost:8090/v1/charges"),
		PaymentsAPIKey:   os.Getenv("PAYMENTS_API_KEY"),
		Currency:         strings.ToUpper(getEnv("CURRENCY", "USD")),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "staybook-incidents"),
		ListingsFixtures: os.Getenv("LISTINGS_FIXTURES"),
		AccountsFixtures: os.Getenv("ACCOUNTS_FIXTURES"),
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"IDEMP_TTL", 24 * time.Hour, &cfg.IdempotencyTTL},
		{"OUTBOX_POLL_INTERVAL", 500 * time.Millisecond, &cfg.OutboxPollInterval},
		{"LOAD_TIMEOUT", 5 * time.Second, &cfg.LoadTimeout},
		{"CHARGE_TIMEOUT", 10 * time.Second, &cfg.ChargeTimeout},
		{"PERSIST_TIMEOUT", 5 * time.Second, &cfg.PersistTimeout},
		{"LOCK_TTL", 30 * time.Second, &cfg.LockTTL},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	// A lease must outlive the whole commit it guards, or a second instance could charge
	// the same days.
	if held := cfg.LoadTimeout + cfg.ChargeTimeout + cfg.PersistTimeout; cfg.LockTTL <= held {
		return Config{}, fmt.Errorf("LOCK_TTL (%s) must exceed LOAD_TIMEOUT + CHARGE_TIMEOUT + PERSIST_TIMEOUT (%s)", cfg.LockTTL, held)
	}

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	window, err := parseIntEnv("BOOKING_WINDOW_DAYS", 90)
	if err != nil {
		return Config{}, err
	}
	if window <= 0 {
		return Config{}, fmt.Errorf("BOOKING_WINDOW_DAYS must be positive, got %d", window)
	}
	cfg.BookingWindowDays = window

	lockConns, err := parseIntEnv("POSTGRES_LOCK_CONNS", 16)
	if err != nil {
		return Config{}, err
	}
	if lockConns <= 0 {
		return Config{}, fmt.Errorf("POSTGRES_LOCK_CONNS must be positive, got %d", lockConns)
	}
	cfg.PostgresLockConns = lockConns

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL

	switch cfg.Storage {
	case StorageMemory:
	case StorageMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when STORAGE=mongo")
		}
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("POSTGRES_DSN is required when STORAGE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORAGE %q", cfg.Storage)
	}
	switch cfg.PaymentsMode {
	case PaymentsSandbox:
	case PaymentsHTTP:
		if cfg.PaymentsURL == "" {
			return Config{}, fmt.Errorf("PAYMENTS_URL is required when PAYMENTS_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("invalid PAYMENTS_MODE %q", cfg.PaymentsMode)
	}
	if cfg.JWTSecret == "" && cfg.Env != "dev" && cfg.Env != "local" {
		return Config{}, fmt.Errorf("JWT_SECRET is required outside dev")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
