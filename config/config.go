package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

type Config struct {
	Port                    string
	Env                     string
	LogLevel                string
	StoreBackend            string
	DBPath                  string
	FirebaseProjectID       string
	FirebaseCredentialsJSON string
	FirebaseCredentialsFile string
	FirestoreAccessToken    string
	CORSOrigins             string
	SessionTTL              time.Duration
	SyncInterval            time.Duration
	SyncMaxInterval         time.Duration
	PaletteSeed             uint64
	RateLimit               int
	RateLimitWindow         time.Duration
}

var AppConfig *Config

// Load reads .env (when present) and the environment into AppConfig.
func Load() error {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// FromEnv builds and validates a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                    GetEnv("PORT", "3000"),
		Env:                     GetEnv("ENV", "development"),
		LogLevel:                GetEnv("LOG_LEVEL", "info"),
		StoreBackend:            GetEnv("STORE_BACKEND", BackendSQLite),
		DBPath:                  GetEnv("DB_PATH", "./data/categories.db"),
		FirebaseProjectID:       GetEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsJSON: GetEnv("FIREBASE_CREDENTIALS_JSON", ""),
		FirebaseCredentialsFile: GetEnv("FIREBASE_CREDENTIALS_FILE", ""),
		FirestoreAccessToken:    GetEnv("FIRESTORE_ACCESS_TOKEN", ""),
		CORSOrigins:             GetEnv("CORS_ORIGINS", "*"),
	}

	var errs []error
	var err error

	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncMaxInterval, err = getDuration("SYNC_MAX_INTERVAL", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.PaletteSeed, err = strconv.ParseUint(GetEnv("PALETTE_SEED", "0"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("PALETTE_SEED: %w", err))
	}
	if cfg.RateLimit, err = strconv.Atoi(GetEnv("RATE_LIMIT", "200")); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations the individual keys cannot express.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite backend")
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendFirestore, c.StoreBackend)
	}

	if c.SyncMaxInterval < c.SyncInterval {
		return errors.New("SYNC_MAX_INTERVAL must not be shorter than SYNC_INTERVAL")
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
