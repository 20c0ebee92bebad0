package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full server configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	CORS     CORSConfig
	Metrics  MetricsConfig
	Log      LogConfig
	Transfer TransferConfig
	Storage  StorageConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig selects the cache backend
type CacheConfig struct {
	Enabled bool
	Type    string // redis, memory
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// TransferConfig holds box transfer engine settings
type TransferConfig struct {
	PollInterval  time.Duration // per-box worker tick
	BoxTimeout    time.Duration // online flag and stalled-transaction timeout
	PurgeEmptyKeys bool         // delete anonymization keys when their images go away
}

// StorageConfig holds object storage settings
type StorageConfig struct {
	Dir string
}

// Load reads configuration from .env (if present) and the environment
func Load() (*Config, error) {
	// .env is optional; environment variables win
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         envOr("SERVER_HOST", "0.0.0.0"),
			Port:         envIntOr("SERVER_PORT", 5000),
			BaseURL:      envOr("SERVER_BASE_URL", "http://localhost:5000"),
			ReadTimeout:  envDurationOr("SERVER_READ_TIMEOUT", 5*time.Minute),
			WriteTimeout: envDurationOr("SERVER_WRITE_TIMEOUT", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envIntOr("DB_PORT", 5432),
			User:     envOr("DB_USER", "slicebox"),
			Password: envOr("DB_PASSWORD", ""),
			DBName:   envOr("DB_NAME", "slicebox"),
			SSLMode:  envOr("DB_SSLMODE", "disable"),
			LogLevel: envOr("DB_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Host:     envOr("REDIS_HOST", "localhost"),
			Port:     envIntOr("REDIS_PORT", 6379),
			Password: envOr("REDIS_PASSWORD", ""),
			DB:       envIntOr("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: envBoolOr("CACHE_ENABLED", true),
			Type:    envOr("CACHE_TYPE", "memory"),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{envOr("CORS_ALLOWED_ORIGINS", "*")},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		},
		Metrics: MetricsConfig{
			Enabled: envBoolOr("METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "console"),
		},
		Transfer: TransferConfig{
			PollInterval:   envDurationOr("TRANSFER_POLL_INTERVAL", 5*time.Second),
			BoxTimeout:     envDurationOr("TRANSFER_BOX_TIMEOUT", time.Minute),
			PurgeEmptyKeys: envBoolOr("TRANSFER_PURGE_EMPTY_KEYS", true),
		},
		Storage: StorageConfig{
			Dir: envOr("STORAGE_DIR", "./storage"),
		},
	}

	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("incomplete database configuration")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage directory is required")
	}
	if c.Transfer.PollInterval <= 0 {
		return fmt.Errorf("transfer poll interval must be positive")
	}
	if c.Transfer.BoxTimeout <= 0 {
		return fmt.Errorf("transfer box timeout must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
