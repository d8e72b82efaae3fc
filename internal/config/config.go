// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/torrin-io/torrin/internal/utils"
)

// Storage backend selectors.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Store backend selectors.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all server configuration.
type Config struct {
	Port     string
	BasePath string

	DefaultChunkSize int64
	SessionTTL       time.Duration
	CleanupInterval  time.Duration

	StoreBackend string
	SQLitePath   string
	PostgresURL  string

	StorageBackend   string
	TempDir          string
	BaseDir          string
	PreserveFileName bool

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool
	S3KeyPrefix       string
}

// Load reads configuration from environment variables with defaults.
// Byte sizes accept human-readable values ("1MB", "512KiB").
func Load() (*Config, error) {
	chunkSize, err := getEnvSize("TORRIN_CHUNK_SIZE", utils.DefaultChunkSize)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		BasePath: getEnv("TORRIN_BASE_PATH", "/torrin/uploads"),

		DefaultChunkSize: chunkSize,
		SessionTTL:       getEnvDuration("TORRIN_SESSION_TTL", 24*time.Hour),
		CleanupInterval:  getEnvDuration("TORRIN_CLEANUP_INTERVAL", time.Hour),

		StoreBackend: getEnv("TORRIN_STORE", StoreMemory),
		SQLitePath:   getEnv("TORRIN_SQLITE_PATH", "./torrin.db"),
		PostgresURL:  getEnv("TORRIN_POSTGRES_URL", ""),

		StorageBackend:   getEnv("TORRIN_STORAGE", StorageLocal),
		TempDir:          getEnv("TORRIN_TEMP_DIR", "./data/tmp"),
		BaseDir:          getEnv("TORRIN_BASE_DIR", "./data/uploads"),
		PreserveFileName: getEnvBool("TORRIN_PRESERVE_FILENAME", false),

		S3Bucket:          getEnv("TORRIN_S3_BUCKET", ""),
		S3Region:          getEnv("TORRIN_S3_REGION", ""),
		S3Endpoint:        getEnv("TORRIN_S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("TORRIN_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("TORRIN_S3_SECRET_ACCESS_KEY", ""),
		S3PathStyle:       getEnvBool("TORRIN_S3_PATH_STYLE", false),
		S3KeyPrefix:       getEnv("TORRIN_S3_KEY_PREFIX", "uploads/"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.BasePath == "" || c.BasePath[0] != '/' {
		return fmt.Errorf("TORRIN_BASE_PATH must start with '/', got %q", c.BasePath)
	}

	if c.DefaultChunkSize < utils.MinChunkSize || c.DefaultChunkSize > utils.MaxChunkSize {
		return fmt.Errorf("TORRIN_CHUNK_SIZE must be between %s and %s, got %s",
			units.BytesSize(utils.MinChunkSize), units.BytesSize(utils.MaxChunkSize),
			units.BytesSize(float64(c.DefaultChunkSize)))
	}

	if c.SessionTTL < 0 {
		return fmt.Errorf("TORRIN_SESSION_TTL must not be negative")
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("TORRIN_CLEANUP_INTERVAL must be positive")
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("TORRIN_SQLITE_PATH cannot be empty with sqlite store")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("TORRIN_POSTGRES_URL is required with postgres store")
		}
	default:
		return fmt.Errorf("unknown TORRIN_STORE %q", c.StoreBackend)
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.TempDir == "" || c.BaseDir == "" {
			return fmt.Errorf("TORRIN_TEMP_DIR and TORRIN_BASE_DIR are required with local storage")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("TORRIN_S3_BUCKET is required with s3 storage")
		}
	default:
		return fmt.Errorf("unknown TORRIN_STORAGE %q", c.StorageBackend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvSize parses a byte size that may be human-readable ("4MB").
func getEnvSize(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", key, value, err)
	}
	return size, nil
}
