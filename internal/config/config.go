package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port int

	Environment string
	LogLevel    string
	LogFormat   string

	DatabaseURL string
	RedisURL    string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	WorkerConcurrency int
	JobTimeout        time.Duration
	MaxRetries        int

	// ChunkMaxBytes bounds a single chunk payload.
	ChunkMaxBytes int64
	// ChunkCommitPrefetch bounds in-flight CommitChunk messages per worker.
	ChunkCommitPrefetch int64
	// ChunkRateLimitWindow/Max bound per-IP chunk uploads.
	ChunkRateLimitWindow time.Duration
	ChunkRateLimitMax    int

	// SessionTTL is the lifetime of an upload session from creation.
	SessionTTL time.Duration
	// MaxFileSize is the largest file_size a session may declare at init.
	MaxFileSize int64

	// ProbeTimeout and ThumbnailTimeout are loaded from the environment but
	// not read by the post-processing worker: it runs the probe without a
	// timeout and bounds thumbnails with postprocess.ThumbnailTimeout.
	ProbeTimeout     time.Duration
	ThumbnailTimeout time.Duration
	// LargeBlobThreshold is loaded from the environment but not read by C9,
	// which picks its thumbnail strategy with video.LargeBlobThreshold.
	LargeBlobThreshold int64
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.MinIOEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required")
	}

	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.MinIOAccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY is required")
	}

	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.MinIOSecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY is required")
	}

	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "videos")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", "5m")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", 3)

	cfg.ChunkMaxBytes = getEnvInt64("CHUNK_MAX_BYTES", 10*1024*1024)
	cfg.ChunkCommitPrefetch = getEnvInt64("CHUNK_COMMIT_PREFETCH", 5)

	cfg.ChunkRateLimitWindow, err = getEnvDuration("CHUNK_RATE_LIMIT_WINDOW", "1m")
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_RATE_LIMIT_WINDOW: %w", err)
	}
	cfg.ChunkRateLimitMax = getEnvInt("CHUNK_RATE_LIMIT_MAX", 200)

	cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", "24h")
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	cfg.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", 5*1024*1024*1024)

	cfg.ProbeTimeout, err = getEnvDuration("PROBE_TIMEOUT", "30s")
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_TIMEOUT: %w", err)
	}
	cfg.ThumbnailTimeout, err = getEnvDuration("THUMBNAIL_TIMEOUT", "60s")
	if err != nil {
		return nil, fmt.Errorf("invalid THUMBNAIL_TIMEOUT: %w", err)
	}
	cfg.LargeBlobThreshold = getEnvInt64("LARGE_BLOB_THRESHOLD", 1024*1024*1024)

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = os.Getenv("LOG_FORMAT")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
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

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("invalid worker concurrency: %d", c.WorkerConcurrency)
	}

	if c.ChunkMaxBytes < 1 {
		return fmt.Errorf("invalid chunk max bytes: %d", c.ChunkMaxBytes)
	}

	if c.MaxFileSize < 1 {
		return fmt.Errorf("invalid max file size: %d", c.MaxFileSize)
	}

	if c.ChunkRateLimitMax < 1 {
		return fmt.Errorf("invalid chunk rate limit max: %d", c.ChunkRateLimitMax)
	}

	return nil
}
