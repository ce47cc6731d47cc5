package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/config"
	"github.com/videoingest/videoingest/internal/gc"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
)

// One-shot sweep of expired upload sessions, meant to run on a schedule
// external to the process (cron, k8s CronJob), mirroring the teacher's
// cmd/cleanup entrypoint.
func main() {
	if err := run(); err != nil {
		slog.Error("gc failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()
	log.Info("starting gc sweep")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connecting to object storage")
	blobs, err := storage.NewMinIOStorage(&storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := metadatastore.NewPGStore(pool)
	index := chunkindex.NewRedisIndex(redisClient)
	sessions := session.NewManager(store, index, blobs, cfg.SessionTTL, cfg.MaxFileSize)

	stats, err := gc.Run(logger.WithLogger(ctx, log), sessions)
	if err != nil {
		return fmt.Errorf("gc sweep failed: %w", err)
	}

	log.Info("gc sweep finished", "sessions_expired", stats.SessionsExpired, "delete_errors", stats.DeleteErrors)
	return nil
}
