package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/config"
	"github.com/videoingest/videoingest/internal/health"
	"github.com/videoingest/videoingest/internal/httpapi"
	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/rangereader"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/workbus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()
	log.Info("configuration loaded")

	ctx := context.Background()

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

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
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}
	log.Info("object storage connected")

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
	log.Info("redis connected")

	store := metadatastore.NewPGStore(pool)
	index := chunkindex.NewRedisIndex(redisClient)
	bus := workbus.NewRedisBus(redisClient)
	sessions := session.NewManager(store, index, blobs, cfg.SessionTTL, cfg.MaxFileSize)

	metrics.SetAppInfo("1.0.0", cfg.Environment, "api")
	instrumentedBlobs := metrics.NewInstrumentedStorage(blobs)

	intakeHandler := intake.NewHandler(sessions, instrumentedBlobs, bus)
	streamHandler := rangereader.NewHandler(instrumentedBlobs)
	chunkLimiter := intake.Middleware(intake.NewRedisRateLimiter(redisClient, cfg.ChunkRateLimitMax, cfg.ChunkRateLimitWindow))

	checker := health.NewChecker(pool, redisClient).WithStorage(instrumentedBlobs)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())
		status := http.StatusOK
		if resp.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.Handle("/", httpapi.NewRouter(sessions, intakeHandler, streamHandler, chunkLimiter))

	handler := metrics.HTTPMetricsMiddleware(
		httpapi.Recovery(
			httpapi.RequestID(
				httpapi.RequestLogger(
					httpapi.SecurityHeaders(mux)))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}
