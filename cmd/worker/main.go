package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/videoingest/videoingest/internal/assembly"
	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/commitworker"
	"github.com/videoingest/videoingest/internal/config"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/postprocess"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/video"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// zerologger carries the worker-pool's own lifecycle logging (goroutine
	// start/stop/panic-recovery), separate from the slog-based logger each
	// worker package uses for per-message processing via logger.FromContext;
	// the two coexist the way the teacher's cmd/worker/main.go feeds a
	// zerolog.Logger into its job-queue pool/middleware stack.
	zerologger := zerolog.New(os.Stdout).With().Timestamp().Logger()

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

	metrics.SetAppInfo("1.0.0", cfg.Environment, "worker")
	metrics.SetWorkerPoolSize(cfg.WorkerConcurrency)

	instrumentedBlobs := metrics.NewInstrumentedStorage(blobs)

	store := metadatastore.NewPGStore(pool)
	index := chunkindex.NewRedisIndex(redisClient)
	bus := workbus.NewRedisBus(redisClient)
	sessions := session.NewManager(store, index, instrumentedBlobs, cfg.SessionTTL, cfg.MaxFileSize)

	if err := bus.EnsureGroups(ctx); err != nil {
		return fmt.Errorf("failed to create consumer groups: %w", err)
	}

	ffmpeg, err := video.NewFFmpegTool("ffmpeg", "ffprobe")
	if err != nil {
		return fmt.Errorf("failed to initialise ffmpeg tool: %w", err)
	}
	thumbnailer := video.NewFallbackThumbnailer(ffmpeg)

	commitWorker := commitworker.NewWorker(bus, sessions, instrumentedBlobs, cfg.ChunkCommitPrefetch)
	assemblyWorker := assembly.NewWorker(bus, store, sessions, instrumentedBlobs)
	postprocessWorker := postprocess.NewWorker(bus, store, instrumentedBlobs, ffmpeg, thumbnailer)

	log.Info("starting worker pool", "concurrency", cfg.WorkerConcurrency)

	var wg sync.WaitGroup
	hostname, _ := os.Hostname()

	spawn := func(name string, run func(ctx context.Context, consumer string) error) {
		for i := 0; i < cfg.WorkerConcurrency; i++ {
			consumer := fmt.Sprintf("%s-%s-%d", name, hostname, i)
			wg.Add(1)
			go func(consumer string) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						zerologger.Error().Str("worker", name).Str("consumer", consumer).Interface("panic", r).Msg("worker goroutine panicked")
					}
				}()

				zerologger.Info().Str("worker", name).Str("consumer", consumer).Msg("worker goroutine starting")
				if err := run(ctx, consumer); err != nil && err != context.Canceled {
					zerologger.Error().Str("worker", name).Str("consumer", consumer).Err(err).Msg("worker goroutine stopped with error")
					return
				}
				zerologger.Info().Str("worker", name).Str("consumer", consumer).Msg("worker goroutine stopped")
			}(consumer)
		}
	}

	spawn("commit", commitWorker.Run)
	spawn("assembly", assemblyWorker.Run)
	spawn("postprocess", postprocessWorker.Run)

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: ":" + metricsPort, Handler: metricsMux}

	go func() {
		log.Info("metrics server starting", "port", metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	poolStopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(poolStopped)
	}()

	select {
	case <-poolStopped:
		log.Warn("all worker goroutines exited before shutdown was requested")
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		select {
		case <-poolStopped:
		case <-shutdownCtx.Done():
			log.Warn("timed out waiting for workers to drain")
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}
	}

	log.Info("worker pool stopped gracefully")
	return nil
}
