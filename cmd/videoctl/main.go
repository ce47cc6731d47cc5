// Command videoctl is the operator CLI for the ingestion pipeline: it
// inspects and repairs upload sessions and work-bus queues directly
// against the same Postgres/Redis/MinIO backends the api and worker
// processes use, rather than through an HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/cliout"
	"github.com/videoingest/videoingest/internal/config"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/workbus"
)

var (
	jsonOutput bool
	quietMode  bool
	noColor    bool

	printer *cliout.Printer

	rootCtx    context.Context
	rootCancel context.CancelFunc

	deps *dependencies
)

// dependencies holds the live connections every subcommand needs.
// Built once in PersistentPreRunE and torn down on exit.
type dependencies struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	blobs    storage.Storage
	store    metadatastore.Store
	sessions *session.Manager
	bus      workbus.Bus
}

func (d *dependencies) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

var rootCmd = &cobra.Command{
	Use:   "videoctl",
	Short: "Operator CLI for the video ingestion pipeline",
	Long: `videoctl inspects and repairs upload sessions and work-bus queues.

Examples:
  videoctl sessions list --owner user-42
  videoctl sessions gc
  videoctl queue dlq-peek video_processing
  videoctl queue dlq-replay video_processing <message-id>
  videoctl video probe <storage-key>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = context.WithCancel(context.Background())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			if printer != nil && !quietMode {
				printer.Warn("received %s, cancelling...", sig)
			}
			rootCancel()
		}()

		printer = cliout.New(
			cliout.WithJSON(jsonOutput),
			cliout.WithQuiet(quietMode),
			cliout.WithNoColor(noColor),
		)

		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpt)

		blobs, err := storage.NewMinIOStorage(&storage.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			Region:    cfg.MinIORegion,
		})
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return fmt.Errorf("create storage client: %w", err)
		}

		store := metadatastore.NewPGStore(pool)
		index := chunkindex.NewRedisIndex(redisClient)
		bus := workbus.NewRedisBus(redisClient)
		sessions := session.NewManager(store, index, blobs, cfg.SessionTTL, cfg.MaxFileSize)

		deps = &dependencies{
			pool:     pool,
			redis:    redisClient,
			blobs:    blobs,
			store:    store,
			sessions: sessions,
			bus:      bus,
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil {
			deps.Close()
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func ctx() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(videoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if printer != nil {
			printer.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
