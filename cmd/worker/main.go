package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/olivere/elastic/v7"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reciperun/pipeline/internal/bus"
	"github.com/reciperun/pipeline/internal/cache"
	"github.com/reciperun/pipeline/internal/config"
	"github.com/reciperun/pipeline/internal/feed"
	"github.com/reciperun/pipeline/internal/parse/modelassist"
	"github.com/reciperun/pipeline/internal/search"
	"github.com/reciperun/pipeline/internal/service/cleanup"
	"github.com/reciperun/pipeline/internal/store/postgres"
	pipelineworkflow "github.com/reciperun/pipeline/internal/workflow"
)

func main() {
	cfg := config.Load()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Environment, TracesSampleRate: 0.1}); err != nil {
			fmt.Fprintf(os.Stderr, "sentry.Init failed: %v\n", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	fileLogger := &lumberjack.Logger{
		Filename:   "logs/pipeline-worker.jsonl",
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, fileLogger), &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	db, err := connectPostgres(cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := connectRedis(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	esClient, err := elastic.NewClient(elastic.SetURL(cfg.ElasticsearchURL), elastic.SetSniff(false))
	if err != nil {
		logger.Error("failed to connect to elasticsearch", slog.Any("error", err))
		os.Exit(1)
	}
	indexer := search.New(esClient, "recipes")
	if err := indexer.EnsureIndex(context.Background()); err != nil {
		logger.Error("failed to ensure search index", slog.Any("error", err))
		os.Exit(1)
	}

	var extractor modelassist.Extractor
	if cfg.IsMockMode() {
		extractor = modelassist.MockExtractor{}
		logger.Info("model-assisted parser running in mock mode")
	} else {
		pacer := cache.NewPacer(redisClient, cache.PacingConfig{
			MaxCalls: cfg.ModelPacingMaxCalls,
			Window:   cfg.ModelPacingWindow,
		})
		extractor, err = modelassist.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, pacer)
		if err != nil {
			logger.Error("failed to construct gemini extractor", slog.Any("error", err))
			os.Exit(1)
		}
	}

	temporalClient, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		logger.Error("failed to connect to temporal", slog.Any("error", err))
		os.Exit(1)
	}
	defer temporalClient.Close()

	store := postgres.New(db)
	extractionCache := postgres.NewExtractionCacheStore(db)

	activities := &pipelineworkflow.Activities{
		Extractor:       extractor,
		Store:           store,
		Search:          indexer,
		Idempotency:     cache.NewIdempotency(redisClient),
		ExtractionCache: extractionCache,
		StagingDir:      cfg.StagingDir,
		Poller:          feed.NewPoller(),
		Producer:        bus.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic),
		Consumer:        bus.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.TemporalTaskQueue),
	}

	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.MaxConcurrentActivities,
	})

	w.RegisterWorkflow(pipelineworkflow.ProcessBatchSequential)
	w.RegisterWorkflow(pipelineworkflow.ProcessBatchParallel)
	w.RegisterWorkflow(pipelineworkflow.LoadFolder)
	w.RegisterWorkflow(pipelineworkflow.SyncSearch)
	w.RegisterWorkflow(pipelineworkflow.ScrapeFeed)
	w.RegisterWorkflow(pipelineworkflow.ConsumeFeed)
	w.RegisterWorkflow(pipelineworkflow.ReloadRecipe)

	w.RegisterActivityWithOptions(activities.ReadCSV, activityOpts("ReadCSV"))
	w.RegisterActivityWithOptions(activities.ExtractOne, activityOpts("ExtractOne"))
	w.RegisterActivityWithOptions(activities.LoadOne, activityOpts("LoadOne"))
	w.RegisterActivityWithOptions(activities.ReloadOne, activityOpts("ReloadOne"))
	w.RegisterActivityWithOptions(activities.SyncOne, activityOpts("SyncOne"))
	w.RegisterActivityWithOptions(activities.EmbedOne, activityOpts("EmbedOne"))
	w.RegisterActivityWithOptions(activities.ScrapeFeedOnce, activityOpts("ScrapeFeedOnce"))
	w.RegisterActivityWithOptions(activities.ConsumeBusBatch, activityOpts("ConsumeBusBatch"))
	w.RegisterActivityWithOptions(activities.SyncBatch, activityOpts("SyncBatch"))

	var cleanupCancel context.CancelFunc
	if cfg.CleanupEnabled {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		cleanupCancel = cancel

		interval, err := time.ParseDuration(cfg.CleanupInterval)
		if err != nil {
			interval = 5 * time.Minute
		}
		maxAge, err := time.ParseDuration(cfg.CleanupMaxJobAge)
		if err != nil {
			maxAge = 35 * time.Minute
		}

		sweeper := cleanup.NewService(temporalClient, extractionCache, logger, cleanup.Config{
			TaskQueue:       cfg.TemporalTaskQueue,
			StagingDir:      cfg.StagingDir,
			MaxExecutionAge: maxAge,
			Interval:        interval,
		})
		go sweeper.Start(cleanupCtx)
	}

	go func() {
		logger.Info("worker starting", slog.String("task_queue", cfg.TemporalTaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("worker stopped with error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	if cleanupCancel != nil {
		cleanupCancel()
	}
}

func activityOpts(name string) activity.RegisterOptions {
	return activity.RegisterOptions{Name: name}
}

func connectPostgres(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func connectRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rc := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}
