package main

import (
	"context"
	"fmt"

	"github.com/trogers1052/stock-ingest-pipeline/internal/api"
	"github.com/trogers1052/stock-ingest-pipeline/internal/config"
	"github.com/trogers1052/stock-ingest-pipeline/internal/database"
	"github.com/trogers1052/stock-ingest-pipeline/internal/fetcher"
	"github.com/trogers1052/stock-ingest-pipeline/internal/ingest"
	"github.com/trogers1052/stock-ingest-pipeline/internal/kafka"
	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/parser"
	"github.com/trogers1052/stock-ingest-pipeline/internal/status"
	"github.com/trogers1052/stock-ingest-pipeline/internal/verifier"
)

// app holds the components shared by every command
type app struct {
	cfg      *config.Config
	log      *logger.Zap
	db       *database.DB
	verifier *verifier.Verifier
	pipeline *ingest.Pipeline
	producer *kafka.Producer
	runs     *status.RedisStore
	latest   *api.LatestCache
}

// loadConfig loads and validates configuration and builds the logger. An
// empty path falls back to CONFIG_PATH, then configs/config.yaml. Nothing
// else is constructed when validation fails.
func loadConfig(path string) (*config.Config, *logger.Zap, error) {
	cfg, err := config.Load(config.ResolvePath(path))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	zl, err := logger.New(cfg.LogEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger.NewZap(zl), nil
}

// openDB connects to the configured engine and applies migrations
func openDB(cfg *config.Config, log logger.Emitter) (*database.DB, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Emit(logger.InfoLevel, "Connected to database", logger.F("driver", db.Driver()))

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, log, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, latest: api.NewLatestCache()}

	client := fetcher.NewClient(cfg.Provider.APIKey,
		fetcher.WithBaseURL(cfg.Provider.BaseURL),
		fetcher.WithFunction(cfg.Provider.Function),
		fetcher.WithEmitter(log),
	)
	a.verifier = verifier.New(db, log)

	opts := []ingest.Option{ingest.WithEmitter(log), ingest.WithPublisher(a.latest)}
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, ingest.WithPublisher(a.producer))
		log.Emit(logger.InfoLevel, "Publishing run events to Kafka",
			logger.F("brokers", cfg.Kafka.Brokers), logger.F("topic", cfg.Kafka.Topic))
	}
	if cfg.Redis.Addr != "" {
		runs, err := status.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// run status is optional; the pipeline works without it
			log.Emit(logger.WarnLevel, "Run status store unavailable", logger.Err(err))
		} else {
			a.runs = runs
			opts = append(opts, ingest.WithPublisher(runs))
		}
	}

	a.pipeline = ingest.New(client, parser.New(log), db, a.verifier, opts...)
	return a, nil
}

// runStatus returns the status store, or nil when none is configured
func (a *app) runStatus() api.RunStatus {
	if a.runs == nil {
		return nil
	}
	return a.runs
}

func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Emit(logger.WarnLevel, "Failed to close Kafka producer", logger.Err(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
	a.db.Close()
	a.log.Sync()
}
