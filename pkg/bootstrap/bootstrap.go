// Package bootstrap turns a loaded configuration into running components:
// the storage driver, the stack options and the event subscriber.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/config"
	"github.com/papercomputeco/reminisce/pkg/decay"
	"github.com/papercomputeco/reminisce/pkg/dotdir"
	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/eventstream/kafka"
	"github.com/papercomputeco/reminisce/pkg/eventstream/nop"
	"github.com/papercomputeco/reminisce/pkg/fingerprint"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
	"github.com/papercomputeco/reminisce/pkg/storage"
	"github.com/papercomputeco/reminisce/pkg/storage/breaker"
	"github.com/papercomputeco/reminisce/pkg/storage/inmemory"
	"github.com/papercomputeco/reminisce/pkg/storage/mongo"
	"github.com/papercomputeco/reminisce/pkg/storage/postgres"
	"github.com/papercomputeco/reminisce/pkg/storage/sqlite"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Event providers.
const (
	EventsNone  = "none"
	EventsKafka = "kafka"
)

// OpenDriver opens the configured storage backend. configDir resolves the
// default SQLite path when none is configured.
func OpenDriver(ctx context.Context, cfg config.StorageConfig, configDir string, logger *zap.Logger) (storage.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		driver storage.Driver
		err    error
	)

	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		logger.Info("using in-memory storage")
		driver = inmemory.NewDriver()

	case BackendSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path, err = dotdir.NewManager().DatabasePath(configDir)
			if err != nil {
				return nil, fmt.Errorf("resolving sqlite path: %w", err)
			}
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		driver, err = sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}

	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires storage.postgres_dsn")
		}
		logger.Info("using PostgreSQL storage")
		driver, err = postgres.NewDriver(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}

	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("mongo backend requires storage.mongo_uri")
		}
		logger.Info("using MongoDB storage", zap.String("database", cfg.MongoDatabase))
		driver, err = mongo.NewDriver(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB storer: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Breaker {
		bc := breaker.DefaultConfig("storage-" + strings.ToLower(cfg.Backend))
		bc.Logger = logger.Named("breaker")
		driver = breaker.New(driver, bc)
	}

	return driver, nil
}

// StackOptions maps the configuration onto stack options.
func StackOptions(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) reminisce.Options {
	return reminisce.Options{
		Analyzer: fingerprint.AnalyzerConfig{
			CacheThreshold: cfg.Analyzer.CacheThreshold,
		},
		MinConfidence:     cfg.Recall.MinConfidence,
		RecallLimit:       cfg.Recall.Limit,
		MaxContexts:       cfg.Chain.MaxContexts,
		ContextIdle:       time.Duration(cfg.Chain.IdleTimeout),
		CompoundThreshold: cfg.Chain.CompoundThreshold,
		Decay: decay.Config{
			ExpiredInterval:    time.Duration(cfg.Decay.ExpiredInterval),
			StaleInterval:      time.Duration(cfg.Decay.StaleInterval),
			StatsInterval:      time.Duration(cfg.Decay.StatsInterval),
			ConfidenceFloor:    cfg.Decay.ConfidenceFloor,
			StaleAfter:         time.Duration(cfg.Decay.StaleAfter),
			StaleConfidence:    cfg.Decay.StaleConfidence,
			DowngradeExtension: time.Duration(cfg.Decay.DowngradeExtension),
		},
		Metrics: collector,
		Logger:  logger,
	}
}

// Brokers splits a comma separated broker list.
func Brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewSubscriber builds the configured entity change subscriber.
func NewSubscriber(cfg config.EventsConfig, logger *zap.Logger) (eventstream.Subscriber, error) {
	switch strings.ToLower(cfg.Provider) {
	case EventsNone, "":
		return nop.NewSubscriber(), nil
	case EventsKafka:
		sub, err := kafka.NewSubscriber(kafka.Config{
			Brokers: Brokers(cfg.Brokers),
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", cfg.Provider)
	}
}

// NewPublisher builds the configured entity change publisher.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	switch strings.ToLower(cfg.Provider) {
	case EventsNone, "":
		return nop.NewPublisher(), nil
	case EventsKafka:
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: Brokers(cfg.Brokers),
			Topic:   cfg.Topic,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", cfg.Provider)
	}
}
