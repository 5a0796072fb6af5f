package config

import "time"

const (
	defaultBackend       = "sqlite"
	defaultMongoDatabase = "reminisce"
	defaultAPIListen     = ":8090"

	defaultClientAPITarget = "http://localhost:8090"

	defaultMinConfidence  = 0.7
	defaultRecallLimit    = 10
	defaultCacheThreshold = 3

	defaultMaxContexts       = 100
	defaultIdleTimeout       = 30 * time.Minute
	defaultCompoundThreshold = 6

	defaultExpiredInterval    = time.Hour
	defaultStaleInterval      = 24 * time.Hour
	defaultStatsInterval      = 5 * time.Minute
	defaultConfidenceFloor    = 0.3
	defaultStaleAfter         = 90 * 24 * time.Hour
	defaultStaleConfidence    = 0.5
	defaultDowngradeExtension = 7 * 24 * time.Hour

	defaultEventsProvider = "none"
	defaultEventsBrokers  = "localhost:9092"
	defaultEventsTopic    = "reminisce.entity-changes"
	defaultEventsGroupID  = "reminisce-invalidation"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend:       defaultBackend,
			MongoDatabase: defaultMongoDatabase,
			Breaker:       true,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
			MCP:    true,
		},
		Recall: RecallConfig{
			MinConfidence: defaultMinConfidence,
			Limit:         defaultRecallLimit,
		},
		Analyzer: AnalyzerConfig{
			CacheThreshold: defaultCacheThreshold,
		},
		Chain: ChainConfig{
			MaxContexts:       defaultMaxContexts,
			IdleTimeout:       Duration(defaultIdleTimeout),
			CompoundThreshold: defaultCompoundThreshold,
		},
		Decay: DecayConfig{
			ExpiredInterval:    Duration(defaultExpiredInterval),
			StaleInterval:      Duration(defaultStaleInterval),
			StatsInterval:      Duration(defaultStatsInterval),
			ConfidenceFloor:    defaultConfidenceFloor,
			StaleAfter:         Duration(defaultStaleAfter),
			StaleConfidence:    defaultStaleConfidence,
			DowngradeExtension: Duration(defaultDowngradeExtension),
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Brokers:  defaultEventsBrokers,
			Topic:    defaultEventsTopic,
			GroupID:  defaultEventsGroupID,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
	}
}
