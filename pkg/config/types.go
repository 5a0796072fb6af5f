package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent reminisce configuration stored as
// config.toml in the .reminisce/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Storage  StorageConfig  `toml:"storage"`
	API      APIConfig      `toml:"api"`
	Recall   RecallConfig   `toml:"recall"`
	Analyzer AnalyzerConfig `toml:"analyzer"`
	Chain    ChainConfig    `toml:"chain"`
	Decay    DecayConfig    `toml:"decay"`
	Events   EventsConfig   `toml:"events"`
	Client   ClientConfig   `toml:"client"`
}

// StorageConfig selects and configures the memory store.
type StorageConfig struct {
	// Backend is one of memory, sqlite, postgres or mongo.
	Backend       string `toml:"backend,omitempty"`
	SQLitePath    string `toml:"sqlite_path,omitempty"`
	PostgresDSN   string `toml:"postgres_dsn,omitempty"`
	MongoURI      string `toml:"mongo_uri,omitempty"`
	MongoDatabase string `toml:"mongo_database,omitempty"`

	// Breaker wraps the backend in a circuit breaker.
	Breaker bool `toml:"breaker"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
	MCP    bool   `toml:"mcp"`
}

// RecallConfig holds recall defaults.
type RecallConfig struct {
	MinConfidence float64 `toml:"min_confidence,omitempty"`
	Limit         int     `toml:"limit,omitempty"`
}

// AnalyzerConfig holds tool-call scoring settings.
type AnalyzerConfig struct {
	CacheThreshold int `toml:"cache_threshold,omitempty"`
}

// ChainConfig holds query context settings.
type ChainConfig struct {
	MaxContexts       int      `toml:"max_contexts,omitempty"`
	IdleTimeout       Duration `toml:"idle_timeout,omitempty"`
	CompoundThreshold int      `toml:"compound_threshold,omitempty"`
}

// DecayConfig holds maintenance schedule settings.
type DecayConfig struct {
	ExpiredInterval    Duration `toml:"expired_interval,omitempty"`
	StaleInterval      Duration `toml:"stale_interval,omitempty"`
	StatsInterval      Duration `toml:"stats_interval,omitempty"`
	ConfidenceFloor    float64  `toml:"confidence_floor,omitempty"`
	StaleAfter         Duration `toml:"stale_after,omitempty"`
	StaleConfidence    float64  `toml:"stale_confidence,omitempty"`
	DowngradeExtension Duration `toml:"downgrade_extension,omitempty"`
}

// EventsConfig configures the entity change event stream.
type EventsConfig struct {
	// Provider is none or kafka.
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	GroupID  string `toml:"group_id,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// server. Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// Duration is a time.Duration stored as a Go duration string ("30m").
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for %s: must be a non-negative integer", name)
			}
			*field(c) = n
			return nil
		},
	}
}

// scoreKey accepts values in [0, 1].
func scoreKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid value for %s: must be a number between 0 and 1", name)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return field(c).String()
		},
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid value for %s: must be a positive duration such as 30m", name)
			}
			*field(c) = Duration(d)
			return nil
		},
	}
}

// orderedKeys lists every supported key in TOML section order.
var orderedKeys = []string{
	"storage.backend",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"storage.mongo_uri",
	"storage.mongo_database",
	"storage.breaker",
	"api.listen",
	"api.mcp",
	"recall.min_confidence",
	"recall.limit",
	"analyzer.cache_threshold",
	"chain.max_contexts",
	"chain.idle_timeout",
	"chain.compound_threshold",
	"decay.expired_interval",
	"decay.stale_interval",
	"decay.stats_interval",
	"decay.confidence_floor",
	"decay.stale_after",
	"decay.stale_confidence",
	"decay.downgrade_extension",
	"events.provider",
	"events.brokers",
	"events.topic",
	"events.group_id",
	"client.api_target",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend":        stringKey(func(c *Config) *string { return &c.Storage.Backend }),
	"storage.sqlite_path":    stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn":   stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.mongo_uri":      stringKey(func(c *Config) *string { return &c.Storage.MongoURI }),
	"storage.mongo_database": stringKey(func(c *Config) *string { return &c.Storage.MongoDatabase }),
	"storage.breaker":        boolKey("storage.breaker", func(c *Config) *bool { return &c.Storage.Breaker }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.mcp":    boolKey("api.mcp", func(c *Config) *bool { return &c.API.MCP }),

	"recall.min_confidence": scoreKey("recall.min_confidence", func(c *Config) *float64 { return &c.Recall.MinConfidence }),
	"recall.limit":          intKey("recall.limit", func(c *Config) *int { return &c.Recall.Limit }),

	"analyzer.cache_threshold": intKey("analyzer.cache_threshold", func(c *Config) *int { return &c.Analyzer.CacheThreshold }),

	"chain.max_contexts":       intKey("chain.max_contexts", func(c *Config) *int { return &c.Chain.MaxContexts }),
	"chain.idle_timeout":       durationKey("chain.idle_timeout", func(c *Config) *Duration { return &c.Chain.IdleTimeout }),
	"chain.compound_threshold": intKey("chain.compound_threshold", func(c *Config) *int { return &c.Chain.CompoundThreshold }),

	"decay.expired_interval":    durationKey("decay.expired_interval", func(c *Config) *Duration { return &c.Decay.ExpiredInterval }),
	"decay.stale_interval":      durationKey("decay.stale_interval", func(c *Config) *Duration { return &c.Decay.StaleInterval }),
	"decay.stats_interval":      durationKey("decay.stats_interval", func(c *Config) *Duration { return &c.Decay.StatsInterval }),
	"decay.confidence_floor":    scoreKey("decay.confidence_floor", func(c *Config) *float64 { return &c.Decay.ConfidenceFloor }),
	"decay.stale_after":         durationKey("decay.stale_after", func(c *Config) *Duration { return &c.Decay.StaleAfter }),
	"decay.stale_confidence":    scoreKey("decay.stale_confidence", func(c *Config) *float64 { return &c.Decay.StaleConfidence }),
	"decay.downgrade_extension": durationKey("decay.downgrade_extension", func(c *Config) *Duration { return &c.Decay.DowngradeExtension }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),
	"events.group_id": stringKey(func(c *Config) *string { return &c.Events.GroupID }),

	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),
}
