package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --api-target
// on both "reminisce stats" and "reminisce emit").
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "api.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddBoolFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen         = "listen"
	FlagBackend        = "backend"
	FlagSQLite         = "sqlite"
	FlagPostgres       = "postgres"
	FlagMongoURI       = "mongo-uri"
	FlagMongoDatabase  = "mongo-database"
	FlagBreaker        = "breaker"
	FlagMCP            = "mcp"
	FlagEventsProvider = "events-provider"
	FlagKafkaBrokers   = "kafka-brokers"
	FlagKafkaTopic     = "kafka-topic"
	FlagAPITarget      = "api-target"
)

// Flags is the shared registry every command draws from.
var Flags = FlagSet{
	FlagListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for the API server to listen on",
	},
	FlagBackend: {
		Name: "backend", Shorthand: "b", ViperKey: "storage.backend",
		Description: "Storage backend (memory, sqlite, postgres, mongo)",
	},
	FlagSQLite: {
		Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path",
		Description: "Path to the SQLite database (default: reminisce.db in the config directory)",
	},
	FlagPostgres: {
		Name: "postgres", ViperKey: "storage.postgres_dsn",
		Description: "PostgreSQL connection string",
	},
	FlagMongoURI: {
		Name: "mongo-uri", ViperKey: "storage.mongo_uri",
		Description: "MongoDB connection URI",
	},
	FlagMongoDatabase: {
		Name: "mongo-database", ViperKey: "storage.mongo_database",
		Description: "MongoDB database name",
	},
	FlagBreaker: {
		Name: "breaker", ViperKey: "storage.breaker",
		Description: "Wrap the storage backend in a circuit breaker",
	},
	FlagMCP: {
		Name: "mcp", ViperKey: "api.mcp",
		Description: "Serve the MCP tool server at /mcp",
	},
	FlagEventsProvider: {
		Name: "events-provider", ViperKey: "events.provider",
		Description: "Entity change event source (none, kafka)",
	},
	FlagKafkaBrokers: {
		Name: "kafka-brokers", ViperKey: "events.brokers",
		Description: "Comma separated Kafka broker addresses",
	},
	FlagKafkaTopic: {
		Name: "kafka-topic", ViperKey: "events.topic",
		Description: "Kafka topic carrying entity change events",
	},
	FlagAPITarget: {
		Name: "api-target", ViperKey: "client.api_target",
		Description: "URL of a running reminisce API server",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultViper returns a viper holding only the NewDefaultConfig values.
func defaultViper() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
