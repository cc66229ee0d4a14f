package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --session-service
// on "spool session", "spool event" and "spool artifact").
type Flag struct {
	// Name is the long flag name (e.g. "session-service").
	Name string

	// Shorthand is the one-letter short flag (e.g. "s"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "services.session").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag, AddBoolFlag
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagSessionService  = "session-service"
	FlagMemoryService   = "memory-service"
	FlagArtifactService = "artifact-service"
	FlagArtifactRoot    = "artifact-root"
	FlagInlineThreshold = "inline-threshold"
	FlagCodec           = "codec"
	FlagAutoIndex       = "auto-index"
	FlagIndexWorkers    = "index-workers"
	FlagSearchLimit     = "limit"
	FlagStreamProvider  = "stream-provider"
	FlagStreamTopic     = "stream-topic"
	FlagRedisAddr       = "redis-addr"
)

// ServiceFlags is the registry shared by every spool command.
var ServiceFlags = FlagSet{
	FlagSessionService: {
		Name:        "session-service",
		ViperKey:    "services.session",
		Description: "Session backend descriptor (e.g. sqlite:/path/spool.db, postgresql://host/db, inmemory:)",
	},
	FlagMemoryService: {
		Name:        "memory-service",
		ViperKey:    "services.memory",
		Description: "Memory backend descriptor",
	},
	FlagArtifactService: {
		Name:        "artifact-service",
		ViperKey:    "services.artifact",
		Description: "Artifact backend descriptor",
	},
	FlagArtifactRoot: {
		Name:        "artifact-root",
		ViperKey:    "artifacts.root",
		Description: "Directory for externally stored artifact payloads",
	},
	FlagInlineThreshold: {
		Name:        "inline-threshold",
		ViperKey:    "artifacts.inline_threshold",
		Description: "Largest artifact size in bytes kept inline with its metadata",
	},
	FlagCodec: {
		Name:        "codec",
		ViperKey:    "artifacts.codec",
		Description: "Compression codec for external artifacts (none, zstd, lz4)",
	},
	FlagAutoIndex: {
		Name:        "auto-index",
		ViperKey:    "memory.auto_index",
		Description: "Index sessions into memory when a turn completes",
	},
	FlagIndexWorkers: {
		Name:        "index-workers",
		ViperKey:    "memory.workers",
		Description: "Number of background memory indexing workers",
	},
	FlagSearchLimit: {
		Name:        "limit",
		Shorthand:   "n",
		ViperKey:    "memory.search_limit",
		Description: "Maximum number of memory search results",
	},
	FlagStreamProvider: {
		Name:        "stream-provider",
		ViperKey:    "eventstream.provider",
		Description: "Append notification sink (none, kafka, redis)",
	},
	FlagStreamTopic: {
		Name:        "stream-topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic for append notifications",
	},
	FlagRedisAddr: {
		Name:        "redis-addr",
		ViperKey:    "eventstream.redis_addr",
		Description: "Redis address for append notifications",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	addStringFlag(cmd.Flags(), fs, key, target)
}

// AddPersistentStringFlag registers a string flag that every subcommand of
// cmd inherits.
func AddPersistentStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	addStringFlag(cmd.PersistentFlags(), fs, key, target)
}

func addStringFlag(flags *pflag.FlagSet, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}
	flags.StringVarP(target, def.Name, def.Shorthand, defaultString(def.ViperKey), def.Description)
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
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

func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	return defaults().GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	return defaults().GetUint(viperKey)
}

func defaultBool(viperKey string) bool {
	return defaults().GetBool(viperKey)
}
