package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/spool/pkg/dotdir"
)

// EnvPrefix prefixes every environment variable spool reads.
const EnvPrefix = "SPOOL"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the SPOOL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (SPOOL_SERVICES_SESSION, SPOOL_ARTIFACTS_CODEC, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
//
// The returned viper also answers the backend lookups SPOOL_SESSION_SERVICE,
// SPOOL_MEMORY_SERVICE and SPOOL_ARTIFACT_SERVICE through GetString.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Services
	v.SetDefault("services.session", d.Services.Session)
	v.SetDefault("services.memory", d.Services.Memory)
	v.SetDefault("services.artifact", d.Services.Artifact)

	// Artifacts
	v.SetDefault("artifacts.root", d.Artifacts.Root)
	v.SetDefault("artifacts.inline_threshold", d.Artifacts.InlineThreshold)
	v.SetDefault("artifacts.codec", d.Artifacts.Codec)

	// Memory
	v.SetDefault("memory.auto_index", d.Memory.AutoIndex)
	v.SetDefault("memory.workers", d.Memory.Workers)
	v.SetDefault("memory.search_limit", d.Memory.SearchLimit)

	// Event stream
	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
	v.SetDefault("eventstream.redis_addr", d.EventStream.RedisAddr)
	v.SetDefault("eventstream.stream", d.EventStream.Stream)
}
