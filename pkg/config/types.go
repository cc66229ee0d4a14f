package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent spool configuration stored as config.toml
// in the .spool/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Services    ServicesConfig    `toml:"services"`
	Artifacts   ArtifactsConfig   `toml:"artifacts"`
	Memory      MemoryConfig      `toml:"memory"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// ServicesConfig holds the backend descriptors. An empty descriptor defers
// to SPOOL_<KIND>_SERVICE and then to the default backend.
type ServicesConfig struct {
	Session  string `toml:"session,omitempty"`
	Memory   string `toml:"memory,omitempty"`
	Artifact string `toml:"artifact,omitempty"`
}

// ArtifactsConfig holds artifact tiering settings.
type ArtifactsConfig struct {
	Root            string `toml:"root,omitempty"`
	InlineThreshold uint   `toml:"inline_threshold,omitempty"`
	Codec           string `toml:"codec,omitempty"`
}

// MemoryConfig holds memory layer settings.
type MemoryConfig struct {
	AutoIndex   bool `toml:"auto_index,omitempty"`
	Workers     uint `toml:"workers,omitempty"`
	SearchLimit uint `toml:"search_limit,omitempty"`
}

// EventStreamConfig selects where append notifications go.
type EventStreamConfig struct {
	// Provider is "none", "kafka" or "redis".
	Provider  string   `toml:"provider,omitempty"`
	Brokers   []string `toml:"brokers,omitempty"`
	Topic     string   `toml:"topic,omitempty"`
	RedisAddr string   `toml:"redis_addr,omitempty"`
	Stream    string   `toml:"stream,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"services.session": {
		get: func(c *Config) string { return c.Services.Session },
		set: func(c *Config, v string) error { c.Services.Session = v; return nil },
	},
	"services.memory": {
		get: func(c *Config) string { return c.Services.Memory },
		set: func(c *Config, v string) error { c.Services.Memory = v; return nil },
	},
	"services.artifact": {
		get: func(c *Config) string { return c.Services.Artifact },
		set: func(c *Config, v string) error { c.Services.Artifact = v; return nil },
	},
	"artifacts.root": {
		get: func(c *Config) string { return c.Artifacts.Root },
		set: func(c *Config, v string) error { c.Artifacts.Root = v; return nil },
	},
	"artifacts.inline_threshold": uintKey("artifacts.inline_threshold", func(c *Config) *uint { return &c.Artifacts.InlineThreshold }),
	"artifacts.codec": {
		get: func(c *Config) string { return c.Artifacts.Codec },
		set: func(c *Config, v string) error {
			switch v {
			case "none", "zstd", "lz4":
				c.Artifacts.Codec = v
				return nil
			}
			return fmt.Errorf("invalid value for artifacts.codec: %q (available: none, zstd, lz4)", v)
		},
	},
	"memory.auto_index": {
		get: func(c *Config) string { return strconv.FormatBool(c.Memory.AutoIndex) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.auto_index: %w", err)
			}
			c.Memory.AutoIndex = b
			return nil
		},
	},
	"memory.workers":      uintKey("memory.workers", func(c *Config) *uint { return &c.Memory.Workers }),
	"memory.search_limit": uintKey("memory.search_limit", func(c *Config) *uint { return &c.Memory.SearchLimit }),
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case "none", "kafka", "redis":
				c.EventStream.Provider = v
				return nil
			}
			return fmt.Errorf("invalid value for eventstream.provider: %q (available: none, kafka, redis)", v)
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.EventStream.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.EventStream.Brokers = append(c.EventStream.Brokers, b)
				}
			}
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"eventstream.redis_addr": {
		get: func(c *Config) string { return c.EventStream.RedisAddr },
		set: func(c *Config, v string) error { c.EventStream.RedisAddr = v; return nil },
	},
	"eventstream.stream": {
		get: func(c *Config) string { return c.EventStream.Stream },
		set: func(c *Config, v string) error { c.EventStream.Stream = v; return nil },
	},
}
