package config

const (
	defaultInlineThreshold = 64 << 10
	defaultCodec           = "zstd"

	defaultIndexWorkers = 3
	defaultSearchLimit  = 10

	defaultEventStreamProvider = "none"
	defaultEventStreamTopic    = "spool.events"
	defaultEventStreamStream   = "spool:events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Artifacts: ArtifactsConfig{
			InlineThreshold: defaultInlineThreshold,
			Codec:           defaultCodec,
		},
		Memory: MemoryConfig{
			Workers:     defaultIndexWorkers,
			SearchLimit: defaultSearchLimit,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
			Stream:   defaultEventStreamStream,
		},
	}
}
