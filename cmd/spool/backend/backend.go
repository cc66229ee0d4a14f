// Package backend turns the CLI's flags, environment and config.toml into
// resolved spool services.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"entgo.io/ent/dialect"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/dotdir"
	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/eventstream/kafka"
	"github.com/papercomputeco/spool/pkg/eventstream/redisstream"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/migrate"
	"github.com/papercomputeco/spool/pkg/storage/schema"
	"github.com/papercomputeco/spool/pkg/storage/sqlite"
)

// ServiceKeys are the registry keys of the flags AddServiceFlags registers.
var ServiceKeys = []string{
	config.FlagSessionService,
	config.FlagMemoryService,
	config.FlagArtifactService,
	config.FlagArtifactRoot,
}

// AddRootFlags registers the flags every spool command inherits: --debug,
// --log-file, --config-dir and the service descriptors.
func AddRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("log-file", "", "Also append JSON debug logs to this file")
	cmd.PersistentFlags().String("config-dir", "", "Override the .spool/ directory")
	AddServiceFlags(cmd)
}

// AddServiceFlags registers the backend descriptor flags on cmd so every
// subcommand inherits them. Values are read back through viper.
func AddServiceFlags(cmd *cobra.Command) {
	for _, key := range ServiceKeys {
		config.AddPersistentStringFlag(cmd, config.ServiceFlags, key, new(string))
	}
}

// Runtime is what a command needs to talk to its backends.
type Runtime struct {
	ConfigDir string
	Viper     *viper.Viper
	Logger    *slog.Logger

	logFile *os.File
}

// Load reads the root flags, builds the viper precedence chain and binds the
// service flags plus any extra registry keys the command registered.
func Load(cmd *cobra.Command, extraKeys ...string) (*Runtime, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	debug, _ := cmd.Flags().GetBool("debug")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.ServiceFlags, append(append([]string{}, ServiceKeys...), extraKeys...))

	rt := &Runtime{
		ConfigDir: configDir,
		Viper:     v,
		Logger: logger.New(
			logger.WithDebug(debug),
			logger.WithFormat(logger.FormatPretty),
			logger.WithWriter(cmd.ErrOrStderr()),
		),
	}

	if logPath, _ := cmd.Flags().GetString("log-file"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		rt.logFile = f
		rt.Logger = logger.Multi(rt.Logger, logger.New(
			logger.WithDebug(true),
			logger.WithFormat(logger.FormatJSON),
			logger.WithWriter(f),
		)).With("command", cmd.CommandPath())
	}
	return rt, nil
}

// Close releases what Load opened.
func (r *Runtime) Close() error {
	if r.logFile == nil {
		return nil
	}
	return r.logFile.Close()
}

// Descriptor returns the descriptor for kind. When neither a flag, the
// config file nor SPOOL_<KIND>_SERVICE names one, the CLI uses the SQLite
// database in the .spool/ directory instead of the in-memory fallback,
// which would not outlive the command.
func (r *Runtime) Descriptor(kind resolver.Kind) (string, error) {
	explicit := strings.TrimSpace(r.Viper.GetString("services." + string(kind)))
	if explicit != "" || strings.TrimSpace(r.Viper.GetString(resolver.EnvKey(kind))) != "" {
		return resolver.Select(kind, explicit, r.Viper), nil
	}

	path, err := dotdir.NewManager().DatabasePath(r.ConfigDir)
	if err != nil {
		return "", err
	}
	return "sqlite:" + path, nil
}

// Options tune what Open resolves.
type Options struct {
	// AutoIndex overrides memory.auto_index.
	AutoIndex *bool

	// FlagKeys are extra config.ServiceFlags registry keys the command
	// registered and wants bound to viper.
	FlagKeys []string
}

// Open resolves the session, memory and artifact services.
func (r *Runtime) Open(ctx context.Context, opts Options) (*services.Set, error) {
	cfg := services.Config{
		Env:             r.Viper,
		ArtifactRoot:    r.Viper.GetString("artifacts.root"),
		InlineThreshold: r.Viper.GetInt64("artifacts.inline_threshold"),
		Codec:           r.Viper.GetString("artifacts.codec"),
		AutoIndex:       r.Viper.GetBool("memory.auto_index"),
		IndexWorkers:    r.Viper.GetUint("memory.workers"),
		Logger:          r.Logger,
	}
	if opts.AutoIndex != nil {
		cfg.AutoIndex = *opts.AutoIndex
	}

	var err error
	if cfg.Session, err = r.Descriptor(resolver.KindSession); err != nil {
		return nil, err
	}
	if cfg.Memory, err = r.Descriptor(resolver.KindMemory); err != nil {
		return nil, err
	}
	if cfg.Artifact, err = r.Descriptor(resolver.KindArtifact); err != nil {
		return nil, err
	}
	cfg.Publisher, err = r.Publisher()
	if err != nil {
		return nil, err
	}
	return services.Resolve(ctx, cfg)
}

// Publisher builds the append notification sink from eventstream.*.
func (r *Runtime) Publisher() (eventstream.Publisher, error) {
	switch provider := r.Viper.GetString("eventstream.provider"); provider {
	case "", "none":
		return nil, nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers:  r.Viper.GetStringSlice("eventstream.brokers"),
			Topic:    r.Viper.GetString("eventstream.topic"),
			ClientID: "spool",
			Logger:   r.Logger,
		})
	case "redis":
		return redisstream.NewPublisher(redisstream.Config{
			Addr:   r.Viper.GetString("eventstream.redis_addr"),
			Stream: r.Viper.GetString("eventstream.stream"),
			Logger: r.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown eventstream provider %q (available: none, kafka, redis)", provider)
	}
}

// Database opens the SQL database a session descriptor names without
// migrating it, and returns a migration manager for it.
func (r *Runtime) Database(ctx context.Context) (*sql.DB, *migrate.Manager, error) {
	raw, err := r.Descriptor(resolver.KindSession)
	if err != nil {
		return nil, nil, err
	}
	desc, err := resolver.ParseDescriptor(raw)
	if err != nil {
		return nil, nil, storage.Invalid("open database", err)
	}

	var (
		driver, dsn, dialectName string
		retry                    *storage.LockRetry
	)
	switch desc.Scheme {
	case "sqlite", "db+sqlite":
		driver, dsn, dialectName = "sqlite3", sqlite.DSN(desc.Target), dialect.SQLite
		retry = sqlite.LockRetry()
	case "postgres", "postgresql", "db+postgresql":
		driver, dsn, dialectName = "pgx", strings.TrimPrefix(desc.Without(services.ParamArtifactRoot, services.ParamInlineThreshold, services.ParamCodec), "db+"), dialect.Postgres
	default:
		return nil, nil, storage.Unsupported("open database", "session backend %q has no schema to migrate", desc.Scheme)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, storage.Failure("open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, storage.Failure("open database", err)
	}

	m, err := migrate.New(db, dialectName, schema.Migrations(dialectName), migrate.WithLogger(r.Logger), migrate.WithLockRetry(retry))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, m, nil
}

// WithServices loads the runtime, opens the services, runs fn and closes
// them again.
func WithServices(cmd *cobra.Command, opts Options, fn func(set *services.Set) error) (err error) {
	rt, err := Load(cmd, opts.FlagKeys...)
	if err != nil {
		return err
	}
	defer rt.Close()

	set, err := rt.Open(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := set.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(set)
}
