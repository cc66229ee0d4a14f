package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/artifact/blob/fs"
	"github.com/papercomputeco/spool/pkg/artifact/blob/mem"
	artifactmem "github.com/papercomputeco/spool/pkg/artifact/inmemory"
	"github.com/papercomputeco/spool/pkg/artifact/sqlartifact"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/memory/local"
	"github.com/papercomputeco/spool/pkg/memory/sqlindex"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	"github.com/papercomputeco/spool/pkg/storage/postgres"
	"github.com/papercomputeco/spool/pkg/storage/sqlite"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

// Descriptor params understood by the built-in backends. They are removed
// before a connection string reaches a database driver.
const (
	ParamArtifactRoot    = "artifact_root"
	ParamInlineThreshold = "inline_threshold"
	ParamCodec           = "codec"
)

var ownParams = []string{ParamArtifactRoot, ParamInlineThreshold, ParamCodec}

// Deps is what factories may need beyond their descriptor. Sessions is set
// once the session store is resolved, before memory is.
type Deps struct {
	Config   *Config
	Sessions storage.Driver

	conns *connections
}

// database opens, or reuses, the pool a SQL descriptor names.
func (d *Deps) database(ctx context.Context, desc *resolver.Descriptor) (*sqlstore.DB, error) {
	log := d.Config.Logger
	switch desc.Scheme {
	case "sqlite", "db+sqlite":
		path := desc.Target
		if path == "" {
			return nil, storage.Invalid("resolve service", errors.New("sqlite descriptor needs a database path"))
		}
		return d.conns.get(ctx, "sqlite:"+path, func(ctx context.Context) (*sqlstore.DB, error) {
			return sqlite.Open(ctx, path, log)
		})
	case "postgres", "postgresql", "db+postgresql":
		connStr := strings.TrimPrefix(desc.Without(ownParams...), "db+")
		return d.conns.get(ctx, "postgres:"+connStr, func(ctx context.Context) (*sqlstore.DB, error) {
			return postgres.Open(ctx, connStr, log)
		})
	}
	return nil, storage.Unsupported("resolve service", "no database for scheme %q", desc.Scheme)
}

// artifactOptions merges descriptor params over the configured defaults.
func (d *Deps) artifactOptions(desc *resolver.Descriptor) (artifact.Options, error) {
	opts := artifact.Options{InlineThreshold: d.Config.InlineThreshold}
	threshold, err := desc.Int64Param(ParamInlineThreshold, opts.InlineThreshold)
	if err != nil {
		return opts, storage.Invalid("resolve service", err)
	}
	opts.InlineThreshold = threshold

	codec, err := artifact.ParseCodec(desc.Param(ParamCodec, d.Config.Codec))
	if err != nil {
		return opts, storage.Invalid("resolve service", err)
	}
	opts.Codec = codec
	return opts.Normalize(), nil
}

// bucket picks the external store: the artifact_root param, the configured
// root, a directory next to a SQLite file, or memory for in-process
// databases.
func (d *Deps) bucket(desc *resolver.Descriptor) (blob.Bucket, error) {
	root := desc.Param(ParamArtifactRoot, d.Config.ArtifactRoot)
	if root == "" && (desc.Scheme == "sqlite" || desc.Scheme == "db+sqlite") && !sqlite.IsMemory(desc.Target) {
		root = filepath.Join(filepath.Dir(desc.Target), "artifacts")
	}
	if root == "" {
		if desc.Scheme == "inmemory" || sqlite.IsMemory(desc.Target) {
			return mem.New(nil), nil
		}
		return nil, storage.Invalid("resolve service", fmt.Errorf("%s artifact store needs %s", desc.Scheme, ParamArtifactRoot))
	}
	b, err := fs.New(root)
	if err != nil {
		return nil, storage.Failure("resolve service", err)
	}
	return b, nil
}

// SQLSchemes are the descriptor schemes served by the SQL backends. Every
// kind accepts all of them.
var SQLSchemes = []string{"sqlite", "db+sqlite", "postgres", "postgresql", "db+postgresql"}

// RegisterBuiltins adds the built-in backends to r.
func RegisterBuiltins(r *resolver.Registry, deps *Deps) {
	sessionLog := logger.Component(deps.Config.Logger, string(resolver.KindSession))
	memoryLog := logger.Component(deps.Config.Logger, string(resolver.KindMemory))
	artifactLog := logger.Component(deps.Config.Logger, string(resolver.KindArtifact))

	// session
	r.Register(resolver.KindSession, "inmemory", func(context.Context, *resolver.Descriptor) (any, error) {
		return inmemory.NewDriver(), nil
	})
	for _, scheme := range SQLSchemes {
		r.Register(resolver.KindSession, scheme, func(ctx context.Context, desc *resolver.Descriptor) (any, error) {
			db, err := deps.database(ctx, desc)
			if err != nil {
				return nil, err
			}
			return sqlstore.New(db, sqlstore.WithLogger(sessionLog)), nil
		})
	}
	registerLibSQL(r, deps)

	// memory
	r.Register(resolver.KindMemory, "inmemory", func(context.Context, *resolver.Descriptor) (any, error) {
		return local.NewDriver(local.Config{Events: deps.Sessions, Logger: memoryLog}), nil
	})
	for _, scheme := range SQLSchemes {
		r.Register(resolver.KindMemory, scheme, func(ctx context.Context, desc *resolver.Descriptor) (any, error) {
			db, err := deps.database(ctx, desc)
			if err != nil {
				return nil, err
			}
			return sqlindex.New(db, deps.Sessions, memoryLog), nil
		})
	}

	// artifact
	r.Register(resolver.KindArtifact, "inmemory", func(_ context.Context, desc *resolver.Descriptor) (any, error) {
		opts, err := deps.artifactOptions(desc)
		if err != nil {
			return nil, err
		}
		bucket, err := deps.bucket(desc)
		if err != nil {
			return nil, err
		}
		return artifactmem.New(artifactmem.Config{Options: opts, Bucket: bucket, Logger: artifactLog}), nil
	})
	for _, scheme := range SQLSchemes {
		r.Register(resolver.KindArtifact, scheme, func(ctx context.Context, desc *resolver.Descriptor) (any, error) {
			opts, err := deps.artifactOptions(desc)
			if err != nil {
				return nil, err
			}
			bucket, err := deps.bucket(desc)
			if err != nil {
				return nil, err
			}
			db, err := deps.database(ctx, desc)
			if err != nil {
				bucket.Close()
				return nil, err
			}
			return sqlartifact.New(db, sqlartifact.Config{Options: opts, Bucket: bucket, Logger: artifactLog}), nil
		})
	}
}
