//go:build libsql

package services

import (
	"context"
	"strings"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/storage/libsql"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

func registerLibSQL(r *resolver.Registry, deps *Deps) {
	r.Register(resolver.KindSession, "libsql", func(ctx context.Context, desc *resolver.Descriptor) (any, error) {
		// libsql://host names a remote server; libsql:path a local file.
		target := desc.Target
		if strings.HasPrefix(desc.Rest, "//") {
			target = desc.Without(ownParams...)
		}
		db, err := deps.conns.get(ctx, "libsql:"+target, func(ctx context.Context) (*sqlstore.DB, error) {
			return libsql.Open(ctx, target, deps.Config.Logger)
		})
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db, sqlstore.WithLogger(logger.Component(deps.Config.Logger, string(resolver.KindSession)))), nil
	})
}
