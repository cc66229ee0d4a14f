//go:build !libsql

package services

import "github.com/papercomputeco/spool/pkg/resolver"

// registerLibSQL is empty without the libsql build tag, so libsql
// descriptors resolve to an unsupported backend.
func registerLibSQL(*resolver.Registry, *Deps) {}
