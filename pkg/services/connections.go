package services

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

// connections shares one pool between the session, memory and artifact
// stores that name the same database. The cache holds one reference per
// pool and drops it in release, after every store took its own.
type connections struct {
	mu  sync.Mutex
	dbs map[string]*sqlstore.DB
}

func newConnections() *connections {
	return &connections{dbs: make(map[string]*sqlstore.DB)}
}

// get returns a retained pool for key, opening it on first use.
func (c *connections) get(ctx context.Context, key string, open func(context.Context) (*sqlstore.DB, error)) (*sqlstore.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.dbs[key]; ok {
		return db.Retain(), nil
	}
	db, err := open(ctx)
	if err != nil {
		return nil, err
	}
	c.dbs[key] = db
	return db.Retain(), nil
}

// release drops the cache's references.
func (c *connections) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, db := range c.dbs {
		errs = append(errs, db.Close())
		delete(c.dbs, key)
	}
	return errors.Join(errs...)
}
