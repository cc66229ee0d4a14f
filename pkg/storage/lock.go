package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LockRetry retries a transaction start that the database refused because
// another writer holds its lock.
type LockRetry struct {
	// Busy reports whether an error is a lock conflict.
	Busy func(error) bool

	// Limit bounds the total wait when ctx carries no earlier deadline.
	Limit time.Duration
}

// Begin starts a transaction on db. Lock conflicts are retried with
// exponential backoff until ctx ends or Limit elapses; any other error
// returns at once. A nil LockRetry begins exactly once.
func (r *LockRetry) Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	if r == nil || r.Busy == nil {
		return db.BeginTx(ctx, nil)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = r.Limit

	var tx *sql.Tx
	err := backoff.Retry(func() error {
		t, err := db.BeginTx(ctx, nil)
		if err != nil {
			if r.Busy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		tx = t
		return nil
	}, backoff.WithContext(b, ctx))
	return tx, err
}
