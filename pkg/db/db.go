package db

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/go-pg/pg/v10"
)

// ErrLocked is returned by RunInLock when the advisory lock is held by another process.
var ErrLocked = errors.New("db: lock is already taken")

// DB stores db connection
type DB struct {
	*pg.DB
}

// New is a function that returns DB as wrapper on postgres connection.
func New(db *pg.DB) DB {
	return DB{DB: db}
}

// Version is a function that returns Postgres version.
func (db DB) Version() (string, error) {
	var v string
	if _, err := db.QueryOne(pg.Scan(&v), "select version()"); err != nil {
		return "", err
	}

	return v, nil
}

// RunInLock runs fn in a transaction guarded by pg_try_advisory_xact_lock.
// The lock is released with the transaction.
func (db DB) RunInLock(ctx context.Context, lockName string, fn func(*pg.Tx) error) error {
	return db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		var locked bool
		if _, err := tx.QueryOneContext(ctx, pg.Scan(&locked), `select pg_try_advisory_xact_lock(?)`, lockID(lockName)); err != nil {
			return err
		}
		if !locked {
			return ErrLocked
		}
		return fn(tx)
	})
}

func lockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
