package rdb

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/metrics"
	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/storeerr"
)

// Store is a handle on one SQLite database file. Every operation is queued
// on the handle's worker and runs in submission order; the returned future
// resolves when it completes.
type Store struct {
	m      *Manager
	cfg    Config
	path   string
	key    []byte
	logger *slog.Logger

	// db is only touched from the worker goroutine once the store is open.
	db     *sql.DB
	worker *async.Worker

	version   atomic.Int32
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Config returns the config the store was opened with. Version tracks the
// last version applied.
func (s *Store) Config() Config {
	cfg := s.cfg
	cfg.Version = s.version.Load()
	return cfg
}

// State returns the lifecycle state.
func (s *Store) State() State { return State(s.state.Load()) }

// Encrypted reports whether the store holds a work key.
func (s *Store) Encrypted() bool { return len(s.key) > 0 }

// OpOption adjusts a single predicate-based operation.
type OpOption func(*opOptions)

type opOptions struct {
	table string
}

// Strict rejects predicates built for any table other than table with
// PREDICATE_MISMATCH.
func Strict(table string) OpOption {
	return func(o *opOptions) { o.table = table }
}

func checkPredicate(p predicate.Predicates, opts []OpOption) error {
	var o opOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if o.table != "" {
		return p.Match(o.table)
	}
	return nil
}

// ExecuteSQL runs a statement that returns no rows.
func (s *Store) ExecuteSQL(query string, args ...any) *async.Future[struct{}] {
	return submit(s, "execute_sql", func(db *sql.DB) (struct{}, error) {
		return struct{}{}, execSQL(context.Background(), db, query, args)
	})
}

// Insert adds one row and returns its rowid.
func (s *Store) Insert(table string, values map[string]any) *async.Future[int64] {
	return submit(s, "insert", func(db *sql.DB) (int64, error) {
		return insert(context.Background(), db, table, values)
	})
}

// BatchInsert adds rows in one transaction and returns how many were
// inserted. Either every row is inserted or none is.
func (s *Store) BatchInsert(table string, rows []map[string]any) *async.Future[int64] {
	return submit(s, "batch_insert", func(db *sql.DB) (int64, error) {
		var n int64
		err := inTx(db, func(tx *Tx) error {
			for _, row := range rows {
				if _, err := tx.Insert(table, row); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		return n, nil
	})
}

// Update sets values on the rows p selects and returns the count changed.
func (s *Store) Update(values map[string]any, p predicate.Predicates, opts ...OpOption) *async.Future[int64] {
	return submit(s, "update", func(db *sql.DB) (int64, error) {
		if err := checkPredicate(p, opts); err != nil {
			return 0, err
		}
		return update(context.Background(), db, values, p)
	})
}

// Delete removes the rows p selects and returns the count removed.
func (s *Store) Delete(p predicate.Predicates, opts ...OpOption) *async.Future[int64] {
	return submit(s, "delete", func(db *sql.DB) (int64, error) {
		if err := checkPredicate(p, opts); err != nil {
			return 0, err
		}
		return remove(context.Background(), db, p)
	})
}

// Count returns the number of rows p selects, ignoring paging.
func (s *Store) Count(p predicate.Predicates, opts ...OpOption) *async.Future[int64] {
	return submit(s, "count", func(db *sql.DB) (int64, error) {
		if err := checkPredicate(p, opts); err != nil {
			return 0, err
		}
		return count(context.Background(), db, p)
	})
}

// Query selects columns (all when empty) from the rows p selects.
func (s *Store) Query(p predicate.Predicates, columns []string, opts ...OpOption) *async.Future[*ResultSet] {
	return submit(s, "query", func(db *sql.DB) (*ResultSet, error) {
		if err := checkPredicate(p, opts); err != nil {
			return nil, err
		}
		return query(context.Background(), db, p, columns)
	})
}

// QuerySQL runs a raw SELECT.
func (s *Store) QuerySQL(query string, args ...any) *async.Future[*ResultSet] {
	return submit(s, "query_sql", func(db *sql.DB) (*ResultSet, error) {
		return querySQL(context.Background(), db, query, args)
	})
}

// Transaction runs fn inside BEGIN/COMMIT. The transaction rolls back if
// fn returns an error or panics.
func (s *Store) Transaction(fn func(tx *Tx) error) *async.Future[struct{}] {
	return submit(s, "transaction", func(db *sql.DB) (struct{}, error) {
		return struct{}{}, inTx(db, fn)
	})
}

// GetVersion returns the stored schema version.
func (s *Store) GetVersion() *async.Future[int32] {
	return submit(s, "get_version", func(db *sql.DB) (int32, error) {
		return readVersion(db)
	})
}

// SetVersion stores v. The engine keeps a signed 32-bit value, so v is
// reduced to its low 32 bits: 2147483647000 is stored as -1000.
func (s *Store) SetVersion(v int64) *async.Future[struct{}] {
	return submit(s, "set_version", func(db *sql.DB) (struct{}, error) {
		stored := int32(v)
		if err := writeVersion(db, stored); err != nil {
			return struct{}{}, err
		}
		s.version.Store(stored)
		return struct{}{}, nil
	})
}

// Close waits for queued operations, then closes the connection and drops
// the handle from the registry. Later operations fail with STORE_CLOSED.
// Close must not be called from a Then callback of this store's futures
// while other operations are still queued behind it.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.worker.Close()
		if s.db != nil {
			s.closeErr = storeerr.Engine(s.db.Close(), "close %s", s.path)
		}
		s.state.Store(int32(StateClosed))
		s.m.unregister(s)
		s.logger.Debug("store closed")
	})
	return s.closeErr
}

// reconcile brings an open store to cfg.Version through the worker.
func (s *Store) reconcile(cfg Config) error {
	if cfg.Version == 0 {
		return nil
	}
	_, err := submit(s, "upgrade", func(db *sql.DB) (struct{}, error) {
		if cfg.Version == s.version.Load() {
			return struct{}{}, nil
		}
		if err := s.m.applyVersion(db, s.version.Load(), cfg.Version); err != nil {
			return struct{}{}, err
		}
		s.version.Store(cfg.Version)
		return struct{}{}, nil
	}).Await(context.Background())
	return err
}

// submit queues fn on s's worker and records the operation's outcome.
func submit[T any](s *Store, op string, fn func(db *sql.DB) (T, error)) *async.Future[T] {
	return async.Submit(s.worker, func() (T, error) {
		var zero T
		if st := s.State(); st == StateClosed || st == StateFailed {
			metrics.Observe(metrics.RDB, op, storeerr.ErrStoreClosed)
			return zero, storeerr.ErrStoreClosed
		}
		v, err := fn(s.db)
		metrics.Observe(metrics.RDB, op, err)
		if err != nil {
			s.logger.Debug("operation failed", "op", op, "error", err)
			return zero, err
		}
		return v, nil
	})
}
