package rdb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/ids"
	"github.com/roach88/datakit/internal/metrics"
	"github.com/roach88/datakit/internal/storeerr"
)

// Driver names accepted by WithDriver.
const (
	// DriverCgo is github.com/mattn/go-sqlite3.
	DriverCgo = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"
)

// UpgradeFunc runs when an existing store is opened with a version that
// differs from the stored one. It runs inside the transaction that records
// the new version; returning an error aborts the open.
type UpgradeFunc func(tx *Tx, oldVersion, newVersion int32) error

// Option configures a Manager.
type Option func(*Manager)

// WithDriver selects the database/sql driver. Default DriverCgo.
func WithDriver(name string) Option {
	return func(m *Manager) { m.driver = name }
}

// WithJournalMode sets the journal_mode pragma. Default WAL.
func WithJournalMode(mode string) Option {
	return func(m *Manager) { m.journalMode = mode }
}

// WithBusyTimeout sets the busy_timeout pragma.
func WithBusyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.busyTimeout = d }
}

// WithLogger sets the logger handles derive from.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator sets the generator for temp and rollback file suffixes.
func WithIDGenerator(g ids.Generator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithUpgradeHook sets the hook run on version changes.
func WithUpgradeHook(fn UpgradeFunc) Option {
	return func(m *Manager) { m.upgrade = fn }
}

// Manager is the registry of open relational stores. At most one live Store
// exists per resolved path; concurrent opens of the same path share one
// open attempt.
type Manager struct {
	fs          afero.Fs
	dir         string
	driver      string
	journalMode string
	busyTimeout time.Duration
	logger      *slog.Logger
	ids         ids.Generator
	upgrade     UpgradeFunc

	stores   *xsync.MapOf[string, *Store]
	opening  *xsync.MapOf[string, struct{}]
	failures *xsync.MapOf[string, error]
	group    singleflight.Group
}

// NewManager creates a Manager. Stores opened by name live in dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		fs:          afero.NewOsFs(),
		dir:         dir,
		driver:      DriverCgo,
		journalMode: "WAL",
		busyTimeout: 5 * time.Second,
		logger:      slog.Default().With("component", "rdb"),
		ids:         ids.Default,
		stores:      xsync.NewMapOf[string, *Store](),
		opening:     xsync.NewMapOf[string, struct{}](),
		failures:    xsync.NewMapOf[string, error](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the directory for stores opened by name.
func (m *Manager) Dir() string { return m.dir }

// Driver returns the configured driver name.
func (m *Manager) Driver() string { return m.driver }

// Resolve returns the database file path cfg refers to.
func (m *Manager) Resolve(cfg Config) string {
	if cfg.Path != "" {
		return filepath.Clean(cfg.Path)
	}
	return filepath.Join(m.dir, cfg.Name)
}

// GetStore opens the store described by cfg, or returns the live handle
// already serving the same path. An invalid cfg fails the returned future
// immediately, before any file I/O.
func (m *Manager) GetStore(cfg Config) *async.Future[*Store] {
	if err := cfg.Validate(); err != nil {
		return async.Failed[*Store](err)
	}
	if m.driver != DriverCgo && m.driver != DriverPure {
		return async.Failed[*Store](storeerr.New(storeerr.CodeInvalidConfig, "unknown driver %q", m.driver))
	}
	path := m.Resolve(cfg)
	f := async.NewFuture[*Store]()
	go func() {
		v, err, shared := m.group.Do(path, func() (any, error) {
			return m.getOrOpen(cfg, path)
		})
		metrics.Observe(metrics.RDB, "open", err)
		if err != nil {
			f.Resolve(nil, err)
			return
		}
		s := v.(*Store)
		if shared && !s.cfg.compatible(cfg) {
			f.Resolve(nil, incompatible(s))
			return
		}
		if shared && cfg.Version != 0 && cfg.Version != s.version.Load() {
			// A concurrent open with another version; reconcile like a reopen.
			f.Resolve(s, s.reconcile(cfg))
			return
		}
		f.Resolve(s, nil)
	}()
	return f
}

// State reports the lifecycle state of the store cfg refers to.
func (m *Manager) State(cfg Config) State {
	path := m.Resolve(cfg)
	if s, ok := m.stores.Load(path); ok {
		return s.State()
	}
	if _, ok := m.opening.Load(path); ok {
		return StateOpening
	}
	if _, ok := m.failures.Load(path); ok {
		return StateFailed
	}
	return StateClosed
}

// DeleteStore closes the live handle for nameOrPath, if any, and removes
// the database file and its companions (-wal, -shm, -journal, .pub_key).
// A bare name resolves into Dir. Missing files are not an error.
func (m *Manager) DeleteStore(nameOrPath string) *async.Future[struct{}] {
	if nameOrPath == "" {
		return async.Failed[struct{}](storeerr.New(storeerr.CodeInvalidArgument, "store name is empty"))
	}
	path := filepath.Clean(nameOrPath)
	if filepath.Base(path) == nameOrPath {
		path = filepath.Join(m.dir, nameOrPath)
	}
	f := async.NewFuture[struct{}]()
	go func() {
		err := m.deleteFiles(path)
		metrics.Observe(metrics.RDB, "delete_store", err)
		f.Resolve(struct{}{}, err)
	}()
	return f
}

func (m *Manager) deleteFiles(path string) error {
	if s, ok := m.stores.Load(path); ok {
		if err := s.Close(); err != nil {
			m.logger.Warn("close before delete failed", "path", path, "error", err)
		}
	}
	m.failures.Delete(path)
	for _, p := range companionFiles(path) {
		if err := m.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return storeerr.Wrap(storeerr.CodeIO, err, "delete %s", p)
		}
	}
	m.logger.Info("store deleted", "path", path)
	return nil
}

// Close closes every live store.
func (m *Manager) Close() error {
	var first error
	m.stores.Range(func(_ string, s *Store) bool {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}

func (m *Manager) getOrOpen(cfg Config, path string) (*Store, error) {
	if s, ok := m.stores.Load(path); ok && s.State() == StateOpen {
		if !s.cfg.compatible(cfg) {
			return nil, incompatible(s)
		}
		if err := s.reconcile(cfg); err != nil {
			return nil, err
		}
		return s, nil
	}

	m.opening.Store(path, struct{}{})
	defer m.opening.Delete(path)

	s, err := m.open(cfg, path)
	if err != nil {
		m.failures.Store(path, err)
		m.logger.Warn("store open failed", "path", path, "error", err)
		return nil, err
	}
	m.failures.Delete(path)
	m.stores.Store(path, s)
	m.logger.Info("store opened", "path", path, "driver", m.driver, "version", s.version.Load())
	return s, nil
}

func (m *Manager) open(cfg Config, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if cfg.Name != "" {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, storeerr.Wrap(storeerr.CodePathUnavailable, err, "create %s", dir)
		}
	}
	info, err := m.fs.Stat(dir)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.CodePathUnavailable, err, "directory %s", dir)
	}
	if !info.IsDir() {
		return nil, storeerr.New(storeerr.CodePathUnavailable, "%s is not a directory", dir)
	}
	existed, err := afero.Exists(m.fs, path)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.CodePathUnavailable, err, "stat %s", path)
	}

	s := &Store{
		m:      m,
		cfg:    cfg,
		path:   path,
		logger: m.logger.With("path", path),
	}
	s.state.Store(int32(StateOpening))

	// Undo whatever the failed attempt created.
	cleanup := func() {
		if s.db != nil {
			s.db.Close()
		}
		if !existed {
			for _, p := range companionFiles(path) {
				m.fs.Remove(p)
			}
		}
	}

	if s.db, err = m.openDB(path); err != nil {
		cleanup()
		return nil, err
	}
	if cfg.Encrypted {
		if s.key, err = loadOrCreateKey(m.fs, keyPath(path), m.ids); err != nil {
			cleanup()
			return nil, err
		}
	}
	stored, err := readVersion(s.db)
	if err != nil {
		cleanup()
		return nil, err
	}
	s.version.Store(stored)
	if cfg.Version != 0 && cfg.Version != stored {
		if err := m.applyVersion(s.db, stored, cfg.Version); err != nil {
			cleanup()
			return nil, err
		}
		s.version.Store(cfg.Version)
	}

	s.worker = async.NewWorker(metrics.RDB)
	s.state.Store(int32(StateOpen))
	return s, nil
}

// openDB opens path with the manager's driver and pragmas.
func (m *Manager) openDB(path string) (*sql.DB, error) {
	db, err := sql.Open(m.driver, path)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.CodePathUnavailable, err, "open %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeerr.Wrap(storeerr.CodePathUnavailable, err, "connect %s", path)
	}
	// Every statement goes through the handle's worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", m.journalMode),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", m.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, storeerr.Engine(err, "execute %q", pragma)
		}
	}
	return db, nil
}

// applyVersion runs the upgrade hook and records newVersion in one transaction.
func (m *Manager) applyVersion(db *sql.DB, oldVersion, newVersion int32) error {
	tx, err := db.Begin()
	if err != nil {
		return storeerr.Engine(err, "begin upgrade")
	}
	if m.upgrade != nil {
		if err := m.upgrade(newTx(tx), oldVersion, newVersion); err != nil {
			tx.Rollback()
			return storeerr.Wrap(storeerr.CodeEngine, err, "upgrade %d -> %d", oldVersion, newVersion)
		}
	}
	if err := writeVersion(tx, newVersion); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeerr.Engine(err, "commit upgrade")
	}
	m.logger.Info("store version changed", "from", oldVersion, "to", newVersion)
	return nil
}

func (m *Manager) unregister(s *Store) {
	m.stores.Compute(s.path, func(cur *Store, loaded bool) (*Store, bool) {
		return cur, !loaded || cur == s
	})
}

func incompatible(s *Store) error {
	return storeerr.New(storeerr.CodeInvalidConfig,
		"store %s is already open with security level %s encrypted=%t",
		s.path, s.cfg.SecurityLevel, s.cfg.Encrypted)
}

func companionFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal", keyPath(path)}
}
