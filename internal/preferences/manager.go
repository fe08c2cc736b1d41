package preferences

import (
	"log/slog"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/ids"
	"github.com/roach88/datakit/internal/storeerr"
)

// Limits bound keys and values. Lengths are in bytes.
type Limits struct {
	MaxKeyLength   int
	MaxValueLength int
}

// DefaultLimits are the limits used when none are configured.
var DefaultLimits = Limits{MaxKeyLength: 80, MaxValueLength: 8192}

// Option configures a Manager.
type Option func(*Manager)

// WithLimits overrides DefaultLimits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(m *Manager) {
		if l.MaxKeyLength > 0 {
			m.limits.MaxKeyLength = l.MaxKeyLength
		}
		if l.MaxValueLength > 0 {
			m.limits.MaxValueLength = l.MaxValueLength
		}
	}
}

// WithLogger sets the logger handles derive from.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator sets the generator for temp file suffixes.
func WithIDGenerator(g ids.Generator) Option {
	return func(m *Manager) { m.ids = g }
}

// Manager owns every open Preferences handle under one directory. Opening
// the same name twice returns the same handle, and therefore the same cache.
type Manager struct {
	fs     afero.Fs
	dir    string
	limits Limits
	logger *slog.Logger
	ids    ids.Generator

	stores *xsync.MapOf[string, *Preferences]
}

// NewManager creates a Manager storing files in dir on fs.
func NewManager(fs afero.Fs, dir string, opts ...Option) *Manager {
	m := &Manager{
		fs:     fs,
		dir:    dir,
		limits: DefaultLimits,
		logger: slog.Default().With("component", "preferences"),
		ids:    ids.Default,
		stores: xsync.NewMapOf[string, *Preferences](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the directory holding the preferences files.
func (m *Manager) Dir() string { return m.dir }

// GetPreferences returns the handle for name, creating it on first use.
// The backing file is read lazily by the first operation on the handle.
func (m *Manager) GetPreferences(name string) (*Preferences, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	p, loaded := m.stores.LoadOrCompute(name, func() *Preferences {
		file := newSnapshotFile(m.fs, m.dir, name, m.ids)
		return newPreferences(name, file, m.limits, m.logger, m.evict)
	})
	if !loaded {
		m.logger.Debug("preferences opened", "name", name)
	}
	return p, nil
}

// DeletePreferences removes the backing file for name and evicts its handle.
// Operations already queued on the handle run first; anything submitted to
// the old handle afterwards fails with STORE_CLOSED. Once the returned
// future resolves, GetPreferences(name) yields a fresh, empty store.
func (m *Manager) DeletePreferences(name string) *async.Future[struct{}] {
	if err := validateName(name); err != nil {
		return async.Failed[struct{}](err)
	}
	if p, ok := m.stores.Load(name); ok {
		return p.remove(true)
	}

	file := newSnapshotFile(m.fs, m.dir, name, m.ids)
	if err := file.remove(); err != nil {
		return async.Failed[struct{}](storeerr.Wrap(storeerr.CodeIO, err, "delete preferences %q", name))
	}
	return async.Resolved(struct{}{}, nil)
}

// RemoveFromCache evicts the handle for name without touching its file.
// Unflushed changes are discarded. The next GetPreferences reloads from disk.
func (m *Manager) RemoveFromCache(name string) *async.Future[struct{}] {
	if err := validateName(name); err != nil {
		return async.Failed[struct{}](err)
	}
	if p, ok := m.stores.Load(name); ok {
		return p.remove(false)
	}
	return async.Resolved(struct{}{}, nil)
}

// Close stops every handle's worker after its queued work completes.
// Unflushed changes are discarded.
func (m *Manager) Close() {
	m.stores.Range(func(name string, p *Preferences) bool {
		m.stores.Delete(name)
		p.worker.Close()
		return true
	})
}

// evict drops p from the registry if it is still the registered handle.
func (m *Manager) evict(p *Preferences) {
	m.stores.Compute(p.name, func(cur *Preferences, loaded bool) (*Preferences, bool) {
		return cur, !loaded || cur == p
	})
}

func validateName(name string) error {
	if name == "" {
		return storeerr.New(storeerr.CodeInvalidConfig, "preferences name is empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return storeerr.New(storeerr.CodeInvalidConfig, "preferences name %q must not contain a path separator", name)
	}
	return nil
}
