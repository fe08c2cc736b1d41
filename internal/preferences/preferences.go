// Package preferences implements named key/value stores with an in-memory
// write-back cache and explicit, atomic flushes to disk.
//
// A Preferences handle owns its cache exclusively. Every operation runs on
// the handle's single worker in submission order, so a Put followed by a Get
// observes the put, and a Flush captures every Put and Clear submitted before
// it. Get, Put, Has, Delete and Clear never touch the disk once the cache is
// loaded; only the first operation (lazy load), Flush and deletion do.
package preferences

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/metrics"
	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/value"
)

// Observer is notified with the key of every entry written by a flush.
type Observer func(key string)

// Preferences is a handle to one named store.
type Preferences struct {
	name    string
	file    *snapshotFile
	worker  *async.Worker
	limits  Limits
	logger  *slog.Logger
	onEvict func(*Preferences)

	// Owned by the worker goroutine.
	cache   map[string]value.Value
	loaded  bool
	dirty   bool
	changed map[string]struct{}
	closed  bool

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

func newPreferences(name string, file *snapshotFile, limits Limits, logger *slog.Logger, onEvict func(*Preferences)) *Preferences {
	return &Preferences{
		name:      name,
		file:      file,
		worker:    async.NewWorker(metrics.Preferences),
		limits:    limits,
		logger:    logger.With("name", name),
		onEvict:   onEvict,
		changed:   make(map[string]struct{}),
		observers: make(map[int]Observer),
	}
}

// Name returns the store name.
func (p *Preferences) Name() string { return p.name }

// Get returns the value stored under key. When key is absent, or its stored
// kind is not compatible with def's kind, def is returned unchanged. Number
// kinds are compatible with each other and the stored value is returned as
// stored, so Put(Int32(3)) then Get(k, Float64(0)) yields Int32(3). A nil
// def accepts any stored kind.
func (p *Preferences) Get(key string, def value.Value) *async.Future[value.Value] {
	return run(p, "get", func() (value.Value, error) {
		k, err := p.normalizeKey(key)
		if err != nil {
			return nil, err
		}
		stored, ok := p.cache[k]
		if !ok {
			return def, nil
		}
		if def != nil && !stored.Kind().Compatible(def.Kind()) {
			return def, nil
		}
		return value.Clone(stored), nil
	})
}

// Put upserts key. The write reaches disk on the next Flush.
func (p *Preferences) Put(key string, v value.Value) *async.Future[struct{}] {
	return run(p, "put", func() (struct{}, error) {
		k, err := p.normalizeKey(key)
		if err != nil {
			return struct{}{}, err
		}
		if v == nil {
			return struct{}{}, storeerr.New(storeerr.CodeInvalidArgument, "value for %q is nil", k)
		}
		if n := value.Size(v); n > p.limits.MaxValueLength {
			return struct{}{}, storeerr.New(storeerr.CodeInvalidArgument,
				"value for %q is %d bytes, limit is %d", k, n, p.limits.MaxValueLength)
		}
		p.cache[k] = value.Clone(v)
		p.markChanged(k)
		return struct{}{}, nil
	})
}

// Has reports whether key is in the cache, flushed or not.
func (p *Preferences) Has(key string) *async.Future[bool] {
	return run(p, "has", func() (bool, error) {
		k, err := p.normalizeKey(key)
		if err != nil {
			return false, err
		}
		_, ok := p.cache[k]
		return ok, nil
	})
}

// Delete removes key. Deleting an absent key succeeds without marking the
// store dirty.
func (p *Preferences) Delete(key string) *async.Future[struct{}] {
	return run(p, "delete", func() (struct{}, error) {
		k, err := p.normalizeKey(key)
		if err != nil {
			return struct{}{}, err
		}
		if _, ok := p.cache[k]; ok {
			delete(p.cache, k)
			p.markChanged(k)
		}
		return struct{}{}, nil
	})
}

// Clear removes every key and marks the store dirty. It does not flush.
func (p *Preferences) Clear() *async.Future[struct{}] {
	return run(p, "clear", func() (struct{}, error) {
		for k := range p.cache {
			p.changed[k] = struct{}{}
		}
		p.cache = make(map[string]value.Value)
		p.dirty = true
		return struct{}{}, nil
	})
}

// GetAll returns a copy of the whole cache.
func (p *Preferences) GetAll() *async.Future[map[string]value.Value] {
	return run(p, "get_all", func() (map[string]value.Value, error) {
		out := make(map[string]value.Value, len(p.cache))
		for k, v := range p.cache {
			out[k] = value.Clone(v)
		}
		return out, nil
	})
}

// Flush writes the cache to disk if it changed since the last successful
// flush. On failure the cache and the dirty flag are left as they were and
// the previous file stays in place.
func (p *Preferences) Flush() *async.Future[struct{}] {
	return run(p, "flush", func() (struct{}, error) {
		return struct{}{}, p.flushLocked()
	})
}

func (p *Preferences) flushLocked() error {
	if !p.dirty {
		p.logger.Debug("flush skipped, cache is clean")
		return nil
	}

	start := time.Now()
	if err := p.file.store(p.cache); err != nil {
		p.logger.Warn("flush failed", "error", err)
		return storeerr.Wrap(storeerr.CodeIO, err, "flush preferences %q", p.name)
	}
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	keys := make([]string, 0, len(p.changed))
	for k := range p.changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.dirty = false
	p.changed = make(map[string]struct{})
	p.logger.Debug("flush complete", "keys", len(p.cache), "changed", len(keys))

	p.notify(keys)
	return nil
}

// On registers an observer for flushed changes and returns a function that
// unregisters it. Observers run on their own goroutine, in flush order.
func (p *Preferences) On(obs Observer) (unsubscribe func()) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()

	id := p.nextObs
	p.nextObs++
	p.observers[id] = obs
	return func() {
		p.obsMu.Lock()
		defer p.obsMu.Unlock()
		delete(p.observers, id)
	}
}

func (p *Preferences) notify(keys []string) {
	if len(keys) == 0 {
		return
	}
	p.obsMu.Lock()
	ids := make([]int, 0, len(p.observers))
	for id := range p.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, p.observers[id])
	}
	p.obsMu.Unlock()

	if len(observers) == 0 {
		return
	}
	go func() {
		for _, k := range keys {
			for _, obs := range observers {
				obs(k)
			}
		}
	}()
}

func (p *Preferences) markChanged(k string) {
	p.changed[k] = struct{}{}
	p.dirty = true
}

// normalizeKey NFC-normalizes key so canonically equivalent spellings of
// the same text address the same entry, then enforces the key limits.
func (p *Preferences) normalizeKey(key string) (string, error) {
	k := norm.NFC.String(key)
	if k == "" {
		return "", storeerr.New(storeerr.CodeInvalidArgument, "key is empty")
	}
	if len(k) > p.limits.MaxKeyLength {
		return "", storeerr.New(storeerr.CodeInvalidArgument,
			"key is %d bytes, limit is %d", len(k), p.limits.MaxKeyLength)
	}
	return k, nil
}

// ensureLoaded reads the backing file on first use. A failed load leaves
// the handle unloaded so the next operation retries.
func (p *Preferences) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	entries, err := p.file.load()
	if err != nil {
		return storeerr.Wrap(storeerr.CodeIO, err, "load preferences %q", p.name)
	}
	p.cache = entries
	p.loaded = true
	p.logger.Debug("preferences loaded", "keys", len(entries))
	return nil
}

// run schedules fn on p's worker after the closed check and lazy load.
func run[T any](p *Preferences, op string, fn func() (T, error)) *async.Future[T] {
	return async.Submit(p.worker, func() (T, error) {
		var zero T
		if p.closed {
			metrics.Observe(metrics.Preferences, op, storeerr.ErrStoreClosed)
			return zero, storeerr.New(storeerr.CodeStoreClosed, "preferences %q is closed", p.name)
		}
		if err := p.ensureLoaded(); err != nil {
			metrics.Observe(metrics.Preferences, op, err)
			return zero, err
		}
		v, err := fn()
		metrics.Observe(metrics.Preferences, op, err)
		return v, err
	})
}

// remove deletes the backing file, marks the handle closed and evicts it.
// It runs as the last task on the handle's worker.
func (p *Preferences) remove(deleteFile bool) *async.Future[struct{}] {
	return async.Do(p.worker, func() error {
		if deleteFile {
			if err := p.file.remove(); err != nil {
				return storeerr.Wrap(storeerr.CodeIO, err, "delete preferences %q", p.name)
			}
		}
		p.closed = true
		p.cache = nil
		p.onEvict(p)
		p.worker.Shutdown()
		return nil
	})
}
