// Package cache provides the process-wide store for capability objects that are expensive to
// build and shared by every resolution using the same scope and logical name.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// KeySeparator joins the scope and the logical name of a cache key.
const KeySeparator = "__"

var (
	// ErrClosed is returned by GetOrCreate after Close, including to callers whose
	// construction was still running when Close was called.
	ErrClosed = errors.New("capability cache closed")

	// ErrTornDown is returned to callers whose construction was still running when its
	// scope was torn down. The constructed instance is released, not cached.
	ErrTornDown = errors.New("capability scope torn down during construction")
)

// Factory builds a capability object on a cache miss.
type Factory func(ctx context.Context) (any, error)

// Releaser is implemented by cached objects that hold resources needing explicit release.
// Objects implementing io.Closer are closed instead when they do not implement Releaser.
type Releaser interface {
	Release(ctx context.Context) error
}

// EvictionReason tells why an entry left the cache.
type EvictionReason string

const (
	EvictionCapacity EvictionReason = "capacity"
	EvictionIdle     EvictionReason = "idle"
	EvictionTeardown EvictionReason = "teardown"
	EvictionClose    EvictionReason = "close"
)

// Metrics observes cache activity.
type Metrics interface {
	Hit(scope string)
	Miss(scope string)
	Constructed(scope string, duration time.Duration, err error)
	Evicted(scope string, reason EvictionReason)
}

type nopMetrics struct{}

func (nopMetrics) Hit(string) {}

func (nopMetrics) Miss(string) {}

func (nopMetrics) Constructed(string, time.Duration, error) {}

func (nopMetrics) Evicted(string, EvictionReason) {}

// Key identifies a cache entry.
type Key struct {
	Scope string
	Name  string
}

// String returns the composite key "{scope}__{name}".
func (k Key) String() string {
	return k.Scope + KeySeparator + k.Name
}

// Entry is a snapshot of a cached capability.
type Entry struct {
	Key        Key
	Value      any
	Source     any
	CreatedAt  time.Time
	LastAccess time.Time
}

type entry struct {
	Entry
	element *list.Element
}

// Manager is the capability instance cache. Concurrent first requests for the same key run
// the factory once; every caller receives the same instance. The zero value is not usable,
// construct it with New.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	recency *list.List
	closed  bool

	// teardowns counts Teardown calls per scope, so a construction that started before a
	// teardown can tell it must not be stored.
	teardowns map[string]uint64

	flights singleflight.Group

	maxEntries  int
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     Metrics

	janitor *cron.Cron
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxEntries bounds the cache; the least recently used entry is evicted beyond the bound.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		m.maxEntries = n
	}
}

// WithIdleTimeout makes EvictIdle drop entries not accessed for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.idleTimeout = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics observer.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// New creates a cache. Without options it is unbounded and never expires entries.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries:   make(map[string]*entry),
		recency:   list.New(),
		teardowns: make(map[string]uint64),
		now:       time.Now,
		logger:    slog.Default(),
		metrics:   nopMetrics{},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With("module", "capability_cache")

	return m
}

// GetOrCreate returns the instance stored under (scope, name), running factory on the first request.
func (m *Manager) GetOrCreate(ctx context.Context, scope, name string, factory Factory) (any, error) {
	return m.GetOrCreateWithSource(ctx, scope, name, nil, factory)
}

// GetOrCreateWithSource is GetOrCreate that also records the configuration the instance was built from.
// The factory runs with the context of the caller that triggered construction; callers racing on
// the same key wait for that construction instead of starting their own.
func (m *Manager) GetOrCreateWithSource(ctx context.Context, scope, name string, source any, factory Factory) (any, error) {
	key := Key{Scope: scope, Name: name}
	id := key.String()

	value, ok, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	if ok {
		m.metrics.Hit(scope)

		return value, nil
	}

	value, err, _ = m.flights.Do(id, func() (any, error) {
		// A previous flight may have stored the value after our lookup.
		if v, ok, err := m.lookup(id); err != nil || ok {
			return v, err
		}

		m.metrics.Miss(scope)

		generation := m.generation(scope)

		started := m.now()
		v, err := factory(ctx)
		m.metrics.Constructed(scope, m.now().Sub(started), err)

		if err != nil {
			return nil, err
		}

		if v == nil {
			return nil, fmt.Errorf("capability factory for %q returned nil", id)
		}

		if err := m.store(ctx, key, v, source, generation); err != nil {
			return nil, err
		}

		m.logger.DebugContext(ctx, "Capability instance created", "scope", scope, "name", name)

		return v, nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Get returns the entry stored under (scope, name) without constructing anything.
func (m *Manager) Get(scope, name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[Key{Scope: scope, Name: name}.String()]
	if !ok {
		return Entry{}, false
	}

	return e.Entry, true
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Keys returns the keys of all entries, most recently used first.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Key, 0, len(m.entries))
	for el := m.recency.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).Key)
	}

	return keys
}

// Teardown drops and releases every entry of a scope. Hosts call it when a workflow is removed.
func (m *Manager) Teardown(ctx context.Context, scope string) error {
	m.mu.Lock()

	var removed []*entry

	m.teardowns[scope]++

	for id, e := range m.entries {
		if e.Key.Scope == scope {
			removed = append(removed, e)
			m.remove(id, e)
		}
	}

	m.mu.Unlock()

	return m.release(ctx, removed, EvictionTeardown)
}

// EvictIdle drops and releases entries idle for longer than the idle timeout.
// It returns the number of evicted entries.
func (m *Manager) EvictIdle(ctx context.Context) (int, error) {
	if m.idleTimeout <= 0 {
		return 0, nil
	}

	deadline := m.now().Add(-m.idleTimeout)

	m.mu.Lock()

	var removed []*entry

	// The list is ordered by recency, so idle entries sit at the back.
	for el := m.recency.Back(); el != nil; {
		e := el.Value.(*entry)
		if !e.LastAccess.Before(deadline) {
			break
		}

		prev := el.Prev()
		removed = append(removed, e)
		m.remove(e.Key.String(), e)
		el = prev
	}

	m.mu.Unlock()

	return len(removed), m.release(ctx, removed, EvictionIdle)
}

// StartJanitor runs EvictIdle on the given cron schedule (for example "@every 1m").
func (m *Manager) StartJanitor(schedule string) error {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		evicted, err := m.EvictIdle(context.Background())
		if err != nil {
			m.logger.Warn("Failed to release idle capabilities", "error", err)
		}

		if evicted > 0 {
			m.logger.Info("Evicted idle capabilities", "count", evicted)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	m.mu.Lock()
	previous := m.janitor
	m.janitor = c
	m.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	c.Start()

	return nil
}

// Close stops the janitor, drops every entry and releases them. Later GetOrCreate calls fail.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()

	m.closed = true

	janitor := m.janitor
	m.janitor = nil

	removed := make([]*entry, 0, len(m.entries))
	for id, e := range m.entries {
		removed = append(removed, e)
		m.remove(id, e)
	}

	m.mu.Unlock()

	if janitor != nil {
		<-janitor.Stop().Done()
	}

	return m.release(ctx, removed, EvictionClose)
}

func (m *Manager) lookup(id string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	e, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}

	e.LastAccess = m.now()
	m.recency.MoveToFront(e.element)

	return e.Value, true, nil
}

func (m *Manager) generation(scope string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.teardowns[scope]
}

// store inserts a freshly constructed value. A value finished after Close, or after a
// Teardown of its scope that began once construction had started, is released instead.
func (m *Manager) store(ctx context.Context, key Key, value, source any, generation uint64) error {
	now := m.now()

	m.mu.Lock()

	var (
		rejected error
		reason   EvictionReason
	)

	switch {
	case m.closed:
		rejected, reason = ErrClosed, EvictionClose
	case m.teardowns[key.Scope] != generation:
		rejected, reason = ErrTornDown, EvictionTeardown
	}

	if rejected != nil {
		m.mu.Unlock()

		stale := &entry{Entry: Entry{Key: key, Value: value, Source: source, CreatedAt: now, LastAccess: now}}
		if err := m.release(ctx, []*entry{stale}, reason); err != nil {
			m.logger.WarnContext(ctx, "Failed to release discarded capability", "key", key.String(), "error", err)
		}

		return rejected
	}

	if existing, ok := m.entries[key.String()]; ok {
		m.remove(key.String(), existing)
	}

	e := &entry{Entry: Entry{
		Key:        key,
		Value:      value,
		Source:     source,
		CreatedAt:  now,
		LastAccess: now,
	}}
	e.element = m.recency.PushFront(e)
	m.entries[key.String()] = e

	var removed []*entry

	for m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		oldest := m.recency.Back().Value.(*entry)
		removed = append(removed, oldest)
		m.remove(oldest.Key.String(), oldest)
	}

	m.mu.Unlock()

	if err := m.release(ctx, removed, EvictionCapacity); err != nil {
		m.logger.WarnContext(ctx, "Failed to release evicted capability", "error", err)
	}

	return nil
}

// remove must be called with mu held.
func (m *Manager) remove(id string, e *entry) {
	delete(m.entries, id)
	m.recency.Remove(e.element)
}

func (m *Manager) release(ctx context.Context, removed []*entry, reason EvictionReason) error {
	var errs []error

	for _, e := range removed {
		m.metrics.Evicted(e.Key.Scope, reason)

		if err := Release(ctx, e.Value); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", e.Key, err))
		}
	}

	return errors.Join(errs...)
}

// Release frees the resources held by a capability object, if it holds any.
func Release(ctx context.Context, value any) error {
	switch v := value.(type) {
	case Releaser:
		return v.Release(ctx)
	case io.Closer:
		return v.Close()
	default:
		return nil
	}
}
