package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default settings, matching the process-wide instance.
const (
	DefaultTTL           = 300 * time.Second
	DefaultPurgeInterval = 60 * time.Second
)

// Logger defines the logging interface used by Manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats is a snapshot of cache activity since the Manager was created.
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
	Purged uint64
}

// StatsSink receives a Stats snapshot after every reaper pass.
type StatsSink interface {
	WriteCacheStats(stats Stats)
}

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Manager is a string-keyed TTL cache of string values.
//
// An entry whose expiry has passed reads as absent but stays stored, and
// is counted by Size, until Remove, Clear, PurgeExpired or the background
// reaper deletes it.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Reads share a lock and
//     mutations, the reaper included, take it exclusively.
type Manager struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	purged atomic.Uint64

	clock    Clock
	logger   Logger
	sink     StatsSink
	interval time.Duration

	registry  prometheus.Registerer
	sizeGauge prometheus.Collector

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager and starts its reaper. Call Close to stop it.
func New(opts ...Option) *Manager {
	cfg := options{
		defaultTTL: DefaultTTL,
		interval:   DefaultPurgeInterval,
		clock:      systemClock{},
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		entries:    make(map[string]entry),
		defaultTTL: cfg.defaultTTL,
		clock:      cfg.clock,
		logger:     cfg.logger,
		sink:       cfg.sink,
		interval:   cfg.interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.registerer != nil {
		m.registerSizeGauge(cfg.registerer)
	}
	go m.reap()
	return m
}

// Put stores value under key for ttl. A ttl <= 0 uses the default TTL.
// An empty key is logged and ignored.
func (m *Manager) Put(key, value string, ttl time.Duration) {
	if key == "" {
		m.logger.Warn("cache put with empty key ignored")
		return
	}

	m.mu.Lock()
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.entries[key] = entry{value: value, expiresAt: m.clock.Now().Add(ttl)}
	m.mu.Unlock()

	m.logger.Debug("cache put", "key", key, "ttl", ttl)
}

// Get returns the value stored under key. An expired entry is reported as
// absent and left in place.
func (m *Manager) Get(key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	if ok && e.expired(m.clock.Now()) {
		ok = false
	}
	m.mu.RUnlock()

	m.recordLookup(ok)
	if !ok {
		return "", false
	}
	return e.value, true
}

func (m *Manager) recordLookup(hit bool) {
	if hit {
		m.hits.Add(1)
		hitsTotal.Inc()
	} else {
		m.misses.Add(1)
		missesTotal.Inc()
	}
}

// Has reports whether key holds an unexpired entry. It does not count as
// a hit or miss.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return ok && !e.expired(m.clock.Now())
}

// TTL returns the time left before key expires, or false if key is absent
// or already expired.
func (m *Manager) TTL(key string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	left := e.expiresAt.Sub(m.clock.Now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Keys returns the keys of unexpired entries, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	now := m.clock.Now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Remove deletes key and reports whether it was stored, expired or not.
func (m *Manager) Remove(key string) bool {
	m.mu.Lock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	return ok
}

// RemovePrefix deletes every key starting with prefix and returns how many
// were deleted.
func (m *Manager) RemovePrefix(prefix string) int {
	m.mu.Lock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	m.mu.Unlock()
	return n
}

// Clear deletes every entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()

	m.logger.Debug("cache cleared")
}

// Size returns the number of stored entries, expired ones included.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PurgeExpired deletes every expired entry and returns how many it deleted.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	now := m.clock.Now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	m.mu.Unlock()

	m.purged.Add(uint64(n))
	purgedTotal.Add(float64(n))
	return n
}

// SetDefaultTTL changes the TTL used by later Put calls with ttl <= 0.
// Existing entries keep their expiry. A ttl <= 0 is ignored.
func (m *Manager) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		m.logger.Warn("cache default ttl must be positive", "ttl", ttl)
		return
	}
	m.mu.Lock()
	m.defaultTTL = ttl
	m.mu.Unlock()
}

// DefaultTTL returns the TTL applied when Put is given ttl <= 0.
func (m *Manager) DefaultTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultTTL
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Size:   m.Size(),
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Purged: m.purged.Load(),
	}
}

// GetOrLoad returns the cached value for key, calling load and caching its
// result for ttl on a miss. A load error is returned and nothing is cached.
//
// Concurrent misses for the same key may each call load.
func (m *Manager) GetOrLoad(key string, ttl time.Duration, load func() (string, error)) (string, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return "", err
	}
	m.Put(key, v, ttl)
	return v, nil
}

// Close stops the reaper, waits for it to exit and withdraws the size
// gauge. The cache stays usable without background purging. Close is
// idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.unregisterSizeGauge()
	})
	<-m.done
}

func (m *Manager) reap() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.PurgeExpired(); n > 0 {
				m.logger.Info("purged expired cache entries", "count", n)
			}
			if m.sink != nil {
				m.sink.WriteCacheStats(m.Stats())
			}
		}
	}
}
