package config

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"tether/internal/api"
	"tether/pkg/logging"
)

const (
	// DefaultTierTTL is how long a tier entry stays readable before it is
	// considered expired.
	DefaultTierTTL = 30 * time.Minute

	// DefaultTierCapacity bounds each tier; the oldest-inserted entry is
	// dropped when the bound is exceeded.
	DefaultTierCapacity = 1024

	// DefaultLookupTTL is the memoization window for point lookups.
	DefaultLookupTTL = 60 * time.Second
)

// CacheConfig tunes the layered cache. Zero values fall back to the defaults
// above.
type CacheConfig struct {
	TierTTL      time.Duration
	TierCapacity uint64
	LookupTTL    time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TierTTL <= 0 {
		c.TierTTL = DefaultTierTTL
	}
	if c.TierCapacity == 0 {
		c.TierCapacity = DefaultTierCapacity
	}
	if c.LookupTTL <= 0 {
		c.LookupTTL = DefaultLookupTTL
	}
	return c
}

// tier is one mutable layer of the hierarchy: a bounded expiring map with a
// mutex serializing read-modify-write mutations. Reads go straight to the
// underlying cache, which is itself thread-safe.
type tier struct {
	mu      sync.Mutex
	entries *ttlcache.Cache[string, *ServiceConfig]
}

func newTier(ttl time.Duration, capacity uint64) *tier {
	t := &tier{
		entries: ttlcache.New[string, *ServiceConfig](
			ttlcache.WithTTL[string, *ServiceConfig](ttl),
			ttlcache.WithCapacity[string, *ServiceConfig](capacity),
			ttlcache.WithDisableTouchOnHit[string, *ServiceConfig](),
		),
	}
	go t.entries.Start()
	return t
}

func (t *tier) get(name string) (*ServiceConfig, bool) {
	item := t.entries.Get(name)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (t *tier) set(name string, cfg *ServiceConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Set(name, cfg, ttlcache.DefaultTTL)
}

func (t *tier) remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries.Get(name) == nil {
		return false
	}
	t.entries.Delete(name)
	return true
}

func (t *tier) items() map[string]*ServiceConfig {
	out := make(map[string]*ServiceConfig)
	for name, item := range t.entries.Items() {
		out[name] = item.Value()
	}
	return out
}

func (t *tier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.DeleteAll()
}

func (t *tier) stop() {
	t.entries.Stop()
}

// privateKey addresses an entry in the caller-private tier.
type privateKey struct {
	Caller string
	Name   string
}

// lookupKey addresses a memoized point lookup.
type lookupKey struct {
	Name   string
	Caller string
}

// Cache resolves downstream server configurations through four tiers in
// fixed priority order: shared-immutable, shared-mutable, caller-private
// (only when a caller ID is given), and the injected static fallback table.
// The first tier holding the name wins.
//
// Point lookups are memoized for a short window; every mutation invalidates
// the memoized entries for the touched name so removals become visible
// immediately.
type Cache struct {
	cfg CacheConfig

	immutable *tier
	shared    *tier

	privateMu sync.Mutex
	private   *ttlcache.Cache[privateKey, *ServiceConfig]

	fallbackMu sync.RWMutex
	fallback   map[string]*ServiceConfig

	lookups *ttlcache.Cache[lookupKey, *ServiceConfig]
	group   singleflight.Group
}

// NewCache creates a layered cache over the given static fallback table.
// The fallback map is used as-is; callers must not mutate it afterwards.
func NewCache(fallback map[string]*ServiceConfig, cfg CacheConfig) *Cache {
	cfg = cfg.withDefaults()
	if fallback == nil {
		fallback = map[string]*ServiceConfig{}
	}

	c := &Cache{
		cfg:       cfg,
		immutable: newTier(cfg.TierTTL, cfg.TierCapacity),
		shared:    newTier(cfg.TierTTL, cfg.TierCapacity),
		private: ttlcache.New[privateKey, *ServiceConfig](
			ttlcache.WithTTL[privateKey, *ServiceConfig](cfg.TierTTL),
			ttlcache.WithCapacity[privateKey, *ServiceConfig](cfg.TierCapacity),
			ttlcache.WithDisableTouchOnHit[privateKey, *ServiceConfig](),
		),
		fallback: fallback,
		lookups: ttlcache.New[lookupKey, *ServiceConfig](
			ttlcache.WithTTL[lookupKey, *ServiceConfig](cfg.LookupTTL),
			ttlcache.WithDisableTouchOnHit[lookupKey, *ServiceConfig](),
		),
	}
	go c.private.Start()
	go c.lookups.Start()
	return c
}

// Stop halts the background expiration goroutines. The cache must not be
// used afterwards.
func (c *Cache) Stop() {
	c.immutable.stop()
	c.shared.stop()
	c.private.Stop()
	c.lookups.Stop()
}

// GetServiceConfig resolves a server name through the tier hierarchy.
// callerID may be empty, in which case the private tier is skipped.
func (c *Cache) GetServiceConfig(name, callerID string) (*ServiceConfig, bool) {
	key := lookupKey{Name: name, Caller: callerID}
	if item := c.lookups.Get(key); item != nil {
		return item.Value(), true
	}

	// Collapse concurrent misses for the same key onto one resolution.
	v, _, _ := c.group.Do(name+"\x00"+callerID, func() (interface{}, error) {
		cfg, ok := c.resolve(name, callerID)
		if ok {
			c.lookups.Set(key, cfg, ttlcache.DefaultTTL)
		}
		return cfg, nil
	})

	cfg, _ := v.(*ServiceConfig)
	return cfg, cfg != nil
}

func (c *Cache) resolve(name, callerID string) (*ServiceConfig, bool) {
	if cfg, ok := c.immutable.get(name); ok {
		return cfg, true
	}
	if cfg, ok := c.shared.get(name); ok {
		return cfg, true
	}
	if callerID != "" {
		if item := c.private.Get(privateKey{Caller: callerID, Name: name}); item != nil {
			return item.Value(), true
		}
	}
	c.fallbackMu.RLock()
	defer c.fallbackMu.RUnlock()
	cfg, ok := c.fallback[name]
	return cfg, ok
}

// GetAllServiceConfigs unions every tier visible to the caller, applying the
// same override order as point lookups.
func (c *Cache) GetAllServiceConfigs(callerID string) map[string]*ServiceConfig {
	merged := make(map[string]*ServiceConfig)

	c.fallbackMu.RLock()
	for name, cfg := range c.fallback {
		merged[name] = cfg
	}
	c.fallbackMu.RUnlock()

	if callerID != "" {
		for key, item := range c.private.Items() {
			if key.Caller == callerID {
				merged[key.Name] = item.Value()
			}
		}
	}

	for name, cfg := range c.shared.items() {
		merged[name] = cfg
	}
	for name, cfg := range c.immutable.items() {
		merged[name] = cfg
	}

	return merged
}

// GetDelegatedAuthServices returns the visible servers that require a
// per-user delegated token, in the merged override view.
func (c *Cache) GetDelegatedAuthServices(callerID string) []*ServiceConfig {
	var out []*ServiceConfig
	for _, cfg := range c.GetAllServiceConfigs(callerID) {
		if cfg.RequiresDelegatedAuth {
			out = append(out, cfg)
		}
	}
	return out
}

// SetImmutable stores a config in the shared-immutable tier.
func (c *Cache) SetImmutable(cfg *ServiceConfig) {
	c.immutable.set(cfg.Name, cfg)
	c.invalidateLookups(cfg.Name)
}

// RemoveImmutable drops a config from the shared-immutable tier.
func (c *Cache) RemoveImmutable(name string) bool {
	removed := c.immutable.remove(name)
	if removed {
		c.invalidateLookups(name)
	}
	return removed
}

// SetShared stores a config in the shared-mutable tier.
func (c *Cache) SetShared(cfg *ServiceConfig) {
	c.shared.set(cfg.Name, cfg)
	c.invalidateLookups(cfg.Name)
}

// RemoveShared drops a config from the shared-mutable tier.
func (c *Cache) RemoveShared(name string) bool {
	removed := c.shared.remove(name)
	if removed {
		c.invalidateLookups(name)
	}
	return removed
}

// AddPrivate stores a config in the caller-private tier, overwriting any
// existing entry for the same (caller, name).
func (c *Cache) AddPrivate(callerID string, cfg *ServiceConfig) {
	c.privateMu.Lock()
	c.private.Set(privateKey{Caller: callerID, Name: cfg.Name}, cfg, ttlcache.DefaultTTL)
	c.privateMu.Unlock()

	c.invalidateLookups(cfg.Name)
	logging.Debug("ConfigCache", "Added private config %s for caller %s", cfg.Name, callerID)
}

// UpdatePrivate replaces an existing private entry. It returns a
// KeyConflictError when the entry was never added; use AddPrivate for that.
func (c *Cache) UpdatePrivate(callerID string, cfg *ServiceConfig) error {
	key := privateKey{Caller: callerID, Name: cfg.Name}

	c.privateMu.Lock()
	defer c.privateMu.Unlock()

	if c.private.Get(key) == nil {
		return api.NewKeyConflictError(cfg.Name)
	}
	c.private.Set(key, cfg, ttlcache.DefaultTTL)
	c.invalidateLookups(cfg.Name)
	return nil
}

// RemovePrivate drops a caller-private entry, reporting whether it existed.
func (c *Cache) RemovePrivate(callerID, name string) bool {
	key := privateKey{Caller: callerID, Name: name}

	c.privateMu.Lock()
	defer c.privateMu.Unlock()

	if c.private.Get(key) == nil {
		return false
	}
	c.private.Delete(key)
	c.invalidateLookups(name)
	return true
}

// ReplaceFallback swaps the static fallback table wholesale, used by the
// file watcher on configuration reload. All memoized lookups are dropped.
func (c *Cache) ReplaceFallback(fallback map[string]*ServiceConfig) {
	if fallback == nil {
		fallback = map[string]*ServiceConfig{}
	}
	c.fallbackMu.Lock()
	c.fallback = fallback
	c.fallbackMu.Unlock()

	c.lookups.DeleteAll()
	logging.Info("ConfigCache", "Replaced fallback table (%d servers)", len(fallback))
}

// Reset clears the immutable, shared, and private tiers along with the
// lookup memoization. The injected static fallback table survives: it is
// owned by the loader, not by callers.
func (c *Cache) Reset() {
	c.immutable.clear()
	c.shared.clear()

	c.privateMu.Lock()
	c.private.DeleteAll()
	c.privateMu.Unlock()

	c.lookups.DeleteAll()
	logging.Debug("ConfigCache", "Reset all tiers and lookup memoization")
}

// invalidateLookups drops every memoized lookup for the given name across
// all callers, so mutations become visible before the memoization TTL.
func (c *Cache) invalidateLookups(name string) {
	for _, key := range c.lookups.Keys() {
		if key.Name == name {
			c.lookups.Delete(key)
		}
	}
}
