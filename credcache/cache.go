// Package credcache holds resolved table handles for a bounded time so that
// repeated requests against the same table reuse one scoped credential
// instead of asking the catalog for a new one each time.
package credcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/metrics"
)

const (
	// DefaultTTL is one hour minus a safety margin, so a cached handle is
	// never served within the last 30 seconds of a one-hour credential.
	DefaultTTL = time.Hour - 30*time.Second

	// DefaultMaxEntries bounds the number of cached handles.
	DefaultMaxEntries = 10000
)

// Resolver produces table handles on a cache miss.
type Resolver interface {
	Resolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error)

func (f ResolverFunc) Resolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error) {
	return f(ctx, name, mode)
}

type entry struct {
	handle    catalog.TableHandle
	expiresAt time.Time
}

// Cache maps table names to their most recently resolved handle.
//
// By default entries are keyed by name alone, so a handle resolved for READ
// is returned to a READ_WRITE caller while it lives. WithKeyByMode keys
// entries by (name, mode) instead.
//
// Concurrent misses for one name may each call the resolver; the last
// insert wins. A failed or cancelled resolution never inserts.
type Cache struct {
	resolver  Resolver
	lru       *expirable.LRU[string, entry]
	ttl       time.Duration
	now       func() time.Time
	keyByMode bool
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	keyByMode  bool
	logger     *slog.Logger
}

// WithTTL sets how long an entry is served after insertion.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted
// on overflow.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock overrides the time source used for entry expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithKeyByMode keys entries by (name, mode).
func WithKeyByMode(on bool) Option {
	return func(c *config) { c.keyByMode = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a Cache in front of resolver.
func New(resolver Resolver, opts ...Option) *Cache {
	cfg := config{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	onEvict := func(key string, _ entry) {
		metrics.CacheEvictions.Inc()
	}
	return &Cache{
		resolver:  resolver,
		lru:       expirable.NewLRU[string, entry](cfg.maxEntries, onEvict, cfg.ttl),
		ttl:       cfg.ttl,
		now:       cfg.now,
		keyByMode: cfg.keyByMode,
		logger:    cfg.logger.With("component", "credcache"),
	}
}

func (c *Cache) key(name string, mode catalog.AccessMode) string {
	k := catalog.NormalizeName(name)
	if c.keyByMode {
		k += "#" + mode.String()
	}
	return k
}

// GetOrResolve returns the live handle for name, resolving it on a miss.
// Resolver errors are returned unchanged.
func (c *Cache) GetOrResolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error) {
	key := c.key(name, mode)
	now := c.now()

	if e, ok := c.lru.Get(key); ok {
		if now.Before(e.expiresAt) {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			c.logger.DebugContext(ctx, "cache hit", "table", name, "mode", mode.String())
			return e.handle, nil
		}
		c.lru.Remove(key)
		metrics.CacheLookups.WithLabelValues("expired").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	c.logger.DebugContext(ctx, "cache miss", "table", name, "mode", mode.String())
	handle, err := c.resolver.Resolve(ctx, name, mode)
	if err != nil {
		return catalog.TableHandle{}, err
	}
	if ctx.Err() != nil {
		return catalog.TableHandle{}, ctx.Err()
	}

	inserted := c.now()
	expiresAt := inserted.Add(c.ttl)
	if exp := handle.Credential.ExpiresAt; !exp.IsZero() && exp.Before(expiresAt) {
		expiresAt = exp
	}
	c.lru.Add(key, entry{handle: handle, expiresAt: expiresAt})
	metrics.CacheEntries.Set(float64(c.lru.Len()))
	return handle, nil
}

// Len returns the number of entries currently held, including ones whose
// expiry has passed but have not yet been swept.
func (c *Cache) Len() int {
	return c.lru.Len()
}
