package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an entry stays valid.
const DefaultTTL = 30 * time.Minute

// Lookup outcomes reported to an Observer.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeStale = "stale"
	OutcomeError = "error"
)

// Observer receives one call per GetOrFetch lookup.
type Observer interface {
	ObserveLookup(outcome string)
}

// FetchFunc loads a fresh payload on a miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Result is the outcome of GetOrFetch.
type Result[T any] struct {
	Payload   T
	Key       string
	CachedAt  time.Time
	FromCache bool
	// Stale marks an expired entry. GetOrFetch returns one only when the
	// fetch failed and stale fallback is enabled; FetchErr holds the failure.
	Stale    bool
	FetchErr error
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries        int     `json:"entries"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	StaleServed    int64   `json:"stale_served"`
	FetchErrors    int64   `json:"fetch_errors"`
	RejectedWrites int64   `json:"rejected_writes"`
	HitRate        float64 `json:"hit_rate"`
}

type entry[T any] struct {
	payload  T
	cachedAt time.Time
	ttl      time.Duration
	seq      uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl           time.Duration
	now           func() time.Time
	staleFallback bool
	observer      Observer
}

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithStaleFallback serves an expired entry, flagged Stale, when a fetch
// fails. Without it fetch errors are returned as is.
func WithStaleFallback() Option {
	return func(o *options) { o.staleFallback = true }
}

// WithObserver reports lookup outcomes, e.g. to metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Cache is a concurrency-safe TTL cache of fetched payloads.
//
// Writes are ordered by the sequence number issued when their fetch started:
// a write never replaces an entry produced by a later fetch, and a fetch
// issued before an invalidation never repopulates the invalidated slot.
type Cache[T any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[T]
	seq       uint64
	floor     uint64
	keyFloors map[string]uint64
	opts      options
	group     singleflight.Group

	hits           atomic.Int64
	misses         atomic.Int64
	staleServed    atomic.Int64
	fetchErrors    atomic.Int64
	rejectedWrites atomic.Int64
}

// New creates an empty cache.
func New[T any](opts ...Option) *Cache[T] {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Cache[T]{
		entries:   make(map[string]*entry[T]),
		keyFloors: make(map[string]uint64),
		opts:      o,
	}
}

// TTL returns the entry lifetime.
func (c *Cache[T]) TTL() time.Duration { return c.opts.ttl }

type fetched[T any] struct {
	payload  T
	cachedAt time.Time
}

// GetOrFetch returns the valid entry for the query, or calls fetch and stores
// its result. Concurrent misses on one key share a single fetch. A failed
// fetch leaves the cache untouched.
func (c *Cache[T]) GetOrFetch(ctx context.Context, q Query, fetch FetchFunc[T]) (Result[T], error) {
	return c.GetOrFetchKey(ctx, Fingerprint(q), fetch)
}

// GetOrFetchKey is GetOrFetch for a precomputed fingerprint.
func (c *Cache[T]) GetOrFetchKey(ctx context.Context, key string, fetch FetchFunc[T]) (Result[T], error) {
	if res, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.observe(OutcomeHit)
		return res, nil
	}
	c.misses.Add(1)

	if err := ctx.Err(); err != nil {
		c.observe(OutcomeError)
		return Result[T]{Key: key}, eris.Wrap(err, "cache: fetch")
	}

	// Callers arriving after an invalidation must not join a fetch issued
	// before it, so the flight key carries the invalidation generation.
	v, err, _ := c.group.Do(c.flightKey(key), func() (any, error) {
		seq := c.issue()
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		cachedAt, _ := c.write(key, payload, seq)
		return fetched[T]{payload: payload, cachedAt: cachedAt}, nil
	})
	if err != nil {
		c.fetchErrors.Add(1)
		if c.opts.staleFallback {
			if res, ok := c.Peek(key); ok {
				c.staleServed.Add(1)
				c.observe(OutcomeStale)
				res.Stale = true
				res.FetchErr = err
				zap.L().Warn("cache: serving stale entry after fetch failure",
					zap.String("key", key),
					zap.Time("cached_at", res.CachedAt),
					zap.Error(err),
				)
				return res, nil
			}
		}
		c.observe(OutcomeError)
		return Result[T]{Key: key}, eris.Wrapf(err, "cache: fetch %s", key)
	}

	c.observe(OutcomeMiss)
	f := v.(fetched[T])
	return Result[T]{Payload: f.payload, Key: key, CachedAt: f.cachedAt}, nil
}

// Get returns the payload for a query if a valid entry exists.
func (c *Cache[T]) Get(q Query) (T, bool) {
	res, ok := c.lookup(Fingerprint(q))
	return res.Payload, ok
}

// Peek returns the entry for a key even if it has expired. Stale reports
// whether it has.
func (c *Cache[T]) Peek(key string) (Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Result[T]{Key: key}, false
	}
	return Result[T]{
		Payload:   e.payload,
		Key:       key,
		CachedAt:  e.cachedAt,
		FromCache: true,
		Stale:     !c.valid(e),
	}, true
}

// Set stores a payload for a query as the newest write for its key.
func (c *Cache[T]) Set(q Query, payload T) string {
	key := Fingerprint(q)
	c.write(key, payload, c.issue())
	return key
}

// Invalidate drops one entry. Fetches already in flight for the key will not
// repopulate it.
func (c *Cache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.group.Forget(c.flightKeyLocked(key))
	c.keyFloors[key] = c.seq
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// InvalidateQuery drops the entry for a query.
func (c *Cache[T]) InvalidateQuery(q Query) bool {
	return c.Invalidate(Fingerprint(q))
}

// InvalidateAll drops every entry and returns how many were removed. Fetches
// already in flight will not repopulate the cache.
func (c *Cache[T]) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry[T])
	c.keyFloors = make(map[string]uint64)
	c.floor = c.seq
	return n
}

// Sweep removes expired entries and returns how many were removed. Expired
// entries are never served as valid whether or not they have been swept.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if !c.valid(e) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// StartSweeper sweeps on every interval until ctx is done.
func (c *Cache[T]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					zap.L().Debug("cache: swept expired entries", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache[T]) Stats() Stats {
	entries := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:        entries,
		Hits:           hits,
		Misses:         misses,
		StaleServed:    c.staleServed.Load(),
		FetchErrors:    c.fetchErrors.Load(),
		RejectedWrites: c.rejectedWrites.Load(),
		HitRate:        hitRate,
	}
}

func (c *Cache[T]) lookup(key string) (Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.valid(e) {
		return Result[T]{Key: key}, false
	}
	return Result[T]{Payload: e.payload, Key: key, CachedAt: e.cachedAt, FromCache: true}, true
}

func (c *Cache[T]) flightKey(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flightKeyLocked(key)
}

func (c *Cache[T]) flightKeyLocked(key string) string {
	gen := c.floor
	if f := c.keyFloors[key]; f > gen {
		gen = f
	}
	return key + "@" + strconv.FormatUint(gen, 10)
}

// issue hands out the sequence number for a write that starts now.
func (c *Cache[T]) issue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// write stores the payload unless a newer write or an invalidation has
// superseded seq.
func (c *Cache[T]) write(key string, payload T, seq uint64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	if seq <= c.floor || seq <= c.keyFloors[key] {
		c.rejectedWrites.Add(1)
		return now, false
	}
	if cur, ok := c.entries[key]; ok && cur.seq > seq {
		c.rejectedWrites.Add(1)
		return now, false
	}
	c.entries[key] = &entry[T]{payload: payload, cachedAt: now, ttl: c.opts.ttl, seq: seq}
	delete(c.keyFloors, key)
	return now, true
}

// valid must be called with mu held.
func (c *Cache[T]) valid(e *entry[T]) bool {
	return c.opts.now().Sub(e.cachedAt) < e.ttl
}

func (c *Cache[T]) observe(outcome string) {
	if c.opts.observer != nil {
		c.opts.observer.ObserveLookup(outcome)
	}
}
