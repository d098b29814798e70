package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	dispute "github.com/goliatone/go-dispute"
)

const (
	DefaultTTL        = time.Hour
	DefaultCapacity   = 100
	DefaultEvictBatch = 10
)

// GenerateFunc produces a proposal on a cache miss. Errors are never cached.
type GenerateFunc func(ctx context.Context) (dispute.ResolutionProposal, error)

// Option configures a ResolutionCache.
type Option func(*ResolutionCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ResolutionCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCapacity(n int) Option {
	return func(c *ResolutionCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithEvictBatch(n int) Option {
	return func(c *ResolutionCache) {
		if n > 0 {
			c.evictBatch = n
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResolutionCache) {
		if now != nil {
			c.now = now
		}
	}
}

type entry struct {
	proposal dispute.ResolutionProposal
	storedAt time.Time
	seq      uint64
}

// ResolutionCache is a TTL and capacity bounded proposal cache keyed by
// fingerprint. Concurrent misses on one key share a single generation.
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	ttl        time.Duration
	capacity   int
	evictBatch int
	now        func() time.Time

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New builds a cache with defaults of one hour TTL, 100 entries and
// batch eviction of the 10 oldest.
func New(opts ...Option) *ResolutionCache {
	c := &ResolutionCache{
		entries:    make(map[string]*entry),
		ttl:        DefaultTTL,
		capacity:   DefaultCapacity,
		evictBatch: DefaultEvictBatch,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns a live entry for the fingerprint.
func (c *ResolutionCache) Get(fp Fingerprint) (dispute.ResolutionProposal, bool) {
	return c.lookup(fp.Key())
}

// GetOrGenerate returns the cached proposal for fp, or calls fn and caches
// its result. The bool reports whether the value came from the cache.
//
// The shared call runs detached from any one caller's cancellation, so a
// caller that gives up only stops its own wait. fn must bound its own work.
func (c *ResolutionCache) GetOrGenerate(ctx context.Context, fp Fingerprint, fn GenerateFunc) (dispute.ResolutionProposal, bool, error) {
	key := fp.Key()
	if p, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return p, true, nil
	}

	var ran atomic.Bool
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if p, ok := c.lookup(key); ok {
			return p, nil
		}
		ran.Store(true)
		c.misses.Add(1)
		p, err := fn(shared)
		if err != nil {
			return nil, err
		}
		p.FromCache = false
		c.put(key, p)
		return p, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return dispute.ResolutionProposal{}, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return dispute.ResolutionProposal{}, false, res.Err
	}
	raw := res.Val.(dispute.ResolutionProposal)
	p := *raw.Clone()
	if ran.Load() {
		return p, false, nil
	}
	c.hits.Add(1)
	p.FromCache = true
	return p, true, nil
}

// Purge drops stale entries and returns how many were removed.
func (c *ResolutionCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired.Add(int64(removed))
	return removed
}

// Clear drops every entry and returns how many were removed.
func (c *ResolutionCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	return n
}

// Len returns the number of entries, stale ones included.
func (c *ResolutionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	Expired   int64         `json:"expired"`
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	HitRate   float64       `json:"hit_rate"`
}

func (c *ResolutionCache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Size:      c.Len(),
		Capacity:  c.capacity,
		TTL:       c.ttl,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *ResolutionCache) lookup(key string) (dispute.ResolutionProposal, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return dispute.ResolutionProposal{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
			c.expired.Add(1)
		}
		c.mu.Unlock()
		return dispute.ResolutionProposal{}, false
	}
	out := *e.proposal.Clone()
	out.FromCache = true
	return out, true
}

func (c *ResolutionCache) put(key string, p dispute.ResolutionProposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[key] = &entry{proposal: *p.Clone(), storedAt: c.now(), seq: c.seq}
	if len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *ResolutionCache) evictOldestLocked() {
	type aged struct {
		key string
		e   *entry
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, e: e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.storedAt.Equal(all[j].e.storedAt) {
			return all[i].e.seq < all[j].e.seq
		}
		return all[i].e.storedAt.Before(all[j].e.storedAt)
	})
	n := c.evictBatch
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
	c.evictions.Add(int64(n))
}
