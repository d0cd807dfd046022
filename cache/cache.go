// Package cache holds parsed artifacts keyed by repository, commit and path.
// Loads are deduplicated per key with singleflight; invalidation bumps a per-repository
// generation so loads that started before it never store their result.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/ctxutil"
)

// Defaults for New.
const (
	// DefaultTTL is the lifetime of an entry unless WithTTL is given.
	DefaultTTL = 5 * time.Minute
	// DefaultLoadTimeout bounds one shared load unless WithLoadTimeout is given.
	DefaultLoadTimeout = 2 * time.Minute
)

// Key identifies one cached artifact. Hash is a full commit hash, never a branch name,
// so moving a branch cannot serve stale content.
type Key struct {
	Repo string
	Hash string
	Path string
}

// LoadFunc produces the artifact for a key on a miss.
type LoadFunc func(ctx context.Context) (*promptgit.Artifact, error)

type entry struct {
	artifact   *promptgit.Artifact
	insertedAt time.Time
}

// Stats are cumulative counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Loads   uint64 `json:"loads"`
	Entries int    `json:"entries"`
}

// Cache is safe for concurrent use. Records it returns are shared and must not be mutated.
type Cache struct {
	ttl         time.Duration
	maxEntries  int
	loadTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	store store
	gens  map[string]uint64 // per-repo generation
	epoch uint64            // bumped by Purge

	sf singleflight.Group

	hits, misses, loads atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets entry lifetime. Zero or negative disables storage: every lookup is a miss
// and only concurrent loads are shared.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted first. 0 means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithLoadTimeout bounds one load. Every caller sharing the load sees the same bound,
// whatever the deadline of the caller that started it. Zero or negative means no bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.loadTimeout = d
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:         DefaultTTL,
		loadTimeout: DefaultLoadTimeout,
		logger:      slog.Default(),
		now:         time.Now,
		gens:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = newStore(c.maxEntries)
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) lookup(key Key) (*promptgit.Artifact, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store.get(key)
	if !ok || c.now().Sub(e.insertedAt) >= c.ttl {
		return nil, false
	}
	return e.artifact, true
}

type generation struct{ epoch, repo uint64 }

func (c *Cache) generation(repo string) generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return generation{epoch: c.epoch, repo: c.gens[repo]}
}

// GetOrLoad returns the cached artifact for key or calls load. At most one load per key
// and generation runs at a time; concurrent callers share its result. The load runs on a
// context that keeps ctx's values but not its cancellation or deadline, bounded by the load
// timeout instead, so a caller that gives up returns ctx.Err() while the load completes for
// the others.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, load LoadFunc) (*promptgit.Artifact, error) {
	if a, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return a, nil
	}
	c.misses.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gen := c.generation(key.Repo)
	sfKey := fmt.Sprintf("%s\x00%s\x00%s\x00%d.%d", key.Repo, key.Hash, key.Path, gen.epoch, gen.repo)
	ch := c.sf.DoChan(sfKey, func() (any, error) {
		if a, ok := c.lookup(key); ok {
			return a, nil
		}
		loadCtx, cancel := ctxutil.Detach(ctx, c.loadTimeout)
		defer cancel()
		c.loads.Add(1)
		a, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.put(key, gen, a)
		return a, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*promptgit.Artifact), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) put(key Key, gen generation, a *promptgit.Artifact) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != gen.epoch || c.gens[key.Repo] != gen.repo {
		c.logger.Debug("discarding load started before invalidation", "repo", key.Repo, "hash", key.Hash, "path", key.Path)
		return
	}
	c.store.add(key, &entry{artifact: a, insertedAt: c.now()})
}

// Invalidate removes entries of repo. An empty hash matches every version and an empty path
// every artifact: ("r", "", "") clears the repository, ("r", h, "") one version, ("r", h, p) one entry.
// Loads of repo that are in flight will not store their results. Returns the number removed.
func (c *Cache) Invalidate(repo, hash, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[repo]++
	n := 0
	for _, k := range c.store.keys() {
		if k.Repo != repo || (hash != "" && k.Hash != hash) || (path != "" && k.Path != path) {
			continue
		}
		c.store.remove(k)
		n++
	}
	c.logger.Debug("cache invalidated", "repo", repo, "hash", hash, "path", path, "removed", n)
	return n
}

// InvalidateRepo clears every entry of repo.
func (c *Cache) InvalidateRepo(repo string) {
	c.Invalidate(repo, "", "")
}

// Purge clears the whole cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.store.purge()
}

// Prune removes expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, k := range c.store.keys() {
		e, ok := c.store.peek(k)
		if ok && now.Sub(e.insertedAt) >= c.ttl {
			c.store.remove(k)
			n++
		}
	}
	return n
}

// StartJanitor prunes expired entries every interval until stop is called.
func (c *Cache) StartJanitor(interval time.Duration) (stop func()) {
	return ctxutil.Ticker(interval, func(context.Context) {
		if n := c.Prune(); n > 0 {
			c.logger.Debug("pruned expired cache entries", "removed", n)
		}
	})
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.len()
}

// Stats returns cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Loads:   c.loads.Load(),
		Entries: c.Len(),
	}
}

// store is the entry container; callers hold Cache.mu.
type store interface {
	get(Key) (*entry, bool)
	peek(Key) (*entry, bool)
	add(Key, *entry)
	remove(Key)
	keys() []Key
	len() int
	purge()
}

func newStore(maxEntries int) store {
	if maxEntries <= 0 {
		return mapStore{}
	}
	l, err := lru.New[Key, *entry](maxEntries)
	if err != nil {
		return mapStore{}
	}
	return lruStore{l}
}

type mapStore map[Key]*entry

func (m mapStore) get(k Key) (*entry, bool) {
	e, ok := m[k]
	return e, ok
}

func (m mapStore) peek(k Key) (*entry, bool) { return m.get(k) }
func (m mapStore) add(k Key, e *entry) { m[k] = e }
func (m mapStore) remove(k Key) { delete(m, k) }
func (m mapStore) len() int { return len(m) }
func (m mapStore) purge() { clear(m) }

func (m mapStore) keys() []Key {
	out := make([]Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type lruStore struct{ l *lru.Cache[Key, *entry] }

func (s lruStore) get(k Key) (*entry, bool) { return s.l.Get(k) }
func (s lruStore) peek(k Key) (*entry, bool) { return s.l.Peek(k) }
func (s lruStore) add(k Key, e *entry) { s.l.Add(k, e) }
func (s lruStore) remove(k Key) { s.l.Remove(k) }
func (s lruStore) keys() []Key { return s.l.Keys() }
func (s lruStore) len() int { return s.l.Len() }
func (s lruStore) purge() { s.l.Purge() }
