package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

// collectionSource fetches the raw body of a resource list from the parks API.
type collectionSource interface {
	List(ctx context.Context, session *models.Session, resource string) ([]byte, error)
}

// CollectionSnapshot is an immutable view of one collection as of a fetch.
type CollectionSnapshot struct {
	Key        string
	Records    models.Collection
	FetchedAt  time.Time
	Generation uint64
}

type cacheEntry struct {
	snapshot atomic.Pointer[CollectionSnapshot]
	lastUsed atomic.Int64
}

// store publishes snap unless a snapshot from a later generation already landed.
func (e *cacheEntry) store(snap *CollectionSnapshot) {
	for {
		current := e.snapshot.Load()
		if current != nil && current.Generation > snap.Generation {
			return
		}
		if e.snapshot.CompareAndSwap(current, snap) {
			return
		}
	}
}

// CollectionCacheConfig tunes freshness.
type CollectionCacheConfig struct {
	TTL time.Duration
}

// CollectionCache keeps the last fetched collection per key and user, dedupes
// concurrent fetches, and marks keys stale on mutation so the next read refetches.
type CollectionCache struct {
	source  collectionSource
	shared  *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
	entries     map[string]map[string]*cacheEntry
	subscribers map[string]map[uint64]func(key string)
	nextSubID   uint64
}

// NewCollectionCache constructs the cache. shared may be nil.
func NewCollectionCache(source collectionSource, shared *CacheService, metrics *MetricsService, logger *zap.Logger, cfg CollectionCacheConfig) *CollectionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionCache{
		source:      source,
		shared:      shared,
		metrics:     metrics,
		logger:      logger,
		ttl:         cfg.TTL,
		now:         time.Now,
		generations: make(map[string]uint64),
		entries:     make(map[string]map[string]*cacheEntry),
		subscribers: make(map[string]map[uint64]func(string)),
	}
}

func scopeOf(session *models.Session) string {
	if session == nil || session.UserID == "" {
		return "anonymous"
	}
	return session.UserID
}

func sharedKey(key, scope string) string {
	return fmt.Sprintf("collections:%s:%s", key, scope)
}

func (c *CollectionCache) entryLocked(key, scope string) *cacheEntry {
	scoped, ok := c.entries[key]
	if !ok {
		scoped = make(map[string]*cacheEntry)
		c.entries[key] = scoped
	}
	entry, ok := scoped[scope]
	if !ok {
		entry = &cacheEntry{}
		scoped[scope] = entry
	}
	return entry
}

func (c *CollectionCache) fresh(snap *CollectionSnapshot, generation uint64) bool {
	if snap == nil || snap.Generation != generation {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(snap.FetchedAt) < c.ttl
}

// Fetch returns the collection for the page, serving a fresh snapshot from
// memory or issuing (and sharing) one upstream fetch. A response that lands
// after a newer invalidation is returned to its caller but never replaces a
// newer snapshot.
func (c *CollectionCache) Fetch(ctx context.Context, session *models.Session, def models.PageDefinition) (*CollectionSnapshot, error) {
	key := def.CollectionKey()
	scope := scopeOf(session)

	c.mu.Lock()
	generation := c.generations[key]
	entry := c.entryLocked(key, scope)
	c.mu.Unlock()
	entry.lastUsed.Store(c.now().UnixNano())

	if snap := entry.snapshot.Load(); c.fresh(snap, generation) {
		c.metrics.RecordCollectionLookup("memory", true)
		return snap, nil
	}
	c.metrics.RecordCollectionLookup("memory", false)

	flightKey := fmt.Sprintf("%s|%s|%d", key, scope, generation)
	// the shared fetch outlives any single caller; each caller still honours its own ctx
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.load(loadCtx, session, def, scope, generation, entry)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CollectionSnapshot), nil
	}
}

func (c *CollectionCache) load(ctx context.Context, session *models.Session, def models.PageDefinition, scope string, generation uint64, entry *cacheEntry) (*CollectionSnapshot, error) {
	key := def.CollectionKey()
	redisKey := sharedKey(key, scope)

	var records models.Collection
	hit, err := c.shared.Get(ctx, redisKey, &records)
	if err != nil || !hit {
		body, fetchErr := c.source.List(ctx, session, def.Resource)
		if fetchErr != nil {
			return nil, fetchErr
		}
		records, err = NewRecordSchema(def.Fields).DecodeCollection(body)
		if err != nil {
			c.logger.Warn("malformed collection", zap.String("key", key), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrLoadFailed.Code, appErrors.ErrLoadFailed.Status, "the server returned data in an unexpected shape")
		}
	}

	snap := &CollectionSnapshot{
		Key:        key,
		Records:    sortCollection(records, def.Sort),
		FetchedAt:  c.now(),
		Generation: generation,
	}
	entry.store(snap)

	if !hit && c.currentGeneration(key) == generation {
		_ = c.shared.Set(ctx, redisKey, records, c.ttl)
	}
	return snap, nil
}

func (c *CollectionCache) currentGeneration(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key]
}

// Peek returns the last snapshot for the key and whether it is still fresh.
func (c *CollectionCache) Peek(session *models.Session, key string) (*CollectionSnapshot, bool) {
	c.mu.Lock()
	generation := c.generations[key]
	var snap *CollectionSnapshot
	if scoped, ok := c.entries[key]; ok {
		if entry, ok := scoped[scopeOf(session)]; ok {
			snap = entry.snapshot.Load()
		}
	}
	c.mu.Unlock()
	return snap, c.fresh(snap, generation)
}

// Invalidate marks every key stale for all users and notifies subscribers.
// Stale data stays readable through Peek until the refetch lands.
func (c *CollectionCache) Invalidate(ctx context.Context, keys ...string) error {
	keys = dedupe(keys)
	var notify []func(string)
	var notifyKeys []string

	c.mu.Lock()
	for _, key := range keys {
		c.generations[key]++
		for _, fn := range c.subscribers[key] {
			notify = append(notify, fn)
			notifyKeys = append(notifyKeys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.metrics.RecordInvalidation(key)
	}

	var err error
	if c.shared.Enabled() {
		g, gctx := errgroup.WithContext(ctx)
		for _, key := range keys {
			key := key
			g.Go(func() error {
				return c.shared.Invalidate(gctx, sharedKey(key, "*"))
			})
		}
		err = g.Wait()
	}

	for i, fn := range notify {
		fn(notifyKeys[i])
	}
	c.logger.Debug("collections invalidated", zap.Strings("keys", keys))
	return err
}

// Subscribe registers fn to run after key is invalidated. fn must not block.
func (c *CollectionCache) Subscribe(key string, fn func(key string)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	subs, ok := c.subscribers[key]
	if !ok {
		subs = make(map[uint64]func(string))
		c.subscribers[key] = subs
	}
	subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers[key], id)
			if len(c.subscribers[key]) == 0 {
				delete(c.subscribers, key)
			}
		})
	}
}

// Prune drops per-user entries unused since before cutoff and returns how many went.
func (c *CollectionCache) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, scoped := range c.entries {
		for scope, entry := range scoped {
			if time.Unix(0, entry.lastUsed.Load()).Before(cutoff) {
				delete(scoped, scope)
				removed++
			}
		}
		if len(scoped) == 0 {
			delete(c.entries, key)
		}
	}
	return removed
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
