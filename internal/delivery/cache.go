package delivery

import (
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/wire"
)

// evictionTargetRatio is how far Put evicts below a cap once it's
// exceeded: down to half capacity, not just back under the line, so a
// steady trickle of new objects doesn't force an eviction pass on every
// single Put.
const evictionTargetRatio = 0.5

type objKey struct {
	groupID  uint64
	objectID uint64
}

type cacheEntry struct {
	obj        object.MoqObject
	insertedAt time.Time
}

type trackCache struct {
	track   wire.Namespace
	objects map[objKey]*cacheEntry
	order   []objKey // oldest first
}

// CacheConfig bounds a Cache's memory and per-track object counts.
type CacheConfig struct {
	// MaxBytes is the global byte budget across all tracks. Zero means
	// unlimited.
	MaxBytes int64
	// MaxObjectsPerTrack bounds how many objects a single track retains.
	// Zero means unlimited.
	MaxObjectsPerTrack int
	// TTL is how long an object is retained after insertion before Sweep
	// removes it. Zero disables TTL expiry.
	TTL time.Duration
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

// Cache retains recently delivered objects per track so a late-joining
// subscriber can be replayed the current group (and, for audio, a short
// backlog) without waiting for the next live object.
type Cache struct {
	cfg CacheConfig
	clk clock.Clock

	mu          sync.Mutex
	tracks      map[wire.NamespaceKey]*trackCache
	globalOrder []globalRef
	totalBytes  int64
}

type globalRef struct {
	trackKey wire.NamespaceKey
	key      objKey
}

// NewCache constructs a Cache from cfg.
func NewCache(cfg CacheConfig) *Cache {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		cfg:    cfg,
		clk:    clk,
		tracks: make(map[wire.NamespaceKey]*trackCache),
	}
}

// Put inserts obj into track's cache, evicting older objects if the
// per-track or global cap would otherwise be exceeded. It returns
// TrackCacheFull or CacheFull if eviction cannot make room (the object
// alone exceeds the cap).
func (c *Cache) Put(track wire.Namespace, obj object.MoqObject) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := track.Key()
	tc, ok := c.tracks[key]
	if !ok {
		tc = &trackCache{track: track, objects: make(map[objKey]*cacheEntry)}
		c.tracks[key] = tc
	}

	if c.cfg.MaxObjectsPerTrack > 0 && len(tc.order) >= c.cfg.MaxObjectsPerTrack {
		target := int(float64(c.cfg.MaxObjectsPerTrack) * evictionTargetRatio)
		c.evictTrack(tc, target)
		if len(tc.order) >= c.cfg.MaxObjectsPerTrack {
			return &errs.TrackCacheFull{Track: string(track.TrackName), Current: len(tc.order), Max: c.cfg.MaxObjectsPerTrack}
		}
	}

	if c.cfg.MaxBytes > 0 && c.totalBytes+int64(obj.Size) > c.cfg.MaxBytes {
		target := int64(float64(c.cfg.MaxBytes) * evictionTargetRatio)
		c.evictGlobal(target)
		if c.totalBytes+int64(obj.Size) > c.cfg.MaxBytes {
			return &errs.CacheFull{Current: c.totalBytes, Max: c.cfg.MaxBytes}
		}
	}

	ok2 := objKey{groupID: obj.GroupID, objectID: obj.ObjectID}
	if old, exists := tc.objects[ok2]; !exists {
		tc.order = append(tc.order, ok2)
		c.globalOrder = append(c.globalOrder, globalRef{trackKey: key, key: ok2})
	} else {
		c.totalBytes -= int64(old.obj.Size)
	}
	tc.objects[ok2] = &cacheEntry{obj: obj, insertedAt: c.clk.Now()}
	c.totalBytes += int64(obj.Size)
	return nil
}

// Get returns the cached object for (groupID, objectID) on track, if
// present.
func (c *Cache) Get(track wire.Namespace, groupID, objectID uint64) (object.MoqObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.tracks[track.Key()]
	if !ok {
		return object.MoqObject{}, false
	}
	entry, ok := tc.objects[objKey{groupID: groupID, objectID: objectID}]
	if !ok {
		return object.MoqObject{}, false
	}
	return entry.obj, true
}

// GroupObjects returns every cached object for (track, groupID), in
// ascending object ID order, for replaying a full group to a new
// subscriber.
func (c *Cache) GroupObjects(track wire.Namespace, groupID uint64) []object.MoqObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.tracks[track.Key()]
	if !ok {
		return nil
	}
	var out []object.MoqObject
	for _, k := range tc.order {
		if k.groupID != groupID {
			continue
		}
		if entry, ok := tc.objects[k]; ok {
			out = append(out, entry.obj)
		}
	}
	return out
}

// Sweep removes every entry older than TTL, returning the count removed.
// A zero TTL disables sweeping.
func (c *Cache) Sweep() int {
	if c.cfg.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	removed := 0
	for _, tc := range c.tracks {
		kept := tc.order[:0]
		for _, k := range tc.order {
			entry := tc.objects[k]
			if now.Sub(entry.insertedAt) > c.cfg.TTL {
				delete(tc.objects, k)
				c.totalBytes -= int64(entry.obj.Size)
				removed++
				continue
			}
			kept = append(kept, k)
		}
		tc.order = kept
	}
	c.compactGlobalOrder()
	return removed
}

// evictTrack drops the oldest entries in tc until its object count is at
// most target.
func (c *Cache) evictTrack(tc *trackCache, target int) {
	i := 0
	for len(tc.order)-i > target {
		entry := tc.objects[tc.order[i]]
		delete(tc.objects, tc.order[i])
		c.totalBytes -= int64(entry.obj.Size)
		i++
	}
	tc.order = tc.order[i:]
}

// evictGlobal drops the oldest entries across all tracks (by global
// insertion order) until totalBytes is at most target.
func (c *Cache) evictGlobal(target int64) {
	i := 0
	for c.totalBytes > target && i < len(c.globalOrder) {
		ref := c.globalOrder[i]
		tc, ok := c.tracks[ref.trackKey]
		if ok {
			if entry, ok := tc.objects[ref.key]; ok {
				delete(tc.objects, ref.key)
				c.totalBytes -= int64(entry.obj.Size)
				tc.order = removeKey(tc.order, ref.key)
			}
		}
		i++
	}
	c.globalOrder = c.globalOrder[i:]
}

func (c *Cache) compactGlobalOrder() {
	kept := c.globalOrder[:0]
	for _, ref := range c.globalOrder {
		tc, ok := c.tracks[ref.trackKey]
		if !ok {
			continue
		}
		if _, ok := tc.objects[ref.key]; ok {
			kept = append(kept, ref)
		}
	}
	c.globalOrder = kept
}

func removeKey(order []objKey, key objKey) []objKey {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// TotalBytes returns the cache's current global byte usage.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}
