package ecma

import (
	lru "github.com/hashicorp/golang-lru"

	"siskin/pkg/fatal"
	"siskin/pkg/intern"
)

// cacheKey addresses one lookup row. Rows outlive neither their property
// nor their negative answer: every structural change to an object's named
// set removes the row before the store is consistent again.
type cacheKey struct {
	obj  ObjectRef
	name intern.Ref
}

// CacheStats counts lookup cache traffic.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// lookupCache accelerates FindNamedProperty with an LRU over (object, name)
// rows. A row stores the found property, or NullProperty for a cached
// absence. Properties referenced by a row carry the lcached flag; the
// eviction hook clears it, so a set flag always means a live row and a
// clear flag means none.
type lookupCache struct {
	c        *Context
	rows     *lru.Cache
	stats    CacheStats
	removing bool
}

func newLookupCache(c *Context, size int) *lookupCache {
	lc := &lookupCache{c: c}
	rows, err := lru.NewWithEvict(size, lc.onEvict)
	if err != nil {
		fatal.Trap(fatal.FailedAssertion, "lookup cache size %d: %v", size, err)
	}
	lc.rows = rows
	return lc
}

// onEvict fires for capacity evictions and explicit removals alike.
func (lc *lookupCache) onEvict(_, value interface{}) {
	if lc.removing {
		lc.stats.Invalidations++
	} else {
		lc.stats.Evictions++
	}
	if p := value.(PropertyRef); p != NullProperty {
		lc.c.setLCached(p, false)
	}
}

// lookup answers from the cache. The second result reports whether a row
// existed; a true result with NullProperty is a cached absence.
func (lc *lookupCache) lookup(o ObjectRef, name intern.Ref) (PropertyRef, bool) {
	v, ok := lc.rows.Get(cacheKey{obj: o, name: name})
	if !ok {
		lc.stats.Misses++
		return NullProperty, false
	}
	lc.stats.Hits++
	return v.(PropertyRef), true
}

// insert records a scan outcome, found or absent.
func (lc *lookupCache) insert(o ObjectRef, name intern.Ref, p PropertyRef) {
	if p != NullProperty {
		lc.c.setLCached(p, true)
	}
	lc.rows.Add(cacheKey{obj: o, name: name}, p)
}

// invalidate removes the row for (o, name) if one exists.
func (lc *lookupCache) invalidate(o ObjectRef, name intern.Ref) {
	lc.removing = true
	lc.rows.Remove(cacheKey{obj: o, name: name})
	lc.removing = false
}
