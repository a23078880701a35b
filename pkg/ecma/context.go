// Package ecma implements the object and property representation core of an
// embedded ECMAScript engine: packed 16-bit descriptor headers shared by
// objects and lexical environments, singly-linked property stores, a
// property lookup cache, the property descriptor bridge, and reference
// counted compiled-code blocks.
package ecma

import (
	"github.com/dlclark/regexp2"

	"siskin/pkg/config"
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

// Context owns every pool an engine instance allocates from. All descriptor,
// property, value and code operations go through one context. A context is
// confined to a single goroutine; nothing here locks.
type Context struct {
	objects     *heap.Pool[object]
	props       *heap.Pool[property]
	pairs       *heap.Pool[accessorPair]
	numbers     *heap.Pool[float64]
	collections *heap.Pool[valueCollection]
	code        *heap.Arena
	strings     *intern.Table
	lcache      *lookupCache

	// Side tables for state the packed records cannot carry.
	regexps    map[CodeRef]*regexp2.Regexp
	natives    map[uint32]any
	nextNative uint32
}

// NewContext reserves pools per the given limits, which must validate.
func NewContext(lim config.Limits) *Context {
	if err := lim.Validate(); err != nil {
		fatal.Trap(fatal.OutOfMemory, "bad limits: %v", err)
	}
	c := &Context{
		objects:     heap.NewPool[object]("object", lim.Objects),
		props:       heap.NewPool[property]("property", lim.Properties),
		pairs:       heap.NewPool[accessorPair]("accessor pair", lim.Pairs),
		numbers:     heap.NewPool[float64]("number", lim.Numbers),
		collections: heap.NewPool[valueCollection]("collection", lim.Collections),
		code:        heap.NewArena("code", lim.CodeArena),
		strings:     intern.NewTable(lim.Strings),
		regexps:     make(map[CodeRef]*regexp2.Regexp),
		natives:     make(map[uint32]any),
	}
	c.lcache = newLookupCache(c, lim.LookupCache)
	return c
}

// Strings is the context's interned name table.
func (c *Context) Strings() *intern.Table { return c.strings }

// RegisterNative parks a host value and returns the token internal
// properties store for it. Token 0 is never issued.
func (c *Context) RegisterNative(v any) uint32 {
	c.nextNative++
	c.natives[c.nextNative] = v
	return c.nextNative
}

// Native resolves a token issued by RegisterNative.
func (c *Context) Native(token uint32) (any, bool) {
	v, ok := c.natives[token]
	return v, ok
}

func (c *Context) dropNative(token uint32) {
	delete(c.natives, token)
}

// Stats is a point-in-time occupancy snapshot of a context.
type Stats struct {
	ObjectsLive     int
	PropsLive       int
	PairsLive       int
	NumbersLive     int
	CollectionsLive int
	StringsLive     int
	CodeInUse       int
	CodeSize        int
	Lookup          CacheStats
}

func (c *Context) Stats() Stats {
	return Stats{
		ObjectsLive:     c.objects.Live(),
		PropsLive:       c.props.Live(),
		PairsLive:       c.pairs.Live(),
		NumbersLive:     c.numbers.Live(),
		CollectionsLive: c.collections.Live(),
		StringsLive:     c.strings.Live(),
		CodeInUse:       c.code.InUse(),
		CodeSize:        c.code.Size(),
		Lookup:          c.lcache.stats,
	}
}
