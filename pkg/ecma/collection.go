package ecma

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
)

// valueCollection is a growable run of values owned by one internal
// property (indexed array values, bound arguments).
type valueCollection struct {
	items []Value
}

func (c *Context) collection(col CollectionRef) *valueCollection {
	return c.collections.At(heap.Ref(col))
}

// NewCollection allocates an empty value collection.
func (c *Context) NewCollection() CollectionRef {
	return CollectionRef(c.collections.Alloc())
}

// AppendToCollection links a copy of v onto the collection. refObjects
// selects the strong copy; bound-argument lists pass false and leave their
// object words to the collector.
func (c *Context) AppendToCollection(col CollectionRef, v Value, refObjects bool) {
	var stored Value
	if refObjects {
		stored = c.CopyValue(v)
	} else {
		stored = c.CopyValueIfNotObject(v)
	}
	vc := c.collection(col)
	vc.items = append(vc.items, stored)
}

// CollectionLen is the number of stored values.
func (c *Context) CollectionLen(col CollectionRef) int {
	return len(c.collection(col).items)
}

// CollectionValue reads the i-th stored value without moving any counts.
func (c *Context) CollectionValue(col CollectionRef, i int) Value {
	vc := c.collection(col)
	fatal.Assert(i >= 0 && i < len(vc.items), "collection index %d out of range", i)
	return vc.items[i]
}

// FreeCollection releases every stored value and the collection itself.
// derefObjects must match the refObjects choice the values were appended
// with.
func (c *Context) FreeCollection(col CollectionRef, derefObjects bool) {
	vc := c.collection(col)
	for _, v := range vc.items {
		if derefObjects {
			c.FreeValue(v)
		} else {
			c.FreeValueIfNotObject(v)
		}
	}
	c.collections.Free(heap.Ref(col))
}
