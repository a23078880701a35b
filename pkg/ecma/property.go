package ecma

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

// PropertyKind discriminates the three property record kinds.
type PropertyKind uint8

const (
	KindNamedData PropertyKind = iota + 1
	KindNamedAccessor
	KindInternal
)

func (k PropertyKind) String() string {
	switch k {
	case KindNamedData:
		return "named data"
	case KindNamedAccessor:
		return "named accessor"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// InternalID identifies an engine-private slot. The set is closed: the free
// dispatcher handles every id and traps on anything else. Prototype and
// Extensible are listed for completeness but live in the descriptor header,
// never in the property list.
type InternalID uint8

const (
	InternalPrototype InternalID = iota
	InternalExtensible
	InternalClass
	InternalScope
	InternalParametersMap
	InternalPrimitiveStringValue
	InternalPrimitiveNumberValue
	InternalPrimitiveBooleanValue
	InternalNumberIndexedArrayValues
	InternalStringIndexedArrayValues
	InternalBoundTargetFunction
	InternalBoundThis
	InternalBoundArgs
	InternalCode
	InternalRegExpCode
	InternalNativeCode
	InternalNativeHandle
	InternalFreeCallback
	InternalBuiltInID
	InternalBuiltInRoutineDesc
	InternalInstantiatedMask0_31
	InternalInstantiatedMask32_63

	internalIDCount
)

const (
	propKindData     uint8 = 1 << 0
	propKindAccessor uint8 = 1 << 1
	propKindInternal uint8 = 1 << 2

	propWritable     uint8 = 1 << 3
	propEnumerable   uint8 = 1 << 4
	propConfigurable uint8 = 1 << 5
	propLCached      uint8 = 1 << 6
)

// property is one store record. The three payload words reinterpret by
// kind: named kinds keep the interned name in word0; a data value rides
// split across aux (bits 16..23) and word1 (bits 0..15); an accessor keeps
// its pair ref in word1; an internal record keeps its id in aux and a raw
// 32-bit payload across word0/word1.
type property struct {
	flags uint8
	aux   uint8
	next  heap.Ref
	word0 uint16
	word1 uint16
}

// accessorPair is the separately allocated getter/setter block of one named
// accessor property. Both links are nullable and uncounted.
type accessorPair struct {
	getter heap.Ref
	setter heap.Ref
}

func (c *Context) prop(p PropertyRef) *property {
	return c.props.At(heap.Ref(p))
}

func (pr *property) dataValue() Value {
	return Value(pr.aux)<<16 | Value(pr.word1)
}

func (pr *property) setDataValue(v Value) {
	pr.aux = uint8(v >> 16)
	pr.word1 = uint16(v)
}

func (pr *property) internalPayload() uint32 {
	return uint32(pr.word0) | uint32(pr.word1)<<16
}

func (pr *property) setInternalPayload(v uint32) {
	pr.word0 = uint16(v)
	pr.word1 = uint16(v >> 16)
}

func (c *Context) linkProperty(o ObjectRef, p PropertyRef) {
	c.prop(p).next = heap.Ref(c.PropertyList(o))
	c.setPropertyList(o, p)
}

// findNamedInList is the cache-free scan behind FindNamedProperty and the
// duplicate checks.
func (c *Context) findNamedInList(o ObjectRef, name intern.Ref) PropertyRef {
	for p := c.PropertyList(o); p != NullProperty; p = c.NextProperty(p) {
		pr := c.prop(p)
		if pr.flags&(propKindData|propKindAccessor) == 0 {
			continue
		}
		if intern.Ref(pr.word0) == name {
			return p
		}
	}
	return NullProperty
}

// CreateNamedDataProperty allocates a data property holding Undefined and
// pushes it at the head of o's list. The name must not already be present
// on o. The record takes its own reference on the name.
func (c *Context) CreateNamedDataProperty(o ObjectRef, name intern.Ref, writable, enumerable, configurable bool) PropertyRef {
	fatal.Assert(name != intern.Null, "property needs a name")
	if fatal.Checks {
		fatal.Assert(c.findNamedInList(o, name) == NullProperty,
			"duplicate property %q", c.strings.Value(name))
	}

	p := PropertyRef(c.props.Alloc())
	pr := c.prop(p)

	c.strings.Retain(name)
	pr.word0 = uint16(name)

	pr.flags = propKindData
	if writable {
		pr.flags |= propWritable
	}
	if enumerable {
		pr.flags |= propEnumerable
	}
	if configurable {
		pr.flags |= propConfigurable
	}
	pr.setDataValue(Undefined)

	c.linkProperty(o, p)
	c.lcache.invalidate(o, name)
	return p
}

// CreateNamedAccessorProperty allocates an accessor property with its
// getter/setter pair block and pushes it at the head of o's list. The pair
// is wired through the checked setters once the property is linked.
func (c *Context) CreateNamedAccessorProperty(o ObjectRef, name intern.Ref, getter, setter ObjectRef, enumerable, configurable bool) PropertyRef {
	fatal.Assert(name != intern.Null, "property needs a name")
	if fatal.Checks {
		fatal.Assert(c.findNamedInList(o, name) == NullProperty,
			"duplicate property %q", c.strings.Value(name))
	}

	p := PropertyRef(c.props.Alloc())
	pr := c.prop(p)

	c.strings.Retain(name)
	pr.word0 = uint16(name)

	pr.flags = propKindAccessor
	if enumerable {
		pr.flags |= propEnumerable
	}
	if configurable {
		pr.flags |= propConfigurable
	}
	pr.word1 = uint16(c.pairs.Alloc())

	c.linkProperty(o, p)
	c.lcache.invalidate(o, name)

	c.SetAccessorGetter(o, p, getter)
	c.SetAccessorSetter(o, p, setter)
	return p
}

// CreateInternalProperty allocates an internal slot with a zero payload.
// The id must not already be present on o and must be one of the ids that
// are stored as list entries.
func (c *Context) CreateInternalProperty(o ObjectRef, id InternalID) PropertyRef {
	fatal.Assert(id < internalIDCount, "internal id %d out of range", id)
	fatal.Assert(id != InternalPrototype && id != InternalExtensible,
		"internal id %d lives in the descriptor header", id)
	if fatal.Checks {
		fatal.Assert(c.FindInternalProperty(o, id) == NullProperty,
			"duplicate internal property %d", id)
	}

	p := PropertyRef(c.props.Alloc())
	pr := c.prop(p)
	pr.flags = propKindInternal
	pr.aux = uint8(id)

	c.linkProperty(o, p)
	return p
}

// FindNamedProperty is the one authoritative named lookup. The cache
// answers first, positively or negatively; on a cache miss the list is
// scanned and the outcome, found or absent, is inserted so repeated misses
// stay cheap. Internal properties are invisible here.
func (c *Context) FindNamedProperty(o ObjectRef, name intern.Ref) PropertyRef {
	fatal.Assert(name != intern.Null, "lookup needs a name")
	if p, hit := c.lcache.lookup(o, name); hit {
		return p
	}
	p := c.findNamedInList(o, name)
	c.lcache.insert(o, name, p)
	return p
}

// GetNamedProperty is FindNamedProperty for a property that must exist.
func (c *Context) GetNamedProperty(o ObjectRef, name intern.Ref) PropertyRef {
	p := c.FindNamedProperty(o, name)
	fatal.Assert(p != NullProperty, "missing property %q", c.strings.Value(name))
	return p
}

// GetNamedDataProperty is FindNamedProperty for a property that must exist
// and must be a data property.
func (c *Context) GetNamedDataProperty(o ObjectRef, name intern.Ref) PropertyRef {
	p := c.FindNamedProperty(o, name)
	fatal.Assert(p != NullProperty, "missing property %q", c.strings.Value(name))
	fatal.Assert(c.prop(p).flags&propKindData != 0, "property %q is not a data property", c.strings.Value(name))
	return p
}

// FindInternalProperty scans for an internal slot by id. Internal lookups
// never touch the cache.
func (c *Context) FindInternalProperty(o ObjectRef, id InternalID) PropertyRef {
	fatal.Assert(id != InternalPrototype && id != InternalExtensible,
		"internal id %d lives in the descriptor header", id)
	for p := c.PropertyList(o); p != NullProperty; p = c.NextProperty(p) {
		pr := c.prop(p)
		if pr.flags&propKindInternal != 0 && InternalID(pr.aux) == id {
			return p
		}
	}
	return NullProperty
}

// GetInternalProperty is FindInternalProperty for a slot that must exist.
func (c *Context) GetInternalProperty(o ObjectRef, id InternalID) PropertyRef {
	p := c.FindInternalProperty(o, id)
	fatal.Assert(p != NullProperty, "missing internal property %d", id)
	return p
}

// DeleteProperty unlinks p from o's list and frees it. p must be present
// in the list; anything else means the store is corrupt.
func (c *Context) DeleteProperty(o ObjectRef, p PropertyRef) {
	prev := NullProperty
	for cur := c.PropertyList(o); cur != NullProperty; cur = c.NextProperty(cur) {
		if cur == p {
			if prev == NullProperty {
				c.setPropertyList(o, c.NextProperty(cur))
			} else {
				c.prop(prev).next = heap.Ref(c.NextProperty(cur))
			}
			c.FreeProperty(o, p)
			return
		}
		prev = cur
	}
	fatal.Unreachable("deleted property not in its owner's list")
}

// FreeProperty releases everything p owns and returns the record to the
// pool. Unlinking is the caller's business: p must already be off o's list,
// or the whole list must be getting torn down. Named kinds drop their cache
// entry before the record goes away.
func (c *Context) FreeProperty(o ObjectRef, p PropertyRef) {
	pr := c.prop(p)
	switch {
	case pr.flags&propKindData != 0:
		name := intern.Ref(pr.word0)
		if pr.flags&propLCached != 0 {
			c.lcache.invalidate(o, name)
		}
		c.strings.Release(name)
		c.FreeValueIfNotObject(pr.dataValue())
	case pr.flags&propKindAccessor != 0:
		name := intern.Ref(pr.word0)
		if pr.flags&propLCached != 0 {
			c.lcache.invalidate(o, name)
		}
		c.strings.Release(name)
		c.pairs.Free(heap.Ref(pr.word1))
	case pr.flags&propKindInternal != 0:
		c.freeInternal(pr)
	default:
		fatal.Unreachable("property record with no kind")
	}
	c.props.Free(heap.Ref(p))
}

func (c *Context) freeInternal(pr *property) {
	id := InternalID(pr.aux)
	payload := pr.internalPayload()
	switch id {
	case InternalNumberIndexedArrayValues, InternalStringIndexedArrayValues:
		c.FreeCollection(CollectionRef(payload), true)
	case InternalPrimitiveStringValue:
		c.strings.Release(intern.Ref(payload))
	case InternalPrimitiveNumberValue:
		c.freeNumber(NumberRef(payload))
	case InternalNativeCode, InternalNativeHandle, InternalFreeCallback:
		c.dropNative(payload)
	case InternalBoundThis:
		c.FreeValueIfNotObject(Value(payload))
	case InternalBoundArgs:
		if CollectionRef(payload) != NullCollection {
			c.FreeCollection(CollectionRef(payload), false)
		}
	case InternalCode:
		c.DerefCode(CodeRef(payload))
	case InternalRegExpCode:
		if CodeRef(payload) != NullCode {
			c.DerefCode(CodeRef(payload))
		}
	case InternalPrimitiveBooleanValue,
		InternalClass, InternalScope, InternalParametersMap,
		InternalBoundTargetFunction,
		InternalBuiltInID, InternalBuiltInRoutineDesc,
		InternalInstantiatedMask0_31, InternalInstantiatedMask32_63:
		// plain words and uncounted links
	case InternalPrototype, InternalExtensible:
		fatal.Unreachable("header-resident id in the property list")
	default:
		fatal.Unreachable("internal property id outside the closed set")
	}
}

// NextProperty follows the list link.
func (c *Context) NextProperty(p PropertyRef) PropertyRef {
	return PropertyRef(c.prop(p).next)
}

// KindOf discriminates the record kind.
func (c *Context) KindOf(p PropertyRef) PropertyKind {
	pr := c.prop(p)
	switch {
	case pr.flags&propKindData != 0:
		return KindNamedData
	case pr.flags&propKindAccessor != 0:
		return KindNamedAccessor
	case pr.flags&propKindInternal != 0:
		return KindInternal
	}
	fatal.Unreachable("property record with no kind")
	return 0
}

// NameOf is the interned name of a named property.
func (c *Context) NameOf(p PropertyRef) intern.Ref {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "internal properties have no name")
	return intern.Ref(pr.word0)
}

// InternalIDOf is the slot id of an internal property.
func (c *Context) InternalIDOf(p PropertyRef) InternalID {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindInternal != 0, "not an internal property")
	return InternalID(pr.aux)
}

// NamedDataValue reads the stored value without moving any counts.
func (c *Context) NamedDataValue(p PropertyRef) Value {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindData != 0, "not a data property")
	return pr.dataValue()
}

// AssignNamedDataValue replaces the stored value. When both the old and the
// new value are boxed numbers the float is written through the existing box,
// keeping the box identity stable; otherwise the old value is released and a
// non-object copy of the new one is stored.
func (c *Context) AssignNamedDataValue(o ObjectRef, p PropertyRef, v Value) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindData != 0, "not a data property")
	c.assertContains(o, p)

	old := pr.dataValue()
	if v.IsNumber() && old.IsNumber() {
		*c.numbers.At(heap.Ref(old.AsNumber())) = c.NumberFloat(v.AsNumber())
		return
	}
	c.FreeValueIfNotObject(old)
	pr.setDataValue(c.CopyValueIfNotObject(v))
}

// InternalPayload reads the raw 32-bit payload word.
func (c *Context) InternalPayload(p PropertyRef) uint32 {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindInternal != 0, "not an internal property")
	return pr.internalPayload()
}

// SetInternalPayload stores the raw 32-bit payload word. Its interpretation
// is fixed by the slot id; no counts move here.
func (c *Context) SetInternalPayload(p PropertyRef, v uint32) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindInternal != 0, "not an internal property")
	pr.setInternalPayload(v)
}

func (c *Context) accessorOf(p PropertyRef) *accessorPair {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindAccessor != 0, "not an accessor property")
	return c.pairs.At(heap.Ref(pr.word1))
}

// AccessorGetter reads the getter link, possibly null.
func (c *Context) AccessorGetter(p PropertyRef) ObjectRef {
	return ObjectRef(c.accessorOf(p).getter)
}

// AccessorSetter reads the setter link, possibly null.
func (c *Context) AccessorSetter(p PropertyRef) ObjectRef {
	return ObjectRef(c.accessorOf(p).setter)
}

// SetAccessorGetter stores the getter link. The link is uncounted; the
// collector tracks the edge. p must already hang off o.
func (c *Context) SetAccessorGetter(o ObjectRef, p PropertyRef, getter ObjectRef) {
	c.assertContains(o, p)
	c.accessorOf(p).getter = heap.Ref(getter)
}

// SetAccessorSetter stores the setter link under the same rules as
// SetAccessorGetter.
func (c *Context) SetAccessorSetter(o ObjectRef, p PropertyRef, setter ObjectRef) {
	c.assertContains(o, p)
	c.accessorOf(p).setter = heap.Ref(setter)
}

// IsWritable reads the writable attribute. Data properties only.
func (c *Context) IsWritable(p PropertyRef) bool {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindData != 0, "writable is a data attribute")
	return pr.flags&propWritable != 0
}

func (c *Context) SetWritable(p PropertyRef, writable bool) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&propKindData != 0, "writable is a data attribute")
	if writable {
		pr.flags |= propWritable
	} else {
		pr.flags &^= propWritable
	}
}

// IsEnumerable reads the enumerable attribute. Named properties only.
func (c *Context) IsEnumerable(p PropertyRef) bool {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "enumerable is a named attribute")
	return pr.flags&propEnumerable != 0
}

func (c *Context) SetEnumerable(p PropertyRef, enumerable bool) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "enumerable is a named attribute")
	if enumerable {
		pr.flags |= propEnumerable
	} else {
		pr.flags &^= propEnumerable
	}
}

// IsConfigurable reads the configurable attribute. Named properties only.
func (c *Context) IsConfigurable(p PropertyRef) bool {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "configurable is a named attribute")
	return pr.flags&propConfigurable != 0
}

func (c *Context) SetConfigurable(p PropertyRef, configurable bool) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "configurable is a named attribute")
	if configurable {
		pr.flags |= propConfigurable
	} else {
		pr.flags &^= propConfigurable
	}
}

func (c *Context) isLCached(p PropertyRef) bool {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "only named properties are cached")
	return pr.flags&propLCached != 0
}

func (c *Context) setLCached(p PropertyRef, on bool) {
	pr := c.prop(p)
	fatal.Assert(pr.flags&(propKindData|propKindAccessor) != 0, "only named properties are cached")
	if on {
		pr.flags |= propLCached
	} else {
		pr.flags &^= propLCached
	}
}

// assertContains walks o's list checking that p is present. Checked builds
// only.
func (c *Context) assertContains(o ObjectRef, p PropertyRef) {
	if !fatal.Checks {
		return
	}
	for cur := c.PropertyList(o); cur != NullProperty; cur = c.NextProperty(cur) {
		if cur == p {
			return
		}
	}
	fatal.Trap(fatal.FailedAssertion, "property %d not owned by object %d", p, o)
}
