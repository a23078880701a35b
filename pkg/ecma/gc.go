package ecma

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
)

// NativeFreeCallback runs when a descriptor carrying a FreeCallback slot is
// reclaimed, before its property list is torn down. It receives the payload
// of the object's NativeHandle slot, or zero if the object has none.
type NativeFreeCallback func(handle uint32)

func (o *object) live() bool { return o.typeFlagsRefs != 0 }

func (o *object) refs() uint16 { return o.typeFlagsRefs / refOne }

func (o *object) visited() bool { return o.typeFlagsRefs&flagVisited != 0 }

func (o *object) setVisited() { o.typeFlagsRefs |= flagVisited }

func (o *object) clearVisited() { o.typeFlagsRefs &^= flagVisited }

// initReferenceState starts collector bookkeeping on a fresh descriptor:
// one reference held, visited clear.
func (c *Context) initReferenceState(o ObjectRef) {
	obj := c.obj(o)
	obj.typeFlagsRefs = obj.typeFlagsRefs&^(flagVisited|refMax) | refOne
}

// RefObject adds one reference. The count saturates into a trap rather than
// wrapping into the flag bits.
func (c *Context) RefObject(o ObjectRef) {
	obj := c.obj(o)
	if obj.typeFlagsRefs >= refMax {
		fatal.Trap(fatal.RefCountLimit, "object %d reference count saturated", o)
	}
	obj.typeFlagsRefs += refOne
}

// DerefObject drops one reference. The descriptor stays allocated at count
// zero until the next collection reclaims it.
func (c *Context) DerefObject(o ObjectRef) {
	obj := c.obj(o)
	fatal.Assert(obj.typeFlagsRefs >= refOne, "object %d reference count underflow", o)
	obj.typeFlagsRefs -= refOne
}

// CollectGarbage reclaims every descriptor unreachable from the counted
// roots and reports how many it freed. Descriptors with a nonzero count are
// the roots; marking follows the uncounted edges (prototype and outer
// links, binding objects, object words in data values, accessor pairs,
// object-carrying internal slots). Each dead descriptor's property list is
// torn down through the kind-dispatching free path before its record is
// returned.
func (c *Context) CollectGarbage() int {
	stack := make([]ObjectRef, 0, 64)
	for i := 1; i < c.objects.Len(); i++ {
		r := ObjectRef(i)
		obj := c.obj(r)
		if obj.live() && obj.refs() > 0 && !obj.visited() {
			obj.setVisited()
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c.markChildren(r, &stack)
	}

	freed := 0
	for i := 1; i < c.objects.Len(); i++ {
		r := ObjectRef(i)
		obj := c.obj(r)
		if !obj.live() {
			continue
		}
		if obj.visited() {
			obj.clearVisited()
			continue
		}
		c.freeObject(r)
		freed++
	}
	return freed
}

func (c *Context) markChildren(r ObjectRef, stack *[]ObjectRef) {
	push := func(t ObjectRef) {
		if t == NullObject {
			return
		}
		obj := c.obj(t)
		if !obj.visited() {
			obj.setVisited()
			*stack = append(*stack, t)
		}
	}

	if c.IsLexicalEnvironment(r) {
		push(c.OuterEnv(r))
		if c.EnvType(r) != EnvDeclarative {
			push(c.BindingObject(r))
			return
		}
	} else {
		push(c.Prototype(r))
	}

	for p := c.PropertyList(r); p != NullProperty; p = c.NextProperty(p) {
		pr := c.prop(p)
		switch {
		case pr.flags&propKindData != 0:
			if v := pr.dataValue(); v.IsObject() {
				push(v.AsObject())
			}
		case pr.flags&propKindAccessor != 0:
			pair := c.pairs.At(heap.Ref(pr.word1))
			push(ObjectRef(pair.getter))
			push(ObjectRef(pair.setter))
		default:
			c.markInternal(pr, push)
		}
	}
}

// markInternal follows the internal slots whose payloads are uncounted
// object links. Slots holding strong references (the indexed array
// collections) need no traversal: their targets hold counts of their own
// and are roots already.
func (c *Context) markInternal(pr *property, push func(ObjectRef)) {
	payload := pr.internalPayload()
	switch InternalID(pr.aux) {
	case InternalScope, InternalParametersMap, InternalBoundTargetFunction:
		push(ObjectRef(payload))
	case InternalBoundThis:
		if v := Value(payload); v.IsObject() {
			push(v.AsObject())
		}
	case InternalBoundArgs:
		if col := CollectionRef(payload); col != NullCollection {
			for i, n := 0, c.CollectionLen(col); i < n; i++ {
				if v := c.CollectionValue(col, i); v.IsObject() {
					push(v.AsObject())
				}
			}
		}
	}
}

// freeObject tears down one dead descriptor: the free callback first, then
// the property list, then the record itself.
func (c *Context) freeObject(r ObjectRef) {
	obj := c.obj(r)
	fatal.Assert(obj.refs() == 0, "freeing object %d with live references", r)

	env := c.IsLexicalEnvironment(r)
	if !env {
		c.runFreeCallback(r)
	}
	if !env || c.EnvType(r) == EnvDeclarative {
		p := c.PropertyList(r)
		for p != NullProperty {
			next := c.NextProperty(p)
			c.FreeProperty(r, p)
			p = next
		}
	}
	c.objects.Free(heap.Ref(r))
}

func (c *Context) runFreeCallback(o ObjectRef) {
	slot := c.FindInternalProperty(o, InternalFreeCallback)
	if slot == NullProperty {
		return
	}
	v, ok := c.Native(c.InternalPayload(slot))
	fatal.Assert(ok, "free-callback token %d not registered", c.InternalPayload(slot))
	fn, ok := v.(NativeFreeCallback)
	fatal.Assert(ok, "free-callback slot holds a %T", v)

	var handle uint32
	if hp := c.FindInternalProperty(o, InternalNativeHandle); hp != NullProperty {
		handle = c.InternalPayload(hp)
	}
	fn(handle)
}
