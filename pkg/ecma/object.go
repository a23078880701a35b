package ecma

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
)

// object is one descriptor record: a packed header word plus two compressed
// links. Objects keep their prototype in linkA and their property list in
// linkB; environments keep the outer environment in linkA and either the
// binding object (object-bound kinds) or the binding list (declarative) in
// linkB.
type object struct {
	typeFlagsRefs uint16
	linkA         heap.Ref
	linkB         heap.Ref
}

func (c *Context) obj(o ObjectRef) *object {
	return c.objects.At(heap.Ref(o))
}

// CreateObject allocates an object descriptor with the given prototype
// (nullable) and extensible attribute. The descriptor starts with one strong
// reference.
func (c *Context) CreateObject(proto ObjectRef, extensible bool, typ ObjectType) ObjectRef {
	fatal.Assert(typ >= ObjectGeneral && typ <= ObjectArguments, "bad object type %d", typ)
	r := ObjectRef(c.objects.Alloc())
	h := uint16(typ)
	if extensible {
		h |= flagExtensible
	}
	o := c.obj(r)
	o.typeFlagsRefs = h
	c.initReferenceState(r)
	o.linkB = heap.Null
	o.linkA = heap.Ref(proto)
	return r
}

// CreateDeclEnv allocates a declarative lexical environment nested in outer
// (nullable). Bindings live in its property list.
func (c *Context) CreateDeclEnv(outer ObjectRef) ObjectRef {
	r := ObjectRef(c.objects.Alloc())
	o := c.obj(r)
	o.typeFlagsRefs = flagEnvOrBuiltIn | uint16(EnvDeclarative)
	c.initReferenceState(r)
	o.linkB = heap.Null
	o.linkA = heap.Ref(outer)
	return r
}

// CreateObjectEnv allocates an environment whose bindings resolve against an
// ordinary object. provideThis selects the subtype that also supplies the
// binding object as the this value.
func (c *Context) CreateObjectEnv(outer, binding ObjectRef, provideThis bool) ObjectRef {
	fatal.Assert(binding != NullObject, "object environment needs a binding object")
	fatal.Assert(!c.IsLexicalEnvironment(binding), "binding object must not be an environment")

	r := ObjectRef(c.objects.Alloc())
	o := c.obj(r)
	et := EnvObjectBound
	if provideThis {
		et = EnvThisObjectBound
	}
	o.typeFlagsRefs = flagEnvOrBuiltIn | uint16(et)
	c.initReferenceState(r)
	o.linkB = heap.Ref(binding)
	o.linkA = heap.Ref(outer)
	return r
}

// IsLexicalEnvironment distinguishes environments from objects with one
// masked compare: environments set the shared flag and carry type codes at
// or above envTypeStart, while built-in objects set the flag with codes
// below it.
func (c *Context) IsLexicalEnvironment(o ObjectRef) bool {
	full := c.obj(o).typeFlagsRefs & (flagEnvOrBuiltIn | typeMask)
	return full >= flagEnvOrBuiltIn|envTypeStart
}

// IsExtensible reads the extensible attribute. Object-only.
func (c *Context) IsExtensible(o ObjectRef) bool {
	fatal.Assert(!c.IsLexicalEnvironment(o), "extensible attribute is object-only")
	return c.obj(o).typeFlagsRefs&flagExtensible != 0
}

func (c *Context) SetExtensible(o ObjectRef, extensible bool) {
	fatal.Assert(!c.IsLexicalEnvironment(o), "extensible attribute is object-only")
	if extensible {
		c.obj(o).typeFlagsRefs |= flagExtensible
	} else {
		c.obj(o).typeFlagsRefs &^= flagExtensible
	}
}

// ObjectType reads the behavior class of an object. Object-only.
func (c *Context) ObjectType(o ObjectRef) ObjectType {
	fatal.Assert(!c.IsLexicalEnvironment(o), "environments have no object type")
	return ObjectType(c.obj(o).typeFlagsRefs & typeMask)
}

// SetObjectType rewrites the behavior class. Not valid once the object is
// marked built-in, and never valid on environments.
func (c *Context) SetObjectType(o ObjectRef, typ ObjectType) {
	obj := c.obj(o)
	fatal.Assert(obj.typeFlagsRefs&flagEnvOrBuiltIn == 0, "type is frozen for built-ins and environments")
	fatal.Assert(typ >= ObjectGeneral && typ <= ObjectArguments, "bad object type %d", typ)
	obj.typeFlagsRefs = obj.typeFlagsRefs&^typeMask | uint16(typ)
}

// IsBuiltIn reports whether o is a built-in object. Object-only.
func (c *Context) IsBuiltIn(o ObjectRef) bool {
	fatal.Assert(!c.IsLexicalEnvironment(o), "environments cannot be built-ins")
	return c.obj(o).typeFlagsRefs&flagEnvOrBuiltIn != 0
}

// MarkBuiltIn sets the built-in flag. The transition is one-way and only
// legal while the flag is still clear, since the flag doubles as the
// environment marker.
func (c *Context) MarkBuiltIn(o ObjectRef) {
	obj := c.obj(o)
	fatal.Assert(obj.typeFlagsRefs&flagEnvOrBuiltIn == 0, "already a built-in or an environment")
	fatal.Assert(obj.typeFlagsRefs&typeMask < envTypeStart, "type code collides with environment codes")
	obj.typeFlagsRefs |= flagEnvOrBuiltIn
}

// Prototype is the object's prototype link, possibly null. Object-only.
func (c *Context) Prototype(o ObjectRef) ObjectRef {
	fatal.Assert(!c.IsLexicalEnvironment(o), "environments have an outer link, not a prototype")
	return ObjectRef(c.obj(o).linkA)
}

// EnvType reads the binding model of an environment. Environment-only.
func (c *Context) EnvType(o ObjectRef) EnvType {
	fatal.Assert(c.IsLexicalEnvironment(o), "not an environment")
	return EnvType(c.obj(o).typeFlagsRefs & typeMask)
}

// OuterEnv is the enclosing environment link, possibly null.
// Environment-only.
func (c *Context) OuterEnv(o ObjectRef) ObjectRef {
	fatal.Assert(c.IsLexicalEnvironment(o), "not an environment")
	return ObjectRef(c.obj(o).linkA)
}

// ProvidesThis reports whether an object-bound environment supplies its
// binding object as the this value.
func (c *Context) ProvidesThis(o ObjectRef) bool {
	et := c.EnvType(o)
	fatal.Assert(et == EnvObjectBound || et == EnvThisObjectBound, "declarative environments have no this binding")
	return et == EnvThisObjectBound
}

// BindingObject is the object an object-bound environment resolves against.
func (c *Context) BindingObject(o ObjectRef) ObjectRef {
	et := c.EnvType(o)
	fatal.Assert(et == EnvObjectBound || et == EnvThisObjectBound, "declarative environments have no binding object")
	b := ObjectRef(c.obj(o).linkB)
	fatal.Assert(b != NullObject, "binding object lost")
	return b
}

// PropertyList is the head of the property list. Valid for objects and
// declarative environments; the slot holds the binding object for the other
// environment kinds.
func (c *Context) PropertyList(o ObjectRef) PropertyRef {
	fatal.Assert(!c.IsLexicalEnvironment(o) || c.EnvType(o) == EnvDeclarative,
		"list slot holds a binding object")
	return PropertyRef(c.obj(o).linkB)
}

func (c *Context) setPropertyList(o ObjectRef, head PropertyRef) {
	fatal.Assert(!c.IsLexicalEnvironment(o) || c.EnvType(o) == EnvDeclarative,
		"list slot holds a binding object")
	c.obj(o).linkB = heap.Ref(head)
}
