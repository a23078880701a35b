package ecma

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

// Value is a compact tagged word: two tag bits selecting the kind, then a
// 16-bit payload holding either a simple-value code or a pool reference.
type Value uint32

const (
	tagSimple Value = iota
	tagNumber
	tagString
	tagObject

	tagMask      Value = 0x3
	payloadShift       = 2
)

// The widest encodable word must fit the property record's 24-bit value slot.
const _ uint = 1<<24 - 1 - (uint(tagMask) | (1<<16-1)<<payloadShift)

// Simple values. Empty is the internal hole, not a language value; it is
// also the zero Value, so cleared storage reads back as Empty.
const (
	Empty Value = tagSimple | iota<<payloadShift
	Undefined
	Null
	False
	True
	ArrayHole
)

func makeValue(tag Value, payload uint16) Value {
	return tag | Value(payload)<<payloadShift
}

// BooleanValue encodes a boolean as one of the two simple values.
func BooleanValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue wraps a boxed-number reference.
func NumberValue(n NumberRef) Value {
	fatal.Assert(n != NullNumber, "number value needs a box")
	return makeValue(tagNumber, uint16(n))
}

// StringValue wraps an interned-string reference. The word records the
// reference only; retaining it is the caller's business.
func StringValue(s intern.Ref) Value {
	fatal.Assert(s != intern.Null, "string value needs an interned name")
	return makeValue(tagString, uint16(s))
}

// ObjectValue wraps an object reference. The word records the reference
// only; counts move through CopyValue and FreeValue, not here.
func ObjectValue(o ObjectRef) Value {
	fatal.Assert(o != NullObject, "object value needs a descriptor")
	return makeValue(tagObject, uint16(o))
}

func (v Value) tag() Value { return v & tagMask }

func (v Value) payload() uint16 { return uint16(v >> payloadShift) }

func (v Value) IsSimple() bool { return v.tag() == tagSimple }

func (v Value) IsNumber() bool { return v.tag() == tagNumber }

func (v Value) IsString() bool { return v.tag() == tagString }

func (v Value) IsObject() bool { return v.tag() == tagObject }

func (v Value) IsBoolean() bool { return v == False || v == True }

func (v Value) AsBool() bool {
	fatal.Assert(v.IsBoolean(), "not a boolean value")
	return v == True
}

func (v Value) AsNumber() NumberRef {
	fatal.Assert(v.IsNumber(), "not a number value")
	return NumberRef(v.payload())
}

func (v Value) AsString() intern.Ref {
	fatal.Assert(v.IsString(), "not a string value")
	return intern.Ref(v.payload())
}

func (v Value) AsObject() ObjectRef {
	fatal.Assert(v.IsObject(), "not an object value")
	return ObjectRef(v.payload())
}

// NewNumber boxes a float in the number pool.
func (c *Context) NewNumber(f float64) NumberRef {
	n := NumberRef(c.numbers.Alloc())
	*c.numbers.At(heap.Ref(n)) = f
	return n
}

// NumberFloat reads a boxed number.
func (c *Context) NumberFloat(n NumberRef) float64 {
	return *c.numbers.At(heap.Ref(n))
}

// NumberOf reads the float behind a number-tagged value.
func (c *Context) NumberOf(v Value) float64 {
	return c.NumberFloat(v.AsNumber())
}

func (c *Context) freeNumber(n NumberRef) {
	c.numbers.Free(heap.Ref(n))
}

// CopyValue links a value: simple words pass through, numbers get a fresh
// box, strings gain one interned reference, objects gain one descriptor
// reference.
func (c *Context) CopyValue(v Value) Value {
	switch v.tag() {
	case tagNumber:
		return NumberValue(c.NewNumber(c.NumberFloat(v.AsNumber())))
	case tagString:
		c.strings.Retain(v.AsString())
		return v
	case tagObject:
		c.RefObject(v.AsObject())
		return v
	default:
		return v
	}
}

// CopyValueIfNotObject is CopyValue with object words passed through
// untouched; the collector tracks those edges instead.
func (c *Context) CopyValueIfNotObject(v Value) Value {
	if v.IsObject() {
		return v
	}
	return c.CopyValue(v)
}

// FreeValue releases one link made by CopyValue.
func (c *Context) FreeValue(v Value) {
	switch v.tag() {
	case tagNumber:
		c.freeNumber(v.AsNumber())
	case tagString:
		c.strings.Release(v.AsString())
	case tagObject:
		c.DerefObject(v.AsObject())
	}
}

// FreeValueIfNotObject releases one link, leaving object words untouched.
func (c *Context) FreeValueIfNotObject(v Value) {
	if !v.IsObject() {
		c.FreeValue(v)
	}
}
