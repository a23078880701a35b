package ecma

import (
	"encoding/binary"
	"math"

	"siskin/pkg/fatal"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

// Compiled-code blocks are little-endian byte extents in the code arena,
// shared between closures and immutable once built. Every block leads with
// the same three words: a saturating reference count, the extent size in
// granules, and status bits. Function blocks continue with the frame
// layout fields (byte-wide, or word-wide once any field outgrows a byte),
// then the literal table, then the bytecode body. RegExp blocks continue
// with their pattern ref and flag word; their compiled program lives in a
// side table.
const (
	codeOffRefs   = 0
	codeOffSize   = 2
	codeOffStatus = 4

	codeOffCompactFields = 6
	codeOffCompactTable  = 12
	codeOffWideFields    = 6
	codeOffWideTable     = 18

	codeOffPattern = 6
	codeOffFlags   = 8
	regexpBlockLen = 10
)

// The top status bits record how many tail bytes the granule rounding
// added, so accessors can trim the extent back to its exact content.
const (
	codeStatusFunction   uint16 = 1 << 0
	codeStatusUint16Args uint16 = 1 << 1

	codeStatusPadShift = 13
)

// FunctionParams is the frame layout of one function block. The two
// literal-table bounds are derived from the literal slices at creation and
// read back through CodeParams.
type FunctionParams struct {
	StackLimit      uint16
	ArgEnd          uint16
	RegisterEnd     uint16
	IdentEnd        uint16
	ConstLiteralEnd uint16
	LiteralEnd      uint16
}

func (c *Context) codeBytes(b CodeRef) []byte {
	head := c.code.Bytes(heap.Ref(b), codeOffStatus)
	total := int(binary.LittleEndian.Uint16(head[codeOffSize:])) << heap.AlignShift
	return c.code.Bytes(heap.Ref(b), total)
}

func (c *Context) codeRefCount(b CodeRef) uint16 {
	return binary.LittleEndian.Uint16(c.codeBytes(b))
}

// IsFunctionCode distinguishes the two block flavors.
func (c *Context) IsFunctionCode(b CodeRef) bool {
	buf := c.codeBytes(b)
	return binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction != 0
}

// NewFunctionCode builds a function block from its frame layout, literal
// table and bytecode body, returning it with one reference held by the
// caller. The block takes one interned reference per const literal. Counts
// on the nested blocks transfer into the table: the caller hands over one
// count per non-null entry. A NullCode entry marks a self-reference and is
// patched to the fresh block's own ref; such entries carry no count, the
// block's creation count covers them.
func (c *Context) NewFunctionCode(params FunctionParams, constLiterals []intern.Ref, nested []CodeRef, body []byte) CodeRef {
	constEnd := len(constLiterals)
	litEnd := constEnd + len(nested)
	fatal.Assert(litEnd <= math.MaxUint16, "literal table of %d entries", litEnd)

	params.ConstLiteralEnd = uint16(constEnd)
	params.LiteralEnd = uint16(litEnd)

	status := codeStatusFunction
	fieldsOff, tableOff := codeOffCompactFields, codeOffCompactTable
	if params.StackLimit > math.MaxUint8 || params.ArgEnd > math.MaxUint8 ||
		params.RegisterEnd > math.MaxUint8 || params.IdentEnd > math.MaxUint8 ||
		litEnd > math.MaxUint8 {
		status |= codeStatusUint16Args
		fieldsOff, tableOff = codeOffWideFields, codeOffWideTable
	}

	total := tableOff + 2*litEnd + len(body)
	granules := heap.Granules(total)
	extent := granules << heap.AlignShift
	status |= uint16(extent-total) << codeStatusPadShift

	b := CodeRef(c.code.Alloc(total))
	buf := c.code.Bytes(heap.Ref(b), extent)

	binary.LittleEndian.PutUint16(buf[codeOffRefs:], 1)
	binary.LittleEndian.PutUint16(buf[codeOffSize:], uint16(granules))
	binary.LittleEndian.PutUint16(buf[codeOffStatus:], status)

	fields := [6]uint16{
		params.StackLimit, params.ArgEnd, params.RegisterEnd,
		params.IdentEnd, params.ConstLiteralEnd, params.LiteralEnd,
	}
	if status&codeStatusUint16Args != 0 {
		for i, f := range fields {
			binary.LittleEndian.PutUint16(buf[fieldsOff+2*i:], f)
		}
	} else {
		for i, f := range fields {
			buf[fieldsOff+i] = uint8(f)
		}
	}

	for i, lit := range constLiterals {
		fatal.Assert(lit != intern.Null, "null const literal at %d", i)
		c.strings.Retain(lit)
		binary.LittleEndian.PutUint16(buf[tableOff+2*i:], uint16(lit))
	}
	for i, entry := range nested {
		if entry == NullCode {
			entry = b
		}
		binary.LittleEndian.PutUint16(buf[tableOff+2*(constEnd+i):], uint16(entry))
	}
	copy(buf[tableOff+2*litEnd:], body)
	return b
}

// RefCode adds one reference, trapping at the 16-bit ceiling instead of
// wrapping.
func (c *Context) RefCode(b CodeRef) {
	buf := c.codeBytes(b)
	refs := binary.LittleEndian.Uint16(buf)
	if refs >= math.MaxUint16 {
		fatal.Trap(fatal.RefCountLimit, "code block %d reference count saturated", b)
	}
	binary.LittleEndian.PutUint16(buf, refs+1)
}

// DerefCode drops one reference. At zero the block is torn down: a function
// block releases its const literals and dereferences every nested block in
// its table except entries pointing back at itself; a regexp block releases
// its pattern and its compiled program. The extent is then returned to the
// arena.
func (c *Context) DerefCode(b CodeRef) {
	buf := c.codeBytes(b)
	refs := binary.LittleEndian.Uint16(buf)
	fatal.Assert(refs > 0, "code block %d reference count underflow", b)
	refs--
	binary.LittleEndian.PutUint16(buf, refs)
	if refs > 0 {
		return
	}

	if binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction != 0 {
		params, tableOff := c.readCodeFields(buf)
		for i := 0; i < int(params.ConstLiteralEnd); i++ {
			lit := intern.Ref(binary.LittleEndian.Uint16(buf[tableOff+2*i:]))
			c.strings.Release(lit)
		}
		for i := int(params.ConstLiteralEnd); i < int(params.LiteralEnd); i++ {
			entry := CodeRef(binary.LittleEndian.Uint16(buf[tableOff+2*i:]))
			if entry != b {
				c.DerefCode(entry)
			}
		}
	} else {
		pattern := intern.Ref(binary.LittleEndian.Uint16(buf[codeOffPattern:]))
		c.strings.Release(pattern)
		c.dropRegExp(b)
	}
	c.code.Free(heap.Ref(b), len(buf))
}

func (c *Context) readCodeFields(buf []byte) (FunctionParams, int) {
	var params FunctionParams
	fields := [6]*uint16{
		&params.StackLimit, &params.ArgEnd, &params.RegisterEnd,
		&params.IdentEnd, &params.ConstLiteralEnd, &params.LiteralEnd,
	}
	if binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusUint16Args != 0 {
		for i, f := range fields {
			*f = binary.LittleEndian.Uint16(buf[codeOffWideFields+2*i:])
		}
		return params, codeOffWideTable
	}
	for i, f := range fields {
		*f = uint16(buf[codeOffCompactFields+i])
	}
	return params, codeOffCompactTable
}

// CodeParams reads back the frame layout of a function block.
func (c *Context) CodeParams(b CodeRef) FunctionParams {
	buf := c.codeBytes(b)
	fatal.Assert(binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction != 0,
		"code block %d is not function bytecode", b)
	params, _ := c.readCodeFields(buf)
	return params
}

// ConstLiterals copies out the const sub-range of a function block's
// literal table.
func (c *Context) ConstLiterals(b CodeRef) []intern.Ref {
	buf := c.codeBytes(b)
	fatal.Assert(binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction != 0,
		"code block %d is not function bytecode", b)
	params, tableOff := c.readCodeFields(buf)
	out := make([]intern.Ref, params.ConstLiteralEnd)
	for i := range out {
		out[i] = intern.Ref(binary.LittleEndian.Uint16(buf[tableOff+2*i:]))
	}
	return out
}

// NestedLiterals copies out the nested-block sub-range of a function
// block's literal table. Self-references read back as b itself.
func (c *Context) NestedLiterals(b CodeRef) []CodeRef {
	buf := c.codeBytes(b)
	fatal.Assert(binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction != 0,
		"code block %d is not function bytecode", b)
	params, tableOff := c.readCodeFields(buf)
	out := make([]CodeRef, params.LiteralEnd-params.ConstLiteralEnd)
	for i := range out {
		off := tableOff + 2*(int(params.ConstLiteralEnd)+i)
		out[i] = CodeRef(binary.LittleEndian.Uint16(buf[off:]))
	}
	return out
}

// CodeBody is the bytecode payload of a function block. The slice aliases
// the arena extent and is valid only while the block holds references.
func (c *Context) CodeBody(b CodeRef) []byte {
	buf := c.codeBytes(b)
	status := binary.LittleEndian.Uint16(buf[codeOffStatus:])
	fatal.Assert(status&codeStatusFunction != 0, "code block %d is not function bytecode", b)
	params, tableOff := c.readCodeFields(buf)
	pad := int(status >> codeStatusPadShift)
	return buf[tableOff+2*int(params.LiteralEnd) : len(buf)-pad]
}
