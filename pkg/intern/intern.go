package intern

import (
	"siskin/pkg/fatal"
	"siskin/pkg/heap"
)

// Ref is a compressed handle to an interned string. Because the table
// interns, two live handles are equal exactly when their texts are equal.
type Ref uint16

// Null is the empty handle.
const Null Ref = 0

const maxRefs = 1<<16 - 1

type entry struct {
	text string
	refs uint16
}

// Table owns the engine's property-name strings. Entries are reference
// counted; a text is forgotten when its last handle is released, after which
// re-interning it may produce a different handle.
type Table struct {
	pool  *heap.Pool[entry]
	index map[string]Ref
}

func NewTable(limit int) *Table {
	return &Table{
		pool:  heap.NewPool[entry]("string", limit),
		index: make(map[string]Ref, limit),
	}
}

// Intern returns the handle for text, retaining it. A text seen before comes
// back with its existing handle.
func (t *Table) Intern(text string) Ref {
	if r, ok := t.index[text]; ok {
		t.Retain(r)
		return r
	}
	r := Ref(t.pool.Alloc())
	e := t.pool.At(heap.Ref(r))
	e.text = text
	e.refs = 1
	t.index[text] = r
	return r
}

// Retain adds a reference. The count saturating is fatal.
func (t *Table) Retain(r Ref) {
	e := t.pool.At(heap.Ref(r))
	if e.refs == maxRefs {
		fatal.Trap(fatal.RefCountLimit, "string %q", e.text)
	}
	e.refs++
}

// Release drops a reference, forgetting the text when the last one goes.
func (t *Table) Release(r Ref) {
	e := t.pool.At(heap.Ref(r))
	fatal.Assert(e.refs > 0, "release of dead string handle %d", r)
	e.refs--
	if e.refs == 0 {
		delete(t.index, e.text)
		t.pool.Free(heap.Ref(r))
	}
}

// Value is the text behind a live handle.
func (t *Table) Value(r Ref) string {
	return t.pool.At(heap.Ref(r)).text
}

// Live is the number of distinct interned texts.
func (t *Table) Live() int { return t.pool.Live() }
