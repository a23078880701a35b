package heap

import (
	"encoding/binary"

	"siskin/pkg/fatal"
)

// Free extents carry their list link and size in their own first granule.
const freeBlockHeaderBytes = 4

// A granule must hold a free-block header.
const _ uint = 1<<AlignShift - freeBlockHeaderBytes

// Arena is a byte store for variable-length extents (compiled code blocks).
// Free extents form an address-ordered list threaded through the arena's own
// storage and coalesce with their neighbors on release. Granule 0 is
// reserved so Null never addresses an extent.
type Arena struct {
	name     string
	mem      []byte
	head     Ref
	granules int
	used     int
}

// NewArena reserves size usable bytes (rounded up to a whole granule).
func NewArena(name string, size int) *Arena {
	if size <= 0 || size > MaxArenaBytes {
		fatal.Trap(fatal.OutOfMemory, "%s arena: size %d out of range", name, size)
	}
	usable := Granules(size)
	a := &Arena{
		name:     name,
		mem:      make([]byte, (usable+1)<<AlignShift),
		head:     1,
		granules: usable,
	}
	a.setFree(1, Null, uint16(usable))
	return a
}

// Alloc carves an n-byte extent from the first free block that fits and
// returns its granule ref. The extent is zeroed. Exhaustion is fatal.
func (a *Arena) Alloc(n int) Ref {
	fatal.Assert(n > 0 && n <= MaxArenaBytes, "%s arena: bad alloc size %d", a.name, n)
	need := uint16(Granules(n))
	var prev Ref
	for cur := a.head; cur != Null; cur = a.freeNext(cur) {
		size := a.freeSize(cur)
		if size < need {
			prev = cur
			continue
		}
		next := a.freeNext(cur)
		if size > need {
			rest := cur + Ref(need)
			a.setFree(rest, next, size-need)
			next = rest
		}
		if prev == Null {
			a.head = next
		} else {
			a.setFreeNext(prev, next)
		}
		clear(a.mem[a.off(cur) : a.off(cur)+int(need)<<AlignShift])
		a.used += int(need)
		return cur
	}
	fatal.Trap(fatal.OutOfMemory, "%s arena exhausted (%d bytes requested, %d free)", a.name, n, a.FreeBytes())
	return Null
}

// Free returns the extent at r. n must be the byte size it was allocated
// with; the extent is merged with any adjacent free neighbors.
func (a *Arena) Free(r Ref, n int) {
	need := uint16(Granules(n))
	fatal.Assert(r != Null && n > 0 && int(r)+int(need) <= a.granules+1,
		"%s arena: bad extent %d+%d", a.name, r, need)
	a.assertUnfreed(r, need)

	var prev Ref
	cur := a.head
	for cur != Null && cur < r {
		prev = cur
		cur = a.freeNext(cur)
	}
	size := need
	next := cur
	if next != Null && int(r)+int(size) == int(next) {
		size += a.freeSize(next)
		next = a.freeNext(next)
	}
	if prev != Null && int(prev)+int(a.freeSize(prev)) == int(r) {
		a.setFree(prev, next, a.freeSize(prev)+size)
	} else {
		a.setFree(r, next, size)
		if prev == Null {
			a.head = r
		} else {
			a.setFreeNext(prev, r)
		}
	}
	a.used -= int(need)
}

// Bytes is the live window of the n-byte extent at r.
func (a *Arena) Bytes(r Ref, n int) []byte {
	fatal.Assert(r != Null && n > 0 && a.off(r)+n <= len(a.mem),
		"%s arena: bad window %d+%d", a.name, r, n)
	return a.mem[a.off(r) : a.off(r)+n]
}

// Size is the usable capacity in bytes.
func (a *Arena) Size() int { return a.granules << AlignShift }

// InUse is the allocated byte count.
func (a *Arena) InUse() int { return a.used << AlignShift }

// FreeBytes is the unallocated byte count (not necessarily contiguous).
func (a *Arena) FreeBytes() int { return (a.granules - a.used) << AlignShift }

func (a *Arena) off(g Ref) int { return int(g) << AlignShift }

func (a *Arena) freeNext(g Ref) Ref {
	return Ref(binary.LittleEndian.Uint16(a.mem[a.off(g):]))
}

func (a *Arena) freeSize(g Ref) uint16 {
	return binary.LittleEndian.Uint16(a.mem[a.off(g)+2:])
}

func (a *Arena) setFree(g, next Ref, size uint16) {
	binary.LittleEndian.PutUint16(a.mem[a.off(g):], uint16(next))
	binary.LittleEndian.PutUint16(a.mem[a.off(g)+2:], size)
}

func (a *Arena) setFreeNext(g, next Ref) {
	binary.LittleEndian.PutUint16(a.mem[a.off(g):], uint16(next))
}

func (a *Arena) assertUnfreed(r Ref, need uint16) {
	if !fatal.Checks {
		return
	}
	lo, hi := int(r), int(r)+int(need)
	for cur := a.head; cur != Null; cur = a.freeNext(cur) {
		clo, chi := int(cur), int(cur)+int(a.freeSize(cur))
		fatal.Assert(hi <= clo || chi <= lo, "%s arena: double free at %d", a.name, r)
	}
}
