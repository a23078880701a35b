package heap

import "siskin/pkg/fatal"

// Pool is a fixed-capacity store of records of one type, addressed by Ref.
// Slot 0 is permanently reserved so that Null never aliases a live record.
// The backing array is reserved in full up front; a *T returned by At stays
// valid for the lifetime of its slot.
type Pool[T any] struct {
	name  string
	slots []T
	free  []Ref
	live  int
}

// NewPool reserves a pool of at most limit records.
func NewPool[T any](name string, limit int) *Pool[T] {
	if limit <= 0 || limit > MaxRecords {
		fatal.Trap(fatal.OutOfMemory, "%s pool: limit %d out of range", name, limit)
	}
	return &Pool[T]{name: name, slots: make([]T, 1, limit+1)}
}

// Alloc returns a zeroed record slot, recycling freed slots first.
// Exhaustion is fatal.
func (p *Pool[T]) Alloc() Ref {
	if n := len(p.free); n > 0 {
		r := p.free[n-1]
		p.free = p.free[:n-1]
		p.live++
		return r
	}
	if len(p.slots) == cap(p.slots) {
		fatal.Trap(fatal.OutOfMemory, "%s pool exhausted (%d records)", p.name, cap(p.slots)-1)
	}
	var zero T
	p.slots = append(p.slots, zero)
	p.live++
	return Ref(len(p.slots) - 1)
}

// Free zeroes the slot and returns it to the free list.
func (p *Pool[T]) Free(r Ref) {
	p.check(r)
	var zero T
	p.slots[r] = zero
	p.free = append(p.free, r)
	p.live--
	fatal.Assert(p.live >= 0, "%s pool: more frees than allocs", p.name)
}

// At resolves a Ref to its record.
func (p *Pool[T]) At(r Ref) *T {
	p.check(r)
	return &p.slots[r]
}

func (p *Pool[T]) check(r Ref) {
	fatal.Assert(r != Null && int(r) < len(p.slots), "%s pool: bad ref %d", p.name, r)
}

// Len is the high-water slot count, including the reserved slot 0. Refs in
// [1, Len) are either live or on the free list.
func (p *Pool[T]) Len() int { return len(p.slots) }

// Live is the number of currently allocated records.
func (p *Pool[T]) Live() int { return p.live }

// Cap is the configured record limit.
func (p *Pool[T]) Cap() int { return cap(p.slots) - 1 }
