package heap

import "golang.org/x/exp/constraints"

// Ref is a compressed reference: a 16-bit index into a record pool or, for
// the code arena, an alignment-granule index. Ref 0 is the null sentinel in
// every pool, so a Ref travels in half the space of a machine pointer.
type Ref uint16

// Null is the reserved empty reference.
const Null Ref = 0

// AlignShift is the code arena's alignment granule, log2. Extents start and
// end on 8-byte boundaries and arena refs address granules, so 16 bits of
// ref span 512 KiB of arena.
const AlignShift = 3

const (
	granule = 1 << AlignShift

	// MaxRecords is the largest record count a pool can be configured with.
	MaxRecords = 1<<16 - 1

	// MaxArenaBytes is the largest usable arena extent addressable by a Ref.
	MaxArenaBytes = MaxRecords << AlignShift
)

// Granule width is load-bearing for the free-block headers the arena embeds
// in its own storage. Both constants underflow at compile time if it drifts.
const (
	_ uint = granule - freeBlockHeaderBytes
	_ uint = 8 - granule
)

// AlignUp rounds v up to the next granule boundary.
func AlignUp[T constraints.Integer](v T) T {
	return (v + granule - 1) &^ T(granule-1)
}

// Granules converts a byte count to whole granules, rounding up.
func Granules[T constraints.Integer](n T) T {
	return AlignUp(n) >> AlignShift
}
