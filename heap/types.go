// Package heap implements a boundary-tag, implicit-free-list dynamic
// memory allocator over a fixed-capacity region.Region arena: immediate
// bidirectional coalescing, first-fit search, split-on-place.
package heap

import (
	"sync"

	"github.com/oss-heap/dmalloc/region"
)

// Ptr is a handle into an Allocator's arena: a byte offset pointing at
// the first byte of a block's payload. The zero value, NullPtr, stands
// for a null handle.
type Ptr = region.Ptr

// NullPtr is the offset equivalent of a null handle.
const NullPtr = region.NullPtr

// System constants, per the classic Bryant & O'Hallaron malloc lab design.
const (
	Word      = 4                // header/footer width, bytes
	DWord     = 8                // alignment quantum, bytes
	Chunk     = 4096             // default heap-extension granule, bytes
	MinBlock  = 16               // smallest legal total block size, bytes
	MaxRegion = 20 * 1024 * 1024 // hard cap on backing region, bytes
)

const (
	allocFlag  uint32 = 0x1
	sizeMask   uint32 = ^uint32(0x7)
	prologueSz uint32 = DWord // 8: header + footer, no payload
)

// AllocatorState observes where the allocator sits in its lifecycle.
// Exhausted is deliberately not a member: a failed extend collapses back
// to Ready as soon as freed space can satisfy the next request.
type AllocatorState int

const (
	StateUninitialized AllocatorState = iota
	StateReady
)

// ViolationKind classifies a single invariant breach found by CheckHeap.
type ViolationKind int

const (
	ViolationMisaligned ViolationKind = iota
	ViolationHeaderFooterMismatch
	ViolationBadPrologue
	ViolationBadEpilogue
	ViolationAdjacentFrees
	ViolationMinSize
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationMisaligned:
		return "misaligned handle"
	case ViolationHeaderFooterMismatch:
		return "header/footer mismatch"
	case ViolationBadPrologue:
		return "bad prologue"
	case ViolationBadEpilogue:
		return "bad epilogue"
	case ViolationAdjacentFrees:
		return "adjacent free blocks"
	case ViolationMinSize:
		return "block smaller than MinBlock"
	default:
		return "unknown violation"
	}
}

// Violation is one structured invariant breach reported by CheckHeap.
type Violation struct {
	Kind   ViolationKind
	At     Ptr
	Detail string
}

// Allocator is the block-allocator state machine of spec.md §4: an
// in-band implicit free list of boundary-tagged blocks over a single
// region.Region arena.
type Allocator struct {
	mu        sync.Mutex
	region    *region.Region
	heapListp Ptr

	usedBytes    uint32 // sum of allocated block total sizes (payload+overhead)
	capacityHint uint32 // region capacity requested via NewAllocatorWithCapacity, 0 = MaxRegion
}
