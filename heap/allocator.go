package heap

import (
	"sync"

	"github.com/oss-heap/dmalloc/region"
)

// NewAllocator constructs an Allocator over a fresh MaxRegion-byte region.
// The region is not acquired until Init runs, either explicitly or lazily
// from the first Allocate/Free/Reallocate call that needs the heap,
// matching spec.md §4.4's "lazy init" contract. CheckHeap and Fingerprint
// never trigger Init.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NewAllocatorWithCapacity constructs an Allocator over a region of the
// given capacity, primarily so tests can drive exhaustion quickly
// (spec.md §8, Exhaustion scenario) without waiting on a 20 MiB region.
func NewAllocatorWithCapacity(capacity uint32) (*Allocator, error) {
	if capacity == 0 {
		return nil, ErrZeroCapacity
	}
	a := &Allocator{}
	a.capacityHint = capacity
	return a, nil
}

var (
	defaultOnce sync.Once
	defaultA    *Allocator
)

// Default returns a lazily constructed process-wide Allocator, for callers
// who want the "one big malloc" usage pattern of the original C design
// (spec.md §9) without every caller having to thread an *Allocator value.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultA = NewAllocator()
	})
	return defaultA
}

// State reports where the allocator sits in its lifecycle. Exhausted
// collapses back into Ready implicitly per spec.md §4.11 and is not a
// distinct value here.
func (a *Allocator) State() AllocatorState {
	if a.region == nil || !a.region.Initialized() {
		return StateUninitialized
	}
	return StateReady
}

// Init lays down the alignment pad and the prologue/epilogue sentinels
// and installs the first real free block, per spec.md §4.2. Repeated
// calls reset the allocator's state: a fresh region is acquired and the
// old one (if any) is torn down first.
func (a *Allocator) Init() error {
	if a.region != nil {
		a.region.Teardown()
	}
	capacity := a.capacityHint
	if capacity == 0 {
		capacity = MaxRegion
	}
	r, err := region.New(capacity)
	if err != nil {
		return err
	}
	a.region = r
	a.usedBytes = 0

	padBase, err := a.region.Sbrk(4 * Word)
	if err != nil {
		ERR("Init: failed to reserve sentinel bytes: %v", err)
		return ErrOutOfMemory
	}
	a.region.PutUint32At(padBase, 0) // alignment pad
	a.region.PutUint32At(padBase+Word, pack(prologueSz, true))       // prologue header
	a.region.PutUint32At(padBase+2*Word, pack(prologueSz, true))     // prologue footer
	a.region.PutUint32At(padBase+3*Word, pack(0, true))              // epilogue header
	a.heapListp = padBase + 2*Word

	if _, err := a.extend(Chunk / Word); err != nil {
		ERR("Init: failed to extend initial heap: %v", err)
		return err
	}
	DBG("Init: heap ready, heapListp=%d", a.heapListp)
	return nil
}

// lazyInit initializes the allocator on first use if it has not already
// been initialized, mirroring mm_malloc's "if (heap_listp == nullptr)
// mm_init();" in the original C source.
func (a *Allocator) lazyInit() error {
	if a.region == nil || !a.region.Initialized() {
		return a.Init()
	}
	return nil
}

// extend grows the logical heap by words*Word bytes, rounded up to an
// even word count, and installs a new free block plus a relocated
// epilogue, then immediately coalesces it with any free left neighbor.
func (a *Allocator) extend(words uint32) (Ptr, error) {
	if words%2 != 0 {
		words++
	}
	size := words * Word

	bp, err := a.region.Sbrk(size)
	if err != nil {
		WARN("extend: out of memory requesting %d bytes", size)
		return NullPtr, ErrOutOfMemory
	}
	a.setHdrFtr(bp, size, false)
	a.region.PutUint32At(a.hdr(a.nextBlock(bp)), pack(0, true)) // new epilogue

	return a.coalesce(bp), nil
}

func roundUp8(n uint32) uint32 {
	return (n + (DWord - 1)) &^ (DWord - 1)
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Allocate reserves at least n bytes of DWord-aligned, uninitialized
// storage and returns a handle to it. Allocate(0) returns (NullPtr, nil)
// without touching the heap. On failure it returns (NullPtr,
// ErrOutOfMemory) and leaves the heap unchanged.
func (a *Allocator) Allocate(n uint32) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n == 0 {
		return NullPtr, nil
	}
	if err := a.lazyInit(); err != nil {
		return NullPtr, err
	}
	return a.allocateUnsafe(n)
}

func (a *Allocator) allocateUnsafe(n uint32) (Ptr, error) {
	if n == 0 {
		return NullPtr, nil
	}

	var asize uint32
	if n <= DWord {
		asize = 2 * DWord
	} else {
		asize = roundUp8(n + 2*Word)
	}

	if b := a.findFit(asize); b != NullPtr {
		a.place(b, asize)
		return b, nil
	}

	extendWords := maxU32(asize, Chunk) / Word
	bp, err := a.extend(extendWords)
	if err != nil {
		return NullPtr, err
	}
	a.place(bp, asize)
	return bp, nil
}

// findFit performs a first-fit walk of the implicit free list, starting
// at heapListp, stopping at the epilogue (size 0).
func (a *Allocator) findFit(asize uint32) Ptr {
	for b := a.heapListp; a.sizeAt(a.hdr(b)) > 0; b = a.nextBlock(b) {
		if !a.allocatedAt(a.hdr(b)) && a.sizeAt(a.hdr(b)) >= asize {
			return b
		}
	}
	return NullPtr
}

// place carves asize bytes out of free block b, splitting off the
// remainder as a new free block when it would be at least MinBlock.
func (a *Allocator) place(b Ptr, asize uint32) {
	csize := a.sizeAt(a.hdr(b))
	placed := csize
	if csize-asize >= 2*DWord {
		placed = asize
		a.setHdrFtr(b, asize, true)
		b2 := a.nextBlock(b)
		a.setHdrFtr(b2, csize-asize, false)
	} else {
		a.setHdrFtr(b, csize, true)
	}
	a.usedBytes += placed
}

// Free releases the block previously returned by Allocate/Reallocate at
// handle b. Free(NullPtr) is a no-op. Passing a handle not owned by this
// allocator, or one already freed, is undefined behavior (spec.md §4.7).
func (a *Allocator) Free(b Ptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b == NullPtr {
		return nil
	}
	if err := a.lazyInit(); err != nil {
		return err
	}
	a.freeUnsafe(b)
	return nil
}

func (a *Allocator) freeUnsafe(b Ptr) {
	if b == NullPtr {
		return
	}
	s := a.sizeAt(a.hdr(b))
	a.setHdrFtr(b, s, false)
	a.usedBytes -= s
	a.coalesce(b)
}

// coalesce immediately merges b with any free neighbor(s), in place,
// and returns the handle of the resulting free block.
func (a *Allocator) coalesce(b Ptr) Ptr {
	prev := a.prevBlock(b)
	next := a.nextBlock(b)
	prevAlloc := a.allocatedAt(a.ftr(prev))
	nextAlloc := a.allocatedAt(a.hdr(next))
	s := a.sizeAt(a.hdr(b))

	switch {
	case prevAlloc && nextAlloc:
		return b
	case prevAlloc && !nextAlloc:
		s += a.sizeAt(a.hdr(next))
		a.setHdrFtr(b, s, false)
		return b
	case !prevAlloc && nextAlloc:
		s += a.sizeAt(a.hdr(prev))
		a.setHdrFtr(prev, s, false)
		return prev
	default: // !prevAlloc && !nextAlloc
		s += a.sizeAt(a.hdr(prev)) + a.sizeAt(a.hdr(next))
		a.setHdrFtr(prev, s, false)
		return prev
	}
}

// Reallocate resizes the block at handle b to hold at least n bytes,
// per spec.md §4.9's naive strategy: allocate a new block, copy the
// preserved prefix, free the old block. Reallocate(b, 0) frees b and
// returns NullPtr. Reallocate(NullPtr, n) is equivalent to Allocate(n).
// On failure the original handle b remains valid and untouched.
func (a *Allocator) Reallocate(b Ptr, n uint32) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.lazyInit(); err != nil {
		return NullPtr, err
	}

	if n == 0 {
		a.freeUnsafe(b)
		return NullPtr, nil
	}
	if b == NullPtr {
		return a.allocateUnsafe(n)
	}

	payloadCap := a.sizeAt(a.hdr(b)) - 2*Word
	bPrime, err := a.allocateUnsafe(n)
	if err != nil {
		return NullPtr, err
	}
	copyLen := minU32(n, payloadCap)
	a.region.CopyWithin(bPrime, b, copyLen)
	a.freeUnsafe(b)
	return bPrime, nil
}

// Owns reports whether p falls within the allocator's current usable
// heap range (between the prologue and the epilogue). It does not
// distinguish allocated from free blocks and is a read-only diagnostic,
// not a validity guarantee for Free/Reallocate (spec.md §4.7).
func (a *Allocator) Owns(p Ptr) bool {
	if a.region == nil || !a.region.Initialized() {
		return false
	}
	return p >= a.heapListp && p < a.region.Brk()
}

// UsedBytes returns the sum of currently allocated blocks' total sizes
// (payload plus header/footer overhead).
func (a *Allocator) UsedBytes() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usedBytes
}

// Utilization returns UsedBytes as a fraction of the region's capacity.
func (a *Allocator) Utilization() float64 {
	a.mu.Lock()
	capacity := uint32(MaxRegion)
	if a.region != nil {
		capacity = a.region.Capacity()
	}
	used := a.usedBytes
	a.mu.Unlock()
	if capacity == 0 {
		return 0
	}
	return float64(used) / float64(capacity)
}

// Teardown releases the backing region. All outstanding handles become
// dangling; using one afterward is undefined.
func (a *Allocator) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region != nil {
		a.region.Teardown()
	}
	a.usedBytes = 0
	a.heapListp = NullPtr
}
