// Package region provides the backing-store collaborator for the heap
// allocator: a single contiguous, fixed-capacity byte arena obtained once
// from the host and grown only upward via Sbrk, in the tradition of the
// classic sbrk-based memory model.
package region

import (
	"encoding/binary"
	"errors"
)

// Ptr is a byte offset into a Region's arena. The zero value, NullPtr,
// never designates a real block payload because offset 0 always falls
// inside the region's leading alignment pad / prologue.
type Ptr uint32

// NullPtr is the offset equivalent of a null handle.
const NullPtr Ptr = 0

// ErrOutOfMemory is returned by Sbrk when growing the break would exceed
// the region's capacity.
var ErrOutOfMemory = errors.New("region: out of memory")

// Region owns one contiguous, fixed-capacity byte arena and a monotonic
// break offset. It never shrinks the arena and never moves it; growth is
// implemented by extending the backing slice's length up to its
// preallocated capacity.
type Region struct {
	mem       []byte
	heapStart Ptr
	heapBrk   Ptr
	heapMax   Ptr
	lastErr   error
}

// New acquires a region of the given capacity. The arena is allocated but
// left at zero length; Sbrk grows it. No zeroing guarantee is made beyond
// whatever Go's runtime already zeroed when backing it.
func New(capacity uint32) (*Region, error) {
	if capacity == 0 {
		return nil, errors.New("region: zero capacity")
	}
	r := &Region{
		mem:       make([]byte, 0, capacity),
		heapStart: 0,
		heapBrk:   0,
		heapMax:   Ptr(capacity),
	}
	return r, nil
}

// Sbrk grows the region by delta bytes and returns the offset of the old
// break (the base of the newly reserved span). It fails with
// ErrOutOfMemory if the new break would exceed the region's capacity.
func (r *Region) Sbrk(delta uint32) (Ptr, error) {
	old := r.heapBrk
	newBrk := uint64(old) + uint64(delta)
	if newBrk > uint64(r.heapMax) {
		r.lastErr = ErrOutOfMemory
		return NullPtr, ErrOutOfMemory
	}
	r.mem = r.mem[:newBrk]
	r.heapBrk = Ptr(newBrk)
	return old, nil
}

// Teardown releases the backing arena. All offsets into it become
// dangling after this call.
func (r *Region) Teardown() {
	r.mem = nil
	r.heapStart = 0
	r.heapBrk = 0
	r.lastErr = nil
}

// Initialized reports whether the region currently owns a live arena.
func (r *Region) Initialized() bool {
	return r.mem != nil
}

// Brk returns the current break offset (one past the last committed byte).
func (r *Region) Brk() Ptr {
	return r.heapBrk
}

// Capacity returns the region's fixed capacity in bytes.
func (r *Region) Capacity() uint32 {
	return uint32(r.heapMax)
}

// LastError returns the most recent out-of-memory condition observed by
// Sbrk, or nil. It is a diagnostic convenience standing in for the
// errno-style side channel of the C original this design is based on.
func (r *Region) LastError() error {
	return r.lastErr
}

// Uint32At reads the little-endian uint32 boundary tag at offset off.
func (r *Region) Uint32At(off Ptr) uint32 {
	return binary.LittleEndian.Uint32(r.mem[off : off+4])
}

// PutUint32At writes v as a little-endian uint32 boundary tag at offset off.
func (r *Region) PutUint32At(off Ptr, v uint32) {
	binary.LittleEndian.PutUint32(r.mem[off:off+4], v)
}

// Bytes returns a raw slice view of n bytes starting at off, for payload
// reads/writes and block-to-block copies.
func (r *Region) Bytes(off Ptr, n uint32) []byte {
	return r.mem[off : off+Ptr(n)]
}

// CopyWithin copies n bytes from src to dst within the same arena, used
// by Reallocate to migrate a block's payload to its new home.
func (r *Region) CopyWithin(dst, src Ptr, n uint32) {
	copy(r.Bytes(dst, n), r.Bytes(src, n))
}
