package heap

// Metadata accessors — spec.md §4.1. All block introspection funnels
// through these pure functions over a handle b (a Ptr pointing at a
// block's payload base). They are the only place that talks directly to
// the region's boundary-tag byte accessors.

func pack(size uint32, allocated bool) uint32 {
	v := size &^ 0x7
	if allocated {
		v |= allocFlag
	}
	return v
}

// hdr returns the offset of b's header record.
func (a *Allocator) hdr(b Ptr) Ptr {
	return b - Word
}

// ftr returns the offset of b's footer record.
func (a *Allocator) ftr(b Ptr) Ptr {
	return b + Ptr(a.sizeAt(a.hdr(b))) - DWord
}

// sizeAt reads the total block size packed at boundary-tag offset p.
func (a *Allocator) sizeAt(p Ptr) uint32 {
	return a.region.Uint32At(p) & sizeMask
}

// allocatedAt reads the allocated flag packed at boundary-tag offset p.
func (a *Allocator) allocatedAt(p Ptr) bool {
	return a.region.Uint32At(p)&allocFlag != 0
}

// nextBlock returns the handle of the block physically following b.
func (a *Allocator) nextBlock(b Ptr) Ptr {
	return b + Ptr(a.sizeAt(a.hdr(b)))
}

// prevBlock returns the handle of the block physically preceding b, read
// via that block's footer.
func (a *Allocator) prevBlock(b Ptr) Ptr {
	return b - Ptr(a.sizeAt(b-DWord))
}

// setHdrFtr writes an identical (size, allocated) record into both b's
// header and footer.
func (a *Allocator) setHdrFtr(b Ptr, size uint32, allocated bool) {
	v := pack(size, allocated)
	a.region.PutUint32At(a.hdr(b), v)
	a.region.PutUint32At(b+Ptr(size)-DWord, v)
}
