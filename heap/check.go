package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/intuitivelabs/slog"
	"golang.org/x/crypto/sha3"
)

// CheckHeap walks the heap and verifies the invariants of spec.md §3.5,
// reporting (never repairing) every violation it finds. It never mutates
// state. When verbose is true it also logs a per-block [size:alloc] dump,
// mirroring the shape of the teacher's dumpStatus verbose dump; when
// verbose is true or any violation is found it logs the heap's Fingerprint.
func (a *Allocator) CheckHeap(verbose bool) []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkHeapUnsafe(verbose)
}

func (a *Allocator) checkHeapUnsafe(verbose bool) []Violation {
	var violations []Violation

	if a.region == nil || !a.region.Initialized() {
		return violations
	}

	report := func(v Violation) {
		violations = append(violations, v)
		ERR("checkHeap: %s at %d: %s", v.Kind, v.At, v.Detail)
	}

	if verbose {
		DBG("Heap (heapListp=%d):", a.heapListp)
	}

	// Prologue.
	b := a.heapListp
	if a.sizeAt(a.hdr(b)) != prologueSz || !a.allocatedAt(a.hdr(b)) {
		report(Violation{ViolationBadPrologue, b, "prologue header is not (8, allocated)"})
	}
	if a.region.Uint32At(a.hdr(b)) != a.region.Uint32At(a.ftr(b)) {
		report(Violation{ViolationHeaderFooterMismatch, b, "prologue header/footer mismatch"})
	}

	prevWasFree := false

	for hsize := a.sizeAt(a.hdr(b)); hsize > 0; hsize = a.sizeAt(a.hdr(b)) {
		if verbose {
			a.logBlock(b)
		}
		if uint32(b)%DWord != 0 {
			report(Violation{ViolationMisaligned, b, "handle is not DWord-aligned"})
		}
		if a.region.Uint32At(a.hdr(b)) != a.region.Uint32At(a.ftr(b)) {
			report(Violation{ViolationHeaderFooterMismatch, b, "header/footer mismatch"})
		}
		if hsize < MinBlock && b != a.heapListp {
			report(Violation{ViolationMinSize, b, fmt.Sprintf("block size %d below MinBlock", hsize)})
		}
		free := !a.allocatedAt(a.hdr(b))
		if free && prevWasFree {
			report(Violation{ViolationAdjacentFrees, b, "two adjacent free blocks"})
		}
		prevWasFree = free

		b = a.nextBlock(b)
	}

	// Epilogue.
	if verbose {
		a.logBlock(b)
	}
	if a.sizeAt(a.hdr(b)) != 0 || !a.allocatedAt(a.hdr(b)) {
		report(Violation{ViolationBadEpilogue, b, "epilogue header is not (0, allocated)"})
	}
	if a.hdr(b) != a.region.Brk()-Word {
		report(Violation{ViolationBadEpilogue, b, "epilogue header is not at the heap break"})
	}

	if verbose || len(violations) > 0 {
		DBG("checkHeap: fingerprint=%s violations=%d", a.fingerprintUnsafe(), len(violations))
	}

	return violations
}

func (a *Allocator) logBlock(b Ptr) {
	if !Log.L(slog.LDBG) {
		return
	}
	hv := a.region.Uint32At(a.hdr(b))
	hsize := hv & sizeMask
	if hsize == 0 {
		DBG("  %d: EOL [0:a]", b)
		return
	}
	fv := a.region.Uint32At(a.ftr(b))
	DBG("  %d: header=[%d:%c] footer=[%d:%c]", b,
		hv&sizeMask, allocChar(hv), fv&sizeMask, allocChar(fv))
}

func allocChar(v uint32) byte {
	if v&allocFlag != 0 {
		return 'a'
	}
	return 'f'
}

// Fingerprint returns a digest over the ordered sequence of (size,
// allocated) boundary-tag records the allocator currently walks, from
// the prologue through the epilogue. It is a debugging aid for comparing
// heap shape across two points in a test — not a tamper-detection or
// security mechanism.
func (a *Allocator) Fingerprint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fingerprintUnsafe()
}

func (a *Allocator) fingerprintUnsafe() string {
	if a.region == nil || !a.region.Initialized() {
		return ""
	}
	h := sha3.New256()
	var buf [4]byte
	for b := a.heapListp; ; b = a.nextBlock(b) {
		v := a.region.Uint32At(a.hdr(b))
		binary.LittleEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
		if v&sizeMask == 0 {
			break
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
