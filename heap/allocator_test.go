package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func noViolations(t *testing.T, a *Allocator) {
	t.Helper()
	violations := a.CheckHeap(false)
	require.Empty(t, violations, "expected no heap invariant violations")
}

// Scenario 1: round-trip — spec.md §8.
func TestRoundTrip(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(8)
	require.NoError(t, err)
	require.NotEqual(t, NullPtr, p)
	require.Zero(t, uint32(p)%DWord, "handle must be DWord-aligned")

	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xAA
	}
	// write directly into the arena via the region's raw view.
	a.mu.Lock()
	copy(a.region.Bytes(p, 8), buf)
	a.mu.Unlock()

	require.NoError(t, a.Free(p))
	noViolations(t, a)
	a.Teardown()
}

// Scenario 2: write/read preservation — spec.md §8.
func TestWriteReadPreservation(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(12)
	require.NoError(t, err)

	a.mu.Lock()
	a.region.PutUint32At(p, 20)
	got := a.region.Uint32At(p)
	a.mu.Unlock()
	require.Equal(t, uint32(20), got)

	require.NoError(t, a.Free(p))
	a.Teardown()
}

// Scenario 3: realloc preservation — spec.md §8.
func TestReallocPreservesPrefix(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(20)
	require.NoError(t, err)

	a.mu.Lock()
	a.region.PutUint32At(p, 20)
	a.mu.Unlock()

	q, err := a.Reallocate(p, 30)
	require.NoError(t, err)
	require.NotEqual(t, NullPtr, q)

	a.mu.Lock()
	got := a.region.Uint32At(q)
	a.mu.Unlock()
	require.Equal(t, uint32(20), got)

	require.NoError(t, a.Free(q))
	a.Teardown()
}

// Scenario 4: coalesce — spec.md §8.
func TestCoalesceMergesFreedNeighbors(t *testing.T) {
	a := NewAllocator()
	pa, err := a.Allocate(64)
	require.NoError(t, err)
	pb, err := a.Allocate(64)
	require.NoError(t, err)
	pc, err := a.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, a.Free(pa))
	require.NoError(t, a.Free(pc))
	require.NoError(t, a.Free(pb))

	noViolations(t, a)

	a.mu.Lock()
	freeBlocks := 0
	for b, hsize := a.heapListp, a.sizeAt(a.hdr(a.heapListp)); hsize > 0; hsize = a.sizeAt(a.hdr(b)) {
		if !a.allocatedAt(a.hdr(b)) {
			freeBlocks++
		}
		b = a.nextBlock(b)
	}
	a.mu.Unlock()
	require.Equal(t, 1, freeBlocks, "expected exactly one free block after coalescing a,b,c")

	a.Teardown()
}

// Scenario 5: split — spec.md §8.
func TestSplitLeavesRemainderFree(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(16)
	require.NoError(t, err)

	a.mu.Lock()
	placedSize := a.sizeAt(a.hdr(p))
	next := a.nextBlock(p)
	remSize := a.sizeAt(a.hdr(next))
	remFree := !a.allocatedAt(a.hdr(next))
	a.mu.Unlock()

	require.Equal(t, uint32(24), placedSize, "16 payload bytes round up to a 24-byte block")
	require.True(t, remFree, "the remainder of the split must be free")
	require.Equal(t, uint32(Chunk-24), remSize)

	require.NoError(t, a.Free(p))
	a.Teardown()
}

// Scenario 6: exhaustion — spec.md §8.
func TestExhaustionThenSmallerAllocSucceeds(t *testing.T) {
	a, err := NewAllocatorWithCapacity(8 * 1024 * 1024)
	require.NoError(t, err)

	var handles []Ptr
	successes := 0
	exhausted := false
	for i := 0; i < 100; i++ {
		p, err := a.Allocate(1024 * 1024)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfMemory)
			exhausted = true
			break
		}
		handles = append(handles, p)
		successes++
	}
	require.True(t, exhausted, "an 8MiB region should not satisfy 100 1MiB allocations")
	require.Greater(t, successes, 0)
	require.Less(t, successes, 100)

	// free everything, then a smaller allocation must still succeed.
	for _, h := range handles {
		require.NoError(t, a.Free(h))
	}
	p, err := a.Allocate(1024)
	require.NoError(t, err)
	require.NotEqual(t, NullPtr, p)

	a.Teardown()
}

func TestAllocateZeroReturnsNull(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, NullPtr, p)
	a.Teardown()
}

func TestFreeNullIsNoop(t *testing.T) {
	a := NewAllocator()
	require.NoError(t, a.Free(NullPtr))
	a.Teardown()
}

func TestReallocateNullEqualsAllocate(t *testing.T) {
	a := NewAllocator()
	p, err := a.Reallocate(NullPtr, 32)
	require.NoError(t, err)
	require.NotEqual(t, NullPtr, p)
	a.Teardown()
}

func TestReallocateZeroFreesAndReturnsNull(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(32)
	require.NoError(t, err)

	q, err := a.Reallocate(p, 0)
	require.NoError(t, err)
	require.Equal(t, NullPtr, q)
	noViolations(t, a)
	a.Teardown()
}

func TestFreeThenAllocateReusesSpace(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(256)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	q, err := a.Allocate(256)
	require.NoError(t, err)
	require.Equal(t, p, q, "freed space should be reused by the next fitting allocation")
	require.NoError(t, a.Free(q))
	a.Teardown()
}

func TestAllocateAlwaysReturnsAlignedHandles(t *testing.T) {
	a := NewAllocator()
	sizes := []uint32{1, 4, 7, 8, 9, 15, 16, 17, 100, 4096}
	var handles []Ptr
	for _, s := range sizes {
		p, err := a.Allocate(s)
		require.NoError(t, err)
		require.Zero(t, uint32(p)%DWord)
		handles = append(handles, p)
	}
	noViolations(t, a)
	for _, h := range handles {
		require.NoError(t, a.Free(h))
	}
	noViolations(t, a)
	a.Teardown()
}

func TestCheckHeapDetectsNothingOnFreshHeap(t *testing.T) {
	a := NewAllocator()
	noViolations(t, a)
	a.Teardown()
}

func TestFingerprintStableAcrossRoundTrip(t *testing.T) {
	a := NewAllocator()
	require.NoError(t, a.Init())
	before := a.CheckHeap(true)
	require.Empty(t, before)
	fpBefore := a.Fingerprint()

	p, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	fpAfter := a.Fingerprint()
	require.Equal(t, fpBefore, fpAfter, "allocate immediately followed by free should restore heap shape")
	a.Teardown()
}

func TestStateTransitions(t *testing.T) {
	a := NewAllocator()
	require.Equal(t, StateUninitialized, a.State())

	_, err := a.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, StateReady, a.State())

	a.Teardown()
	require.Equal(t, StateUninitialized, a.State())
}

func TestOwns(t *testing.T) {
	a := NewAllocator()
	p, err := a.Allocate(16)
	require.NoError(t, err)
	require.True(t, a.Owns(p))
	require.False(t, a.Owns(Ptr(1<<20)))
	require.NoError(t, a.Free(p))
	a.Teardown()
}

func TestDefaultIsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}

func BenchmarkAllocate(b *testing.B) {
	sizes := []uint32{16, 64, 256, 1024, 4096}
	for _, size := range sizes {
		b.Run(sizeLabel(size), func(b *testing.B) {
			a := NewAllocator()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := a.Allocate(size); err != nil {
					b.Fatalf("Allocate(%d) failed: %v", size, err)
				}
			}
			b.StopTimer()
			a.Teardown()
		})
	}
}

func BenchmarkAllocateFree(b *testing.B) {
	sizes := []uint32{16, 64, 256, 1024, 4096}
	for _, size := range sizes {
		b.Run(sizeLabel(size), func(b *testing.B) {
			a := NewAllocator()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				p, err := a.Allocate(size)
				if err != nil {
					b.Fatalf("Allocate(%d) failed: %v", size, err)
				}
				if err := a.Free(p); err != nil {
					b.Fatalf("Free failed: %v", err)
				}
			}
			b.StopTimer()
			a.Teardown()
		})
	}
}

func sizeLabel(size uint32) string {
	switch {
	case size >= 1024:
		return "Size_" + itoa(size/1024) + "KB"
	default:
		return "Size_" + itoa(size) + "B"
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
