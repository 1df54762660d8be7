// Command dmallocdemo drives a random allocate/free workload against a
// heap.Allocator from multiple goroutines and reports usage statistics,
// mirroring the workload-and-report shape of the teacher pack's own
// allocator demos.
package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oss-heap/dmalloc/heap"
)

const (
	RegionSize    = 8 * 1024 * 1024 // 8 MiB
	MinBlockSize  = 16
	MaxBlockSize  = 4096
	Workers       = 8
	OpsPerWorker  = 20000
	TestIteration = 3
)

// TestResult summarizes one workload iteration.
type TestResult struct {
	Iteration     int
	TotalAllocs   uint64
	TotalFrees    uint64
	OOMCount      uint64
	FinalUsage    float64
	UsedBytes     uint32
	Violations    int
	TotalDuration time.Duration
}

func runTest(iteration int) TestResult {
	a, err := heap.NewAllocatorWithCapacity(RegionSize)
	if err != nil {
		panic(err)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		allocated = make(map[heap.Ptr]struct{})
		allocs    uint64
		frees     uint64
		ooms      uint64
	)

	start := time.Now()
	for w := 0; w < Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < OpsPerWorker; i++ {
				if rng.Float64() < 0.7 {
					size := uint32(rng.Intn(MaxBlockSize-MinBlockSize+1) + MinBlockSize)
					p, err := a.Allocate(size)
					if err != nil {
						mu.Lock()
						ooms++
						mu.Unlock()
						continue
					}
					mu.Lock()
					allocated[p] = struct{}{}
					allocs++
					mu.Unlock()
				} else {
					mu.Lock()
					var victim heap.Ptr
					found := false
					for p := range allocated {
						victim = p
						found = true
						break
					}
					if found {
						delete(allocated, victim)
					}
					mu.Unlock()
					if found {
						if err := a.Free(victim); err != nil {
							panic(err)
						}
						mu.Lock()
						frees++
						mu.Unlock()
					}
				}
			}
		}(int64(iteration)*1000 + int64(w))
	}
	wg.Wait()
	duration := time.Since(start)

	violations := a.CheckHeap(false)
	result := TestResult{
		Iteration:     iteration,
		TotalAllocs:   allocs,
		TotalFrees:    frees,
		OOMCount:      ooms,
		FinalUsage:    a.Utilization() * 100,
		UsedBytes:     a.UsedBytes(),
		Violations:    len(violations),
		TotalDuration: duration,
	}
	a.Teardown()
	return result
}

func main() {
	fmt.Printf("Starting allocator workload with %d iterations\n", TestIteration)
	fmt.Printf("Region size: %d KB, workers: %d, ops/worker: %d\n", RegionSize/1024, Workers, OpsPerWorker)
	fmt.Println()

	var results []TestResult
	for i := 0; i < TestIteration; i++ {
		fmt.Printf("Running iteration %d...\n", i+1)
		r := runTest(i + 1)
		results = append(results, r)

		fmt.Printf("Iteration %d results:\n", i+1)
		fmt.Printf("  Allocations: %d\n", r.TotalAllocs)
		fmt.Printf("  Frees: %d\n", r.TotalFrees)
		fmt.Printf("  Out-of-memory events: %d\n", r.OOMCount)
		fmt.Printf("  Final usage: %.2f%%\n", r.FinalUsage)
		fmt.Printf("  Used bytes: %d\n", r.UsedBytes)
		fmt.Printf("  Heap violations: %d\n", r.Violations)
		fmt.Printf("  Duration: %v\n", r.TotalDuration)
		fmt.Println()
	}

	var avgUsage, avgDuration float64
	var totalViolations int
	for _, r := range results {
		avgUsage += r.FinalUsage
		avgDuration += r.TotalDuration.Seconds()
		totalViolations += r.Violations
	}
	avgUsage /= float64(len(results))
	avgDuration /= float64(len(results))

	fmt.Println("Summary:")
	fmt.Printf("  Average final usage: %.2f%%\n", avgUsage)
	fmt.Printf("  Average duration: %.2f seconds\n", avgDuration)
	fmt.Printf("  Total heap violations across runs: %d\n", totalViolations)
}
