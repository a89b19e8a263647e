// Package nodepar provides a chunked, static-partition parallel-for used by
// the node- and element-indexed kernels in this repository: bounding-box
// initialisation, permutation of a scalar field through New2Old, per-node
// Hessian recovery, and per-node scale-and-intersect. A static partition
// (rather than work-stealing) is used deliberately: repeated kernels over
// the same MetricField should keep each worker reading and writing the same
// slice of node indices, so that first-touch NUMA placement stays stable
// across kernels.
package nodepar

import (
	"runtime"
	"sync"
)

// For splits the range [0,total) into contiguous chunks and runs fn over
// each chunk concurrently, blocking until every chunk has completed. fn must
// be safe to call concurrently from different chunks; this package
// guarantees that no two chunks overlap, so disjointly-indexed writes never
// collide. The first error returned by any chunk is propagated to the
// caller after all chunks finish.
func For(total int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}
	chunkSize := (total + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	chunk := 0
	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}

		wg.Add(1)
		go func(idx, start, end int) {
			defer wg.Done()
			errs[idx] = fn(start, end)
		}(chunk, start, end)
		chunk++
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
