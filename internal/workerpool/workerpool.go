// Package workerpool runs jobs across a bounded set of goroutines.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// Size returns the number of goroutines Map starts for numJobs items.
// A numWorkers of 0 or less means the number of CPUs, and there are never
// more workers than jobs.
func Size(numWorkers, numJobs int) int {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return max(min(numWorkers, numJobs), 0)
}

// Map applies fn to every item with at most numWorkers running at once and
// returns the results in input order. fn is expected to honor ctx.
func Map[In any, Out any](ctx context.Context, numWorkers int, items []In, fn func(context.Context, In) Out) []Out {
	out := make([]Out, len(items))
	next := make(chan int)

	var wg sync.WaitGroup
	for range Size(numWorkers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				out[i] = fn(ctx, items[i])
			}
		}()
	}
	for i := range items {
		next <- i
	}
	close(next)
	wg.Wait()
	return out
}
