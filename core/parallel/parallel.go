// Package parallel splits row-wise numeric work across goroutines.
//
// Callers always block until every range is done, so from the outside a
// parallel kernel is as synchronous as a sequential one. fn must only write
// to rows inside its own range.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultThreshold is the row count below which For runs sequentially.
const DefaultThreshold = 64

// Workers returns the number of goroutines For uses for n rows.
func Workers(n int) int {
	w := runtime.GOMAXPROCS(0)
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// For runs fn over [0, n) in contiguous ranges, one per worker.
func For(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	workers := Workers(n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ForWithThreshold runs fn(0, n) inline when n <= threshold.
func ForWithThreshold(n, threshold int, fn func(start, end int)) {
	if n <= threshold {
		if n > 0 {
			fn(0, n)
		}
		return
	}
	For(n, fn)
}
