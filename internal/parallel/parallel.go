// Package parallel splits independent loop iterations across goroutines.
//
// Convolution and interpolation kernels operate on many independent lines of a
// tensor. Those loops use Range or Lines so that small tensors stay on the
// calling goroutine and large ones are split into contiguous chunks.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum iterations per goroutine.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 32,
	}
}

// Sequential returns a configuration which never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// Range calls f(start, end) for disjoint chunks covering [0, n).
// Chunks run concurrently unless parallelism is disabled or n is small.
// Range returns once every chunk has completed.
func Range(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := max(cfg.NumWorkers, 1)
	if !cfg.Enabled || workers == 1 || n < 2*max(cfg.MinChunkSize, 1) {
		f(0, n)
		return
	}

	chunk := max((n+workers-1)/workers, cfg.MinChunkSize)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Lines calls f(outer, inner) for every pair in [0, outer) x [0, inner).
//
// This matches the iteration over 1-D lines of an N-d tensor along one axis,
// where outer counts the blocks before the axis and inner the elements after it.
func Lines(outer, inner int, f func(o, i int), cfg Config) {
	Range(outer*inner, func(start, end int) {
		for k := start; k < end; k++ {
			f(k/inner, k%inner)
		}
	}, cfg)
}
