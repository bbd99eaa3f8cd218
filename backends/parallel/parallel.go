// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package parallel implements an accelerator-style Executor: Launch
// partitions the index range into chunks, one per lane, and runs them on a
// pool of worker goroutines. There is no ordering between chunks -- kernels
// must be data-parallel, which is what the sampling ops guarantee.
package parallel

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/variates/backends"
)

// ExecutorName to be used in VARIATES_EXECUTOR to select this executor.
const ExecutorName = "parallel"

func init() {
	backends.Register(ExecutorName, New)
}

// minChunkSize is the smallest per-lane chunk worth dispatching to a worker:
// below this the goroutine hand-off costs more than the kernel work.
const minChunkSize = 256

// New constructs a parallel executor. The config string, if not empty, sets
// the number of lanes (e.g. "parallel:8" in VARIATES_EXECUTOR); the default
// is runtime.NumCPU().
func New(config string) backends.Executor {
	lanes := runtime.NumCPU()
	if config != "" {
		parsed, err := strconv.Atoi(config)
		if err != nil || parsed <= 0 {
			exceptions.Panicf("parallel executor: invalid configuration %q, expected a positive number of lanes", config)
		}
		lanes = parsed
	}
	e := &Executor{lanes: lanes}
	e.workers.initialize(lanes)
	klog.V(1).Infof("parallel executor: %d lanes", lanes)
	return e
}

// Executor runs kernels on a pool of worker goroutines.
type Executor struct {
	backends.Pool
	lanes   int
	workers workersPool
}

// Compile-time check that parallel.Executor implements backends.Executor.
var _ backends.Executor = (*Executor)(nil)

// Name returns the executor name ("parallel").
func (e *Executor) Name() string { return ExecutorName }

// Parallelism returns the number of lanes.
func (e *Executor) Parallelism() int { return e.lanes }

// Launch partitions [0, n) into up to Parallelism() contiguous chunks and
// runs the kernel on the worker pool, returning after all chunks finish.
// Small ranges run inline.
func (e *Executor) Launch(n int, kernel func(low, high int)) {
	if n <= 0 {
		return
	}
	chunk := (n + e.lanes - 1) / e.lanes
	if chunk < minChunkSize {
		chunk = minChunkSize
	}
	if chunk >= n {
		kernel(0, n)
		return
	}
	var wg sync.WaitGroup
	for low := 0; low < n; low += chunk {
		high := min(low+chunk, n)
		wg.Add(1)
		e.workers.waitToStart(func() {
			defer wg.Done()
			kernel(low, high)
		})
	}
	wg.Wait()
}

// ReadScalarF32 returns the single element of the buffer. Launch only returns
// after all lanes finished, so by the time this runs the flag value is
// settled; the read is the host-visible synchronization point.
func (e *Executor) ReadScalarF32(buffer *backends.Buffer) float32 {
	return buffer.Flat().([]float32)[0]
}

// workersPool caps the number of concurrently running worker goroutines.
type workersPool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning decreases.
	numRunning     int
}

func (w *workersPool) initialize(maxParallelism int) {
	w.maxParallelism = maxParallelism
	w.cond = sync.Cond{L: &w.mu}
}

// waitToStart blocks until a worker is available, then runs the task on a new
// goroutine. It does not wait for the task to finish.
func (w *workersPool) waitToStart(task func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}
