// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a sequential Executor: kernels run inline on the
// calling goroutine. It is the simplest backend and the reference for the
// others -- any executor must produce bit-for-bit the same results.
package cpu

import (
	"github.com/gomlx/variates/backends"
)

// ExecutorName to be used in VARIATES_EXECUTOR to select this executor.
const ExecutorName = "cpu"

func init() {
	backends.Register(ExecutorName, New)
}

// New constructs a new sequential CPU executor. There is no configuration,
// the string is ignored.
func New(_ string) backends.Executor {
	return &Executor{}
}

// Executor runs kernels sequentially on the calling goroutine.
type Executor struct {
	backends.Pool
}

// Compile-time check that cpu.Executor implements backends.Executor.
var _ backends.Executor = (*Executor)(nil)

// Name returns the executor name ("cpu").
func (e *Executor) Name() string { return ExecutorName }

// Launch runs the kernel inline over the full range [0, n).
func (e *Executor) Launch(n int, kernel func(low, high int)) {
	if n <= 0 {
		return
	}
	kernel(0, n)
}

// Parallelism returns 1: kernels run on a single lane.
func (e *Executor) Parallelism() int { return 1 }

// ReadScalarF32 returns the single element of the buffer. On this executor
// device memory is host memory, so the copy is a plain read; it is still the
// synchronization point after a kernel launch.
func (e *Executor) ReadScalarF32(buffer *backends.Buffer) float32 {
	return buffer.Flat().([]float32)[0]
}
