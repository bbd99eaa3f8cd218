// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/variates/backends"
	"github.com/gomlx/variates/shapeinference"
	"github.com/gomlx/variates/types/shapes"
)

// Legality flag sentinels: the device-side flag starts at flagValid and any
// violating parameter element forces it to flagInvalid.
const (
	flagValid   float32 = 0
	flagInvalid float32 = -1
)

// checkLegality runs the legality-check kernel over every parameter element
// and reduces the verdict into a device-side flag, which is copied back to
// the host and compared against the sentinels. The per-element predicate
// violates defines the distribution's domain constraint.
//
// The reduction is an associative-commutative "any violation wins" fold:
// lanes may observe violations in any order, the final verdict is the same.
// It holds no state across calls -- re-running on the same tensor always
// yields the same verdict.
func checkLegality(exec backends.Executor, params *backends.Buffer, violates func(v float64) bool) bool {
	flag := exec.NewBuffer(shapes.Make(dtypes.Float32, 1))
	defer exec.PutBuffer(flag)
	flag.Flat().([]float32)[0] = flagValid // Pooled buffers carry stale data, zero the flag first.

	var violation atomic.Bool
	switch flat := params.Flat().(type) {
	case []float32:
		legalityKernel(exec, flat, violates, &violation)
	case []float64:
		legalityKernel(exec, flat, violates, &violation)
	default:
		exceptions.Panicf("unsupported parameter dtype %s for legality check", params.Shape().DType)
	}
	if violation.Load() {
		flag.Flat().([]float32)[0] = flagInvalid
	}
	return exec.ReadScalarF32(flag) >= 0
}

func legalityKernel[T podFloatConstraints](exec backends.Executor, flat []T, violates func(float64) bool, violation *atomic.Bool) {
	exec.Launch(len(flat), func(low, high int) {
		for _, v := range flat[low:high] {
			if violates(float64(v)) {
				violation.Store(true)
				return
			}
		}
	})
}

// broadcastPlan is the canonicalized stride/coordinate mapping of a parameter
// shape against an output shape: collapsed output dimensions and the
// parameter's stride vector, zero on broadcast axes.
type broadcastPlan struct {
	ndim   int
	odims  []int
	stride []int
}

func newBroadcastPlan(param, out shapes.Shape) broadcastPlan {
	ndim, ldims, odims, err := shapeinference.FillShape(param, out)
	if err != nil {
		exceptions.Panicf("ValueError: %v", err)
	}
	return broadcastPlan{ndim: ndim, odims: odims, stride: shapeinference.CalcStride(ldims)}
}

// OutputShape returns the shape sampled variates take for the given parameter
// shape: the requested size if given -- the parameter shape must broadcast
// into it -- or the parameter's own dimensions otherwise.
func OutputShape(param shapes.Shape, dtype dtypes.DType, size ...int) shapes.Shape {
	if len(size) == 0 {
		return shapes.Make(dtype, param.Dimensions...)
	}
	requested := shapes.Make(dtype, size...)
	broadcast, err := shapeinference.BroadcastShapes(requested, param)
	if err != nil {
		exceptions.Panicf("ValueError: %v", err)
	}
	if !broadcast.EqualDimensions(requested) {
		exceptions.Panicf("ValueError: parameter shape %s does not broadcast into the requested size %v", param, size)
	}
	return requested
}

// checkSampleBuffers validates the output/noise buffer pair every Forward
// call takes: noise is Float32 with one element per output element.
func checkSampleBuffers(out, noise *backends.Buffer) {
	if out == nil || noise == nil {
		exceptions.Panicf("the output and noise buffers must both be provided")
	}
	if noise.Shape().DType != dtypes.Float32 {
		exceptions.Panicf("the noise buffer must be Float32, got %s", noise.Shape())
	}
	if noise.Shape().Size() != out.Shape().Size() {
		exceptions.Panicf("the noise buffer %s must have one element per output element (output shape %s)",
			noise.Shape(), out.Shape())
	}
}

// scalarReparamBackward re-derives the broadcast between the parameter shape
// and the output shape and reduce-sums gradOut * localDeriv into gradParam,
// one value per parameter element: NumPy broadcasting gradient-reduction
// semantics. localDeriv is the noise buffer saved by the forward pass, which
// holds ∂out/∂param per output element.
//
// Shared by all distributions. The accumulation is an explicit fold: each
// lane accumulates into a private partial vector and the partials are summed
// under a lock, so the reduction is parallel-safe by construction.
func scalarReparamBackward(exec backends.Executor, gradOut, localDeriv *backends.Buffer, paramShape shapes.Shape, gradParam *backends.Buffer) {
	if gradParam.Shape().Size() != paramShape.Size() {
		exceptions.Panicf("gradient buffer %s does not match the parameter shape %s", gradParam.Shape(), paramShape)
	}
	if localDeriv == nil || localDeriv.Shape().DType != dtypes.Float32 ||
		localDeriv.Shape().Size() != gradOut.Shape().Size() {
		exceptions.Panicf("the saved noise buffer must be Float32 with one element per output element")
	}
	plan := newBroadcastPlan(paramShape, gradOut.Shape())
	deriv := localDeriv.Flat().([]float32)

	grad, owned := ensureNativeFloat(exec, gradOut)
	if owned {
		defer exec.PutBuffer(grad)
	}
	var acc []float64
	switch flat := grad.Flat().(type) {
	case []float32:
		acc = reduceReparamKernel(exec, plan, flat, deriv, paramShape.Size())
	case []float64:
		acc = reduceReparamKernel(exec, plan, flat, deriv, paramShape.Size())
	}
	writeGradient(exec, acc, gradParam)
}

func reduceReparamKernel[T podFloatConstraints](exec backends.Executor, plan broadcastPlan, gradOut []T, deriv []float32, paramSize int) []float64 {
	acc := make([]float64, paramSize)
	var mu sync.Mutex
	exec.Launch(len(gradOut), func(low, high int) {
		local := make([]float64, paramSize)
		var coords shapeinference.Coords
		for i := low; i < high; i++ {
			shapeinference.Unravel(i, plan.odims, &coords)
			idx := shapeinference.Dot(&coords, plan.stride, plan.ndim)
			local[idx] += float64(gradOut[i]) * float64(deriv[i])
		}
		mu.Lock()
		for j, v := range local {
			acc[j] += v
		}
		mu.Unlock()
	})
	return acc
}

// writeGradient stores the accumulated partials into gradParam, converting to
// its dtype.
func writeGradient(exec backends.Executor, acc []float64, gradParam *backends.Buffer) {
	switch flat := gradParam.Flat().(type) {
	case []float32:
		exec.Launch(len(acc), func(low, high int) {
			for i := low; i < high; i++ {
				flat[i] = float32(acc[i])
			}
		})
	case []float64:
		copy(flat, acc)
	case []float16.Float16:
		exec.Launch(len(acc), func(low, high int) {
			for i := low; i < high; i++ {
				flat[i] = float16.Fromfloat32(float32(acc[i]))
			}
		})
	case []bfloat16.BFloat16:
		exec.Launch(len(acc), func(low, high int) {
			for i := low; i < high; i++ {
				flat[i] = bfloat16.FromFloat32(float32(acc[i]))
			}
		})
	default:
		exceptions.Panicf("unsupported gradient dtype %s", gradParam.Shape().DType)
	}
}
