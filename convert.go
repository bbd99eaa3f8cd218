// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/variates/backends"
)

// podFloatConstraints are the Go float types the kernels handle natively.
// Float16 and BFloat16 are specialized types; buffers using them are
// converted to Float32 around the kernels.
type podFloatConstraints interface {
	float32 | float64
}

// ensureNativeFloat returns the buffer in a dtype the kernels handle
// natively: Float32/Float64 buffers pass through, Float16/BFloat16 buffers
// are converted into a pooled Float32 scratch. owned reports whether the
// caller must return the result to the executor's pool.
func ensureNativeFloat(exec backends.Executor, buffer *backends.Buffer) (converted *backends.Buffer, owned bool) {
	switch buffer.Shape().DType {
	case dtypes.Float32, dtypes.Float64:
		return buffer, false
	case dtypes.Float16:
		converted = exec.NewBuffer(buffer.Shape().WithDType(dtypes.Float32))
		src := buffer.Flat().([]float16.Float16)
		dst := converted.Flat().([]float32)
		exec.Launch(len(src), func(low, high int) {
			for i := low; i < high; i++ {
				dst[i] = src[i].Float32()
			}
		})
		return converted, true
	case dtypes.BFloat16:
		converted = exec.NewBuffer(buffer.Shape().WithDType(dtypes.Float32))
		src := buffer.Flat().([]bfloat16.BFloat16)
		dst := converted.Flat().([]float32)
		exec.Launch(len(src), func(low, high int) {
			for i := low; i < high; i++ {
				dst[i] = src[i].Float32()
			}
		})
		return converted, true
	default:
		exceptions.Panicf("unsupported dtype %s, expected a float dtype", buffer.Shape().DType)
	}
	return nil, false
}

// floatComputeBuffer returns the buffer the transform kernels should write
// to: out itself for native float dtypes, or a pooled Float32 scratch for
// Float16/BFloat16 outputs. commitOutput converts and releases the scratch.
func floatComputeBuffer(exec backends.Executor, out *backends.Buffer) (compute *backends.Buffer, owned bool) {
	switch out.Shape().DType {
	case dtypes.Float32, dtypes.Float64:
		return out, false
	case dtypes.Float16, dtypes.BFloat16:
		return exec.NewBuffer(out.Shape().WithDType(dtypes.Float32)), true
	default:
		exceptions.Panicf("unsupported output dtype %s, expected a float dtype", out.Shape().DType)
	}
	return nil, false
}

// commitOutput converts the Float32 scratch into the Float16/BFloat16 output
// buffer and returns the scratch to the pool. No-op when compute is out
// itself.
func commitOutput(exec backends.Executor, compute, out *backends.Buffer, owned bool) {
	if !owned {
		return
	}
	src := compute.Flat().([]float32)
	switch dst := out.Flat().(type) {
	case []float16.Float16:
		exec.Launch(len(src), func(low, high int) {
			for i := low; i < high; i++ {
				dst[i] = float16.Fromfloat32(src[i])
			}
		})
	case []bfloat16.BFloat16:
		exec.Launch(len(src), func(low, high int) {
			for i := low; i < high; i++ {
				dst[i] = bfloat16.FromFloat32(src[i])
			}
		})
	}
	exec.PutBuffer(compute)
}
