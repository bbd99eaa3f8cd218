// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/variates/backends"
	"github.com/gomlx/variates/shapeinference"
	"github.com/gomlx/variates/types/shapes"
)

// Rayleigh is the sampling op for the Rayleigh distribution, generating
// variates through the inverse transform out = scale * sqrt(-2*ln(u)) for
// uniform noise u ∈ (0,1) and scale >= 0.
//
// The scale is either a scalar fixed at construction (NewRayleigh) or a
// per-call tensor broadcast against the output shape (NewRayleighTensor) --
// exactly one of the two forms is active per op instance.
type Rayleigh struct {
	scale     float64
	hasScalar bool
}

// NewRayleigh returns a Rayleigh op with a scalar scale. Its Forward takes no
// parameter tensor and its Backward is a no-op: there is no tensor to
// propagate gradients into.
func NewRayleigh(scale float64) *Rayleigh {
	return &Rayleigh{scale: scale, hasScalar: true}
}

// NewRayleighTensor returns a Rayleigh op whose scale is given to each
// Forward call as a parameter tensor, broadcast against the output shape.
func NewRayleighTensor() *Rayleigh {
	return &Rayleigh{}
}

// Forward draws one Rayleigh variate per element of out.
//
// scaleParams must be nil for the scalar form; for the tensor form it holds
// the scale tensor, whose shape must broadcast against out's shape. noise
// must be a Float32 buffer with one element per output element. It is a
// second output: after the call it holds the threshold sqrt(-2*ln(u)), which
// is the local derivative ∂out/∂scale that Backward consumes.
//
// It panics with a ValueError if the scale is negative -- checked host-side
// for the scalar form, through the device-side legality flag for the tensor
// form -- before anything is written to out.
func (r *Rayleigh) Forward(exec backends.Executor, scaleParams *backends.Buffer, rng UniformSource, out, noise *backends.Buffer) {
	checkSampleBuffers(out, noise)
	sampleNoise(rng, noise)
	if r.hasScalar {
		if scaleParams != nil {
			exceptions.Panicf("Rayleigh: op was built with a scalar scale, a parameter tensor is not accepted")
		}
		if r.scale < 0 {
			exceptions.Panicf("ValueError: expect scale >= 0, got scale=%g", r.scale)
		}
		compute, owned := floatComputeBuffer(exec, out)
		noiseFlat := noise.Flat().([]float32)
		switch outFlat := compute.Flat().(type) {
		case []float32:
			rayleighScalarKernel(exec, r.scale, noiseFlat, outFlat)
		case []float64:
			rayleighScalarKernel(exec, r.scale, noiseFlat, outFlat)
		}
		commitOutput(exec, compute, out, owned)
		return
	}

	if scaleParams == nil {
		exceptions.Panicf("Rayleigh: op was built for a scale tensor, but none was given")
	}
	params, ownedParams := ensureNativeFloat(exec, scaleParams)
	if ownedParams {
		defer exec.PutBuffer(params)
	}
	if !checkLegality(exec, params, func(scale float64) bool { return scale < 0 }) {
		exceptions.Panicf("ValueError: expect scale >= 0, parameter tensor %s has negative entries", scaleParams.Shape())
	}
	plan := newBroadcastPlan(params.Shape(), out.Shape())
	compute, owned := floatComputeBuffer(exec, out)
	noiseFlat := noise.Flat().([]float32)
	switch scaleFlat := params.Flat().(type) {
	case []float32:
		launchRayleighBroadcast(exec, plan, scaleFlat, noiseFlat, compute)
	case []float64:
		launchRayleighBroadcast(exec, plan, scaleFlat, noiseFlat, compute)
	}
	commitOutput(exec, compute, out, owned)
}

func rayleighScalarKernel[T podFloatConstraints](exec backends.Executor, scale float64, noise []float32, out []T) {
	exec.Launch(len(out), func(low, high int) {
		for i := low; i < high; i++ {
			threshold := math.Sqrt(-2 * math.Log(float64(noise[i])))
			noise[i] = float32(threshold)
			out[i] = T(scale * threshold)
		}
	})
}

func launchRayleighBroadcast[IT podFloatConstraints](exec backends.Executor, plan broadcastPlan, scaleParams []IT, noise []float32, compute *backends.Buffer) {
	switch outFlat := compute.Flat().(type) {
	case []float32:
		rayleighBroadcastKernel(exec, plan, scaleParams, noise, outFlat)
	case []float64:
		rayleighBroadcastKernel(exec, plan, scaleParams, noise, outFlat)
	}
}

// rayleighBroadcastKernel maps each output index to its source scale by
// unraveling against the output shape and dotting with the parameter stride
// vector. The noise slot is overwritten with the threshold sqrt(-2*ln(u)),
// which doubles as ∂out/∂scale for the backward pass.
func rayleighBroadcastKernel[IT, OT podFloatConstraints](exec backends.Executor, plan broadcastPlan, scaleParams []IT, noise []float32, out []OT) {
	exec.Launch(len(out), func(low, high int) {
		var coords shapeinference.Coords
		for i := low; i < high; i++ {
			shapeinference.Unravel(i, plan.odims, &coords)
			idx := shapeinference.Dot(&coords, plan.stride, plan.ndim)
			threshold := math.Sqrt(-2 * math.Log(float64(noise[i])))
			noise[i] = float32(threshold)
			out[i] = OT(float64(scaleParams[idx]) * threshold)
		}
	})
}

// Backward computes the gradient of the sampled output with respect to the
// broadcast scale tensor. gradParam receives one value per parameter element:
// the sum of gradOut times the saved threshold over every output position
// that broadcasts to that element.
//
// savedNoise must be the noise buffer from the matching Forward call,
// untouched in between. Backward is a no-op when gradOut has no elements, or
// when gradParam is nil or the op was built with a scalar scale -- there is
// nothing to accumulate into.
func (r *Rayleigh) Backward(exec backends.Executor, gradOut, savedNoise *backends.Buffer, paramShape shapes.Shape, gradParam *backends.Buffer) {
	if gradOut == nil || gradOut.Shape().Size() == 0 {
		return
	}
	if gradParam == nil || r.hasScalar {
		return
	}
	scalarReparamBackward(exec, gradOut, savedNoise, paramShape, gradParam)
}
