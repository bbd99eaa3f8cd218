// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/variates/backends"
	"github.com/gomlx/variates/shapeinference"
	"github.com/gomlx/variates/types/shapes"
)

// Pareto is the sampling op for the Pareto distribution, generating variates
// through the inverse transform out = exp(-ln(u)/a) - 1 for uniform noise
// u ∈ (0,1) and concentration a > 0.
//
// The concentration is either a scalar fixed at construction (NewPareto) or a
// per-call tensor broadcast against the output shape (NewParetoTensor) --
// exactly one of the two forms is active per op instance.
type Pareto struct {
	a         float64
	hasScalar bool
}

// NewPareto returns a Pareto op with a scalar concentration. Its Forward
// takes no parameter tensor and its Backward is a no-op: there is no tensor
// to propagate gradients into.
func NewPareto(a float64) *Pareto {
	return &Pareto{a: a, hasScalar: true}
}

// NewParetoTensor returns a Pareto op whose concentration is given to each
// Forward call as a parameter tensor, broadcast against the output shape.
func NewParetoTensor() *Pareto {
	return &Pareto{}
}

// Forward draws one Pareto variate per element of out.
//
// aParams must be nil for the scalar form; for the tensor form it holds the
// concentration tensor, whose shape must broadcast against out's shape.
// noise must be a Float32 buffer with one element per output element. It is a
// second output: after a tensor-form call it holds the local derivative
// ∂out/∂a that Backward consumes.
//
// It panics with a ValueError if the concentration is not strictly positive
// -- checked host-side for the scalar form, through the device-side legality
// flag for the tensor form -- before anything is written to out.
func (p *Pareto) Forward(exec backends.Executor, aParams *backends.Buffer, rng UniformSource, out, noise *backends.Buffer) {
	checkSampleBuffers(out, noise)
	sampleNoise(rng, noise)
	if p.hasScalar {
		if aParams != nil {
			exceptions.Panicf("Pareto: op was built with a scalar concentration, a parameter tensor is not accepted")
		}
		if p.a <= 0 {
			exceptions.Panicf("ValueError: expect a > 0, got a=%g", p.a)
		}
		compute, owned := floatComputeBuffer(exec, out)
		noiseFlat := noise.Flat().([]float32)
		switch outFlat := compute.Flat().(type) {
		case []float32:
			paretoScalarKernel(exec, p.a, noiseFlat, outFlat)
		case []float64:
			paretoScalarKernel(exec, p.a, noiseFlat, outFlat)
		}
		commitOutput(exec, compute, out, owned)
		return
	}

	if aParams == nil {
		exceptions.Panicf("Pareto: op was built for a concentration tensor, but none was given")
	}
	params, ownedParams := ensureNativeFloat(exec, aParams)
	if ownedParams {
		defer exec.PutBuffer(params)
	}
	if !checkLegality(exec, params, func(a float64) bool { return a <= 0 }) {
		exceptions.Panicf("ValueError: expect a > 0, parameter tensor %s has non-positive entries", aParams.Shape())
	}
	plan := newBroadcastPlan(params.Shape(), out.Shape())
	compute, owned := floatComputeBuffer(exec, out)
	noiseFlat := noise.Flat().([]float32)
	switch aFlat := params.Flat().(type) {
	case []float32:
		launchParetoBroadcast(exec, plan, aFlat, noiseFlat, compute)
	case []float64:
		launchParetoBroadcast(exec, plan, aFlat, noiseFlat, compute)
	}
	commitOutput(exec, compute, out, owned)
}

func paretoScalarKernel[T podFloatConstraints](exec backends.Executor, a float64, noise []float32, out []T) {
	exec.Launch(len(out), func(low, high int) {
		for i := low; i < high; i++ {
			out[i] = T(math.Exp(-math.Log(float64(noise[i]))/a) - 1)
		}
	})
}

func launchParetoBroadcast[IT podFloatConstraints](exec backends.Executor, plan broadcastPlan, aParams []IT, noise []float32, compute *backends.Buffer) {
	switch outFlat := compute.Flat().(type) {
	case []float32:
		paretoBroadcastKernel(exec, plan, aParams, noise, outFlat)
	case []float64:
		paretoBroadcastKernel(exec, plan, aParams, noise, outFlat)
	}
}

// paretoBroadcastKernel maps each output index to its source concentration by
// unraveling against the output shape and dotting with the parameter stride
// vector, then applies the transform. The noise slot is overwritten with
// ∂out/∂a = -n*(out+1)/a² for n = -ln(u): storing it here is what lets
// Backward skip recomputing ln(noise) and exp(...).
func paretoBroadcastKernel[IT, OT podFloatConstraints](exec backends.Executor, plan broadcastPlan, aParams []IT, noise []float32, out []OT) {
	exec.Launch(len(out), func(low, high int) {
		var coords shapeinference.Coords
		for i := low; i < high; i++ {
			shapeinference.Unravel(i, plan.odims, &coords)
			idx := shapeinference.Dot(&coords, plan.stride, plan.ndim)
			a := float64(aParams[idx])
			n := -math.Log(float64(noise[i]))
			sample := math.Exp(n/a) - 1
			out[i] = OT(sample)
			noise[i] = float32(-n * (sample + 1) / (a * a))
		}
	})
}

// Backward computes the gradient of the sampled output with respect to the
// broadcast concentration tensor. gradParam receives one value per parameter
// element: the sum of gradOut times the saved local derivative over every
// output position that broadcasts to that element.
//
// savedNoise must be the noise buffer from the matching Forward call,
// untouched in between. Backward is a no-op when gradOut has no elements, or
// when gradParam is nil or the op was built with a scalar concentration --
// there is nothing to accumulate into.
func (p *Pareto) Backward(exec backends.Executor, gradOut, savedNoise *backends.Buffer, paramShape shapes.Shape, gradParam *backends.Buffer) {
	if gradOut == nil || gradOut.Shape().Size() == 0 {
		return
	}
	if gradParam == nil || p.hasScalar {
		return
	}
	scalarReparamBackward(exec, gradOut, savedNoise, paramShape, gradParam)
}
