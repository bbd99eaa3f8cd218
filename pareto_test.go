// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/variates/backends"
	"github.com/gomlx/variates/backends/parallel"
	"github.com/gomlx/variates/types/shapes"
)

func paretoSample(u, a float64) float64 {
	return math.Exp(-math.Log(u)/a) - 1
}

func TestParetoScalarForward(t *testing.T) {
	exec := newTestExec()
	draws := []float32{0.9, 0.7, 0.5, 0.3, 0.1}
	rng := &fixedSource{draws: draws}
	const a = 2.0

	out := backends.FromFlat(shapes.Make(dtypes.Float32, 5), make([]float32, 5))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 5), make([]float32, 5))
	NewPareto(a).Forward(exec, nil, rng, out, noise)
	outFlat := out.Flat().([]float32)
	for i, u := range draws {
		assert.InEpsilon(t, paretoSample(float64(u), a), float64(outFlat[i]), 1e-6)
	}
	// The scalar form has no gradient to prepare: the noise keeps the raw
	// uniform draws.
	assert.Equal(t, draws, noise.Flat().([]float32))

	out64 := backends.FromFlat(shapes.Make(dtypes.Float64, 5), make([]float64, 5))
	NewPareto(a).Forward(exec, nil, rng, out64, noise)
	for i, u := range draws {
		assert.InEpsilon(t, paretoSample(float64(u), a), out64.Flat().([]float64)[i], 1e-6)
	}
}

func TestParetoMonotonicInNoise(t *testing.T) {
	// The inverse transform is strictly decreasing in u: larger uniform draws
	// give smaller variates.
	exec := newTestExec()
	draws := []float32{0.05, 0.2, 0.4, 0.6, 0.8, 0.95}
	out := backends.FromFlat(shapes.Make(dtypes.Float64, 6), make([]float64, 6))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 6), make([]float32, 6))
	NewPareto(1.3).Forward(exec, nil, &fixedSource{draws: draws}, out, noise)
	outFlat := out.Flat().([]float64)
	for i := 1; i < len(outFlat); i++ {
		assert.Less(t, outFlat[i], outFlat[i-1])
	}
	assert.Greater(t, outFlat[len(outFlat)-1], 0.0, "Pareto variates have support (0, ∞)")
}

func TestParetoTensorForward(t *testing.T) {
	exec := newTestExec()
	aValues := []float32{0.5, 1.0, 2.0}
	params := backends.FromFlat(shapes.Make(dtypes.Float32, 3, 1), aValues)
	draws := []float32{
		0.9, 0.7, 0.5, 0.3,
		0.2, 0.4, 0.6, 0.8,
		0.1, 0.35, 0.55, 0.75,
	}
	out := backends.FromFlat(shapes.Make(dtypes.Float32, 3, 4), make([]float32, 12))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 12), make([]float32, 12))
	NewParetoTensor().Forward(exec, params, &fixedSource{draws: draws}, out, noise)

	outFlat := out.Flat().([]float32)
	noiseFlat := noise.Flat().([]float32)
	for r := range 3 {
		a := float64(aValues[r])
		for c := range 4 {
			i := r*4 + c
			u := float64(draws[i])
			sample := paretoSample(u, a)
			assert.InEpsilon(t, sample, float64(outFlat[i]), 1e-6)
			// The noise slot now holds ∂out/∂a = -n*(out+1)/a² for n = -ln(u).
			n := -math.Log(u)
			assert.InEpsilon(t, -n*(sample+1)/(a*a), float64(noiseFlat[i]), 1e-5)
		}
	}
}

func TestParetoForwardArity(t *testing.T) {
	exec := newTestExec()
	rng := &fixedSource{draws: []float32{0.5}}
	out := backends.FromFlat(shapes.Make(dtypes.Float32, 2), make([]float32, 2))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 2), make([]float32, 2))
	params := backends.FromFlat(shapes.Make(dtypes.Float32, 2), []float32{1, 2})

	require.Panics(t, func() { NewPareto(1).Forward(exec, params, rng, out, noise) })
	require.Panics(t, func() { NewParetoTensor().Forward(exec, nil, rng, out, noise) })
}

func TestParetoDomain(t *testing.T) {
	exec := newTestExec()
	rng := &fixedSource{draws: []float32{0.5, 0.25}}
	const sentinel float32 = -123
	out := backends.FromFlat(shapes.Make(dtypes.Float32, 2), []float32{sentinel, sentinel})
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 2), make([]float32, 2))

	require.PanicsWithError(t, "ValueError: expect a > 0, got a=0",
		func() { NewPareto(0).Forward(exec, nil, rng, out, noise) })
	require.Panics(t, func() { NewPareto(-1.5).Forward(exec, nil, rng, out, noise) })

	params := backends.FromFlat(shapes.Make(dtypes.Float32, 2), []float32{1.0, -0.5})
	require.Panics(t, func() { NewParetoTensor().Forward(exec, params, rng, out, noise) })

	// The output is never touched by a failed call.
	assert.Equal(t, []float32{sentinel, sentinel}, out.Flat().([]float32))
}

func TestParetoBroadcastMismatch(t *testing.T) {
	exec := newTestExec()
	rng := &fixedSource{draws: []float32{0.5}}
	params := backends.FromFlat(shapes.Make(dtypes.Float32, 3), []float32{1, 2, 3})
	out := backends.FromFlat(shapes.Make(dtypes.Float32, 4), make([]float32, 4))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 4), make([]float32, 4))
	require.Panics(t, func() { NewParetoTensor().Forward(exec, params, rng, out, noise) })
}

func TestParetoBackward(t *testing.T) {
	// Checks the analytic gradient against central finite differences of the
	// forward transform, with the same noise replayed for every forward.
	exec := newTestExec()
	aValues := []float64{0.7, 1.3, 2.1}
	paramShape := shapes.Make(dtypes.Float64, 3, 1)
	draws := []float32{
		0.9, 0.7, 0.5, 0.3,
		0.2, 0.4, 0.6, 0.8,
		0.1, 0.35, 0.55, 0.75,
	}
	gradOutValues := []float64{
		0.5, -1.0, 2.0, 0.25,
		1.5, -0.75, 0.1, 3.0,
		-2.0, 0.6, 1.1, -0.3,
	}

	forward := func(a []float64) []float64 {
		params := backends.FromFlat(paramShape, a)
		out := backends.FromFlat(shapes.Make(dtypes.Float64, 3, 4), make([]float64, 12))
		noise := backends.FromFlat(shapes.Make(dtypes.Float32, 12), make([]float32, 12))
		NewParetoTensor().Forward(exec, params, &fixedSource{draws: draws}, out, noise)
		return out.Flat().([]float64)
	}

	// Forward once at the base point to save the local derivatives, then run
	// the backward pass.
	params := backends.FromFlat(paramShape, append([]float64(nil), aValues...))
	out := backends.FromFlat(shapes.Make(dtypes.Float64, 3, 4), make([]float64, 12))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 12), make([]float32, 12))
	op := NewParetoTensor()
	op.Forward(exec, params, &fixedSource{draws: draws}, out, noise)

	gradOut := backends.FromFlat(shapes.Make(dtypes.Float64, 3, 4), append([]float64(nil), gradOutValues...))
	gradParam := backends.FromFlat(paramShape, make([]float64, 3))
	op.Backward(exec, gradOut, noise, paramShape, gradParam)

	gradFlat := gradParam.Flat().([]float64)
	for r := range 3 {
		eps := 1e-6 * aValues[r]
		plus := append([]float64(nil), aValues...)
		minus := append([]float64(nil), aValues...)
		plus[r] += eps
		minus[r] -= eps
		outPlus, outMinus := forward(plus), forward(minus)
		want := 0.0
		for c := range 4 {
			i := r*4 + c
			want += gradOutValues[i] * (outPlus[i] - outMinus[i]) / (2 * eps)
		}
		assert.InEpsilonf(t, want, gradFlat[r], 1e-3, "row %d", r)
	}
}

func TestParetoBackwardNoOps(t *testing.T) {
	exec := newTestExec()
	paramShape := shapes.Make(dtypes.Float32, 3, 1)
	const sentinel float32 = 777
	gradParam := backends.FromFlat(paramShape, []float32{sentinel, sentinel, sentinel})
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 12), make([]float32, 12))

	// Zero-size upstream gradient: nothing to accumulate.
	emptyGrad := backends.FromFlat(shapes.Make(dtypes.Float32, 0), []float32{})
	NewParetoTensor().Backward(exec, emptyGrad, noise, paramShape, gradParam)
	assert.Equal(t, []float32{sentinel, sentinel, sentinel}, gradParam.Flat().([]float32))

	// Nil gradient buffer and nil upstream gradient are both accepted.
	gradOut := backends.FromFlat(shapes.Make(dtypes.Float32, 3, 4), make([]float32, 12))
	assert.NotPanics(t, func() { NewParetoTensor().Backward(exec, gradOut, noise, paramShape, nil) })
	assert.NotPanics(t, func() { NewParetoTensor().Backward(exec, nil, noise, paramShape, gradParam) })

	// The scalar form never propagates gradients.
	NewPareto(2).Backward(exec, gradOut, noise, paramShape, gradParam)
	assert.Equal(t, []float32{sentinel, sentinel, sentinel}, gradParam.Flat().([]float32))
}

func TestParetoFloat16(t *testing.T) {
	exec := newTestExec()
	draws := []float32{0.9, 0.5, 0.2, 0.7}
	const a = 1.5

	// A Float16 output is computed in a Float32 scratch and converted on
	// commit, so it must equal the rounded Float32 result exactly.
	out32 := backends.FromFlat(shapes.Make(dtypes.Float32, 4), make([]float32, 4))
	noise := backends.FromFlat(shapes.Make(dtypes.Float32, 4), make([]float32, 4))
	NewPareto(a).Forward(exec, nil, &fixedSource{draws: draws}, out32, noise)

	out16 := backends.FromFlat(shapes.Make(dtypes.Float16, 4), make([]float16.Float16, 4))
	NewPareto(a).Forward(exec, nil, &fixedSource{draws: draws}, out16, noise)
	for i, v := range out32.Flat().([]float32) {
		assert.Equal(t, float16.Fromfloat32(v), out16.Flat().([]float16.Float16)[i])
	}

	// Float16 parameter tensors are converted before the kernel runs.
	a16 := []float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(2.0)}
	params := backends.FromFlat(shapes.Make(dtypes.Float16, 2, 1), a16)
	out := backends.FromFlat(shapes.Make(dtypes.Float32, 2, 2), make([]float32, 4))
	NewParetoTensor().Forward(exec, params, &fixedSource{draws: draws}, out, noise)
	outFlat := out.Flat().([]float32)
	for r := range 2 {
		av := float64(a16[r].Float32())
		for c := range 2 {
			i := r*2 + c
			assert.InEpsilon(t, paretoSample(float64(draws[i]), av), float64(outFlat[i]), 1e-6)
		}
	}
}

func TestParetoExecutorsMatch(t *testing.T) {
	// Forward outputs are elementwise with no cross-element accumulation, so
	// the sequential and parallel executors must agree bit for bit.
	draws := make([]float32, 10_000)
	NewSource(17).SampleUniform(draws, 0.001, 0.999)
	aValues := []float32{0.3, 0.9, 1.7, 4.2}
	run := func(exec backends.Executor) ([]float32, []float32) {
		params := backends.FromFlat(shapes.Make(dtypes.Float32, 4, 1), aValues)
		out := backends.FromFlat(shapes.Make(dtypes.Float32, 4, 2500), make([]float32, 10_000))
		noise := backends.FromFlat(shapes.Make(dtypes.Float32, 10_000), make([]float32, 10_000))
		NewParetoTensor().Forward(exec, params, &fixedSource{draws: draws}, out, noise)
		return out.Flat().([]float32), noise.Flat().([]float32)
	}

	outCPU, noiseCPU := run(newTestExec())
	outPar, noisePar := run(parallel.New("4"))
	assert.Equal(t, outCPU, outPar)
	assert.Equal(t, noiseCPU, noisePar)
}
