// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variates

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/variates/backends"
)

// UniformSource is a source of independent uniform draws, consumed by the
// forward samplers to fill their noise buffers.
//
// Implementations are not required to be safe for concurrent use: the
// samplers fill noise before launching kernels, from a single goroutine.
type UniformSource interface {
	// SampleUniform fills flat with independent uniform draws in [low, high).
	SampleUniform(flat []float32, low, high float32)
}

// pcgSource implements UniformSource over the stdlib PCG generator.
type pcgSource struct {
	rng *rand.Rand
}

// NewSource returns a UniformSource seeded with the given seed. The same seed
// yields the same sequence of draws, which is what makes sampled outputs
// reproducible across executors.
func NewSource(seed int64) UniformSource {
	return &pcgSource{rng: rand.New(rand.NewPCG(uint64(seed), 0x9E3779B97F4A7C15))}
}

func (s *pcgSource) SampleUniform(flat []float32, low, high float32) {
	for i := range flat {
		flat[i] = low + s.rng.Float32()*(high-low)
	}
}

// sampleNoise fills the noise buffer with uniform(0,1) draws, one per output
// element. Draws of exactly 0 are clamped to the smallest positive float32 so
// that the ln(noise) in the transforms never sees 0; u == 1 is never returned
// by SampleUniform's half-open interval, so ln stays finite on both ends.
func sampleNoise(rng UniformSource, noise *backends.Buffer) {
	flat := noise.Flat().([]float32)
	rng.SampleUniform(flat, 0, 1)
	for i, u := range flat {
		if u <= 0 {
			flat[i] = math.SmallestNonzeroFloat32
		}
	}
}
