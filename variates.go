// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package variates provides device-agnostic random-variate generation for
// continuous probability distributions -- currently Pareto and Rayleigh --
// with scalar- and tensor-parameter (broadcast) forms, and the reverse-mode
// gradient of the reparameterization with respect to the distribution
// parameters.
//
// Sampling is expressed as a deterministic transform of uniform noise (the
// reparameterization trick): Forward draws uniform(0,1) noise, one value per
// output element, and maps it through the distribution's inverse transform.
// The noise buffer is a documented second output -- after the
// tensor-parameter Forward it holds the per-element local derivative
// ∂out/∂param, which Backward reduce-sums (NumPy broadcasting semantics) into
// one gradient value per parameter element. Reusing the forward noise is what
// keeps forward and backward correlated; redrawing would decorrelate them and
// break the gradient.
//
// The algorithms are written once against the backends.Executor interface;
// import an executor to register it:
//
//	import (
//		"github.com/gomlx/variates"
//		"github.com/gomlx/variates/backends"
//		_ "github.com/gomlx/variates/backends/cpu"
//	)
//
//	exec := backends.New()
//	op := variates.NewPareto(2.0)
//	out := exec.NewBuffer(shapes.Make(dtypes.Float32, 3, 4))
//	noise := exec.NewBuffer(out.Shape().WithDType(dtypes.Float32))
//	op.Forward(exec, nil, variates.NewSource(42), out, noise)
//
// Domain violations (a <= 0 for Pareto, scale < 0 for Rayleigh) and malformed
// broadcasts panic with a stack trace (see github.com/gomlx/exceptions)
// before any output is written. A call either fully succeeds -- valid output
// plus valid noise buffer -- or fails without mutating the output.
package variates
