// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference computes broadcast output shapes and the
// stride/coordinate mapping used by broadcast kernels.
//
// Broadcasting follows NumPy rules: shapes are aligned to the right, and an
// axis of size 1 stretches to match the other operand. The mapping from an
// output element to its source parameter element is done without materializing
// the expanded parameter: the flat output index is unraveled into a
// coordinate, which is then dotted with the parameter's stride vector --
// strides are 0 on broadcast axes, so stretched axes all map to the same
// source element.
//
// All functions here return errors (github.com/pkg/errors); callers decide
// whether to convert them into panics.
package shapeinference

import (
	"github.com/pkg/errors"

	"github.com/gomlx/variates/types/shapes"
)

// MaxBroadcastRank is the maximum rank supported by the coordinate mapping,
// after FillShape collapses compatible consecutive axes. Shapes of any rank
// are accepted as long as they collapse to at most this many broadcast
// groups.
const MaxBroadcastRank = 6

// Coords is a fixed-size coordinate for up to MaxBroadcastRank axes, so that
// unraveling inside kernels does not allocate. Only the first ndim entries
// returned by FillShape are meaningful.
type Coords [MaxBroadcastRank]int

// BroadcastShapes returns the NumPy-style broadcast of the two shapes.
// The resulting dtype is taken from lhs. Ranks may differ: the shorter shape
// is implicitly padded with size-1 axes on the left.
func BroadcastShapes(lhs, rhs shapes.Shape) (output shapes.Shape, err error) {
	if !lhs.Ok() || !rhs.Ok() {
		err = errors.Errorf("cannot broadcast invalid shapes %s and %s", lhs, rhs)
		return
	}
	rank := max(lhs.Rank(), rhs.Rank())
	dims := make([]int, rank)
	for axis := rank - 1; axis >= 0; axis-- {
		lhsDim, rhsDim := 1, 1
		if fromEnd := rank - axis; fromEnd <= lhs.Rank() {
			lhsDim = lhs.Dimensions[lhs.Rank()-fromEnd]
		}
		if fromEnd := rank - axis; fromEnd <= rhs.Rank() {
			rhsDim = rhs.Dimensions[rhs.Rank()-fromEnd]
		}
		if lhsDim != 1 && rhsDim != 1 && lhsDim != rhsDim {
			err = errors.Errorf("dimension of axis #%d (from the left) cannot be broadcast, got shapes %s and %s",
				axis, lhs, rhs)
			return
		}
		dims[axis] = max(lhsDim, rhsDim)
	}
	output = shapes.Make(lhs.DType, dims...)
	return
}

// FillShape canonicalizes the broadcast of the parameter shape lhs against
// the output shape out.
//
// It right-aligns lhs against out (padding missing axes with 1), verifies
// every axis is either equal or stretches from 1, and then collapses runs of
// consecutive axes that share the same broadcast pattern. The collapsed
// dimensions newL and newO have length ndim, with 1 <= ndim <=
// MaxBroadcastRank; the collapse is what keeps ndim small for high-rank
// shapes whose broadcast pattern is simple.
//
// Scalar (or all-ones) parameters collapse to ndim == 1 with newL == {1}.
func FillShape(lhs, out shapes.Shape) (ndim int, newL, newO []int, err error) {
	if lhs.Rank() > out.Rank() {
		err = errors.Errorf("parameter shape %s has higher rank than output shape %s", lhs, out)
		return
	}
	rank := out.Rank()

	// Right-aligned parameter dimensions, padded with 1s.
	padded := make([]int, rank)
	for axis := range padded {
		padded[axis] = 1
	}
	copy(padded[rank-lhs.Rank():], lhs.Dimensions)
	for axis := range rank {
		if padded[axis] != out.Dimensions[axis] && padded[axis] != 1 {
			err = errors.Errorf("parameter shape %s cannot be broadcast against output shape %s (axis #%d)",
				lhs, out, axis)
			return
		}
	}

	// Collapse consecutive axes with the same broadcast pattern. Axes where
	// the output dimension is 1 are neutral and merge into whatever run they
	// are part of.
	newL = make([]int, 0, min(rank, MaxBroadcastRank)+1)
	newO = make([]int, 0, min(rank, MaxBroadcastRank)+1)
	started := false
	lastBroadcast := false
	for axis := range rank {
		oDim := out.Dimensions[axis]
		lDim := padded[axis]
		if oDim == 1 {
			continue // Neutral axis: contributes nothing to indexing.
		}
		isBroadcast := lDim == 1
		if started && isBroadcast == lastBroadcast {
			newL[len(newL)-1] *= lDim
			newO[len(newO)-1] *= oDim
		} else {
			newL = append(newL, lDim)
			newO = append(newO, oDim)
			started = true
			lastBroadcast = isBroadcast
		}
	}
	if len(newL) == 0 {
		// Scalar output (or all axes of size 1).
		newL = append(newL, 1)
		newO = append(newO, 1)
	}
	ndim = len(newL)
	if ndim > MaxBroadcastRank {
		err = errors.Errorf("broadcast of parameter shape %s against output shape %s requires %d broadcast groups, "+
			"the maximum supported is %d", lhs, out, ndim, MaxBroadcastRank)
		return
	}
	return
}

// CalcStride returns the row-major stride vector for the given dimensions,
// with stride 0 on axes of size 1 -- those are the broadcast axes, every
// output coordinate along them maps to the same source element.
func CalcStride(dims []int) []int {
	stride := make([]int, len(dims))
	acc := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		if dims[axis] == 1 {
			stride[axis] = 0
		} else {
			stride[axis] = acc
		}
		acc *= dims[axis]
	}
	return stride
}

// Unravel converts the flat index idx against dims into a per-axis
// coordinate, stored in the first len(dims) entries of coords.
func Unravel(idx int, dims []int, coords *Coords) {
	for axis := len(dims) - 1; axis >= 0; axis-- {
		dim := dims[axis]
		coords[axis] = idx % dim
		idx /= dim
	}
}

// Dot returns the flat source index for the coordinate: the dot-product of
// the first ndim coordinate entries with the stride vector.
func Dot(coords *Coords, stride []int, ndim int) int {
	idx := 0
	for axis := range ndim {
		idx += coords[axis] * stride[axis]
	}
	return idx
}
