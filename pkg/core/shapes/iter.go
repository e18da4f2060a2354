// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter iterates over all possible indices of the given shape, in row-major order (the last
// index changes fastest).
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq[[]int] {
	return IterDims(s.Dimensions...)
}

// IterDims iterates over all indices of a grid with the given dimensions, in row-major order.
//
// It is used, for instance, to enumerate the block coordinates of a distributed array. The same
// ownership rule as Shape.Iter applies to the yielded slice.
func IterDims(dimensions ...int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		rank := len(dimensions)
		if rank == 0 {
			_ = yield(make([]int, 0))
			return
		}
		for _, dimSize := range dimensions {
			if dimSize <= 0 {
				return
			}
		}

		currentIndices := make([]int, rank)
		for {
			if !yield(currentIndices) {
				return
			}

			// Increment with carry-over, last axis first.
			axis := rank - 1
			for ; axis >= 0; axis-- {
				currentIndices[axis]++
				if currentIndices[axis] < dimensions[axis] {
					break
				}
				currentIndices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
