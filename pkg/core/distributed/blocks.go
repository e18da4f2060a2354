// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"golang.org/x/exp/constraints"
)

// ceilDiv returns ⌈a/b⌉ for positive values.
func ceilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// NumBlocks returns the number of blocks along each axis of an array with the given dimensions:
// ⌈dimensions[axis]/tileSize⌉.
func NumBlocks(tileSize int, dimensions []int) []int {
	numBlocks := make([]int, len(dimensions))
	for axis, dim := range dimensions {
		numBlocks[axis] = ceilDiv(dim, tileSize)
	}
	return numBlocks
}

// BlockLower returns the first element index, per axis, of the block at idx.
func BlockLower(tileSize int, idx []int) []int {
	lower := make([]int, len(idx))
	for axis, blockIdx := range idx {
		lower[axis] = blockIdx * tileSize
	}
	return lower
}

// BlockUpper returns the element index one past the end, per axis, of the block at idx in an
// array with the given dimensions.
func BlockUpper(tileSize int, dimensions, idx []int) []int {
	upper := make([]int, len(idx))
	for axis, blockIdx := range idx {
		upper[axis] = min((blockIdx+1)*tileSize, dimensions[axis])
	}
	return upper
}

// BlockDimensions returns the dimensions of the block at idx in an array with the given
// dimensions: all blocks are full tiles, except the last along each axis.
func BlockDimensions(tileSize int, dimensions, idx []int) []int {
	upper := BlockUpper(tileSize, dimensions, idx)
	for axis, blockIdx := range idx {
		upper[axis] -= blockIdx * tileSize
	}
	return upper
}
