// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/gomlx/distarray/backends"
	"github.com/pkg/errors"
)

// mapBlocks creates a new array of the given dimensions, and assigns each block with the result
// of the operation returned by op for the block coordinates.
func mapBlocks(cfg *Config, dimensions []int, op func(a *Array, idx []int) (name string, args []any)) (*Array, error) {
	a, err := New(cfg, cfg.dtype, dimensions...)
	if err != nil {
		return nil, err
	}
	for idx := range a.BlockIndices() {
		name, args := op(a, idx)
		ref, err := backends.CallOne(cfg.backend, name, args...)
		if err != nil {
			return nil, errors.WithMessagef(err, "block %v", idx)
		}
		a.SetBlockAt(ref, idx...)
	}
	return a, nil
}

// Zeros returns an array of the given dimensions (rank 1 or 2) filled with zeros, with the element
// type of cfg.
func Zeros(cfg *Config, dimensions ...int) (*Array, error) {
	return mapBlocks(cfg, dimensions, func(a *Array, idx []int) (string, []any) {
		return OpZeros, []any{a.BlockShape(idx...)}
	})
}

// Eye returns the n×n identity array: diagonal blocks are identity tiles, all the others are
// zero tiles.
func Eye(cfg *Config, n int) (*Array, error) {
	return mapBlocks(cfg, []int{n, n}, func(a *Array, idx []int) (string, []any) {
		shape := a.BlockShape(idx...)
		if idx[0] == idx[1] {
			return OpEye, []any{shape.DType, shape.Dimensions[0]}
		}
		return OpZeros, []any{shape}
	})
}

// RandomNormal returns an array of the given dimensions with values sampled from the standard
// normal distribution.
//
// The values are determined by the seed of cfg, the number of random arrays created before with
// cfg and the tile size.
func RandomNormal(cfg *Config, dimensions ...int) (*Array, error) {
	seed, stream := cfg.nextRandomStream()
	return mapBlocks(cfg, dimensions, func(a *Array, idx []int) (string, []any) {
		blockStream := stream<<32 | uint64(a.flatIndex(idx))
		return OpRandomNormal, []any{a.BlockShape(idx...), seed, blockStream}
	})
}

// mapArray creates a new array with the same shape as src, and assigns each block with the
// result of the operation returned by op.
func mapArray(src *Array, op func(idx []int, block backends.ObjRef) (name string, args []any)) (*Array, error) {
	a, err := New(src.cfg, src.DType(), src.shape.Dimensions...)
	if err != nil {
		return nil, err
	}
	for idx := range a.BlockIndices() {
		block := src.BlockAt(idx...)
		if !block.IsValid() {
			return nil, errors.Wrapf(ErrMissingBlock, "block %v of array %s", idx, src.shape)
		}
		name, args := op(idx, block)
		ref, err := backends.CallOne(src.cfg.backend, name, args...)
		if err != nil {
			return nil, errors.WithMessagef(err, "block %v", idx)
		}
		a.SetBlockAt(ref, idx...)
	}
	return a, nil
}

// Copy returns a new array with a copy of each block of a.
func Copy(a *Array) (*Array, error) {
	return mapArray(a, func(_ []int, block backends.ObjRef) (string, []any) {
		return OpCopy, []any{block}
	})
}

// Triu returns the upper triangular part of a rank-2 array, including the diagonal.
func Triu(a *Array) (*Array, error) {
	return triangular(a, true)
}

// Tril returns the lower triangular part of a rank-2 array, including the diagonal.
func Tril(a *Array) (*Array, error) {
	return triangular(a, false)
}

func triangular(a *Array, upper bool) (*Array, error) {
	if a.Rank() != 2 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "triangular part requires a rank-2 array, got %s", a.shape)
	}
	diagonalOp, keep := OpTril, func(row, col int) bool { return row > col }
	if upper {
		diagonalOp, keep = OpTriu, func(row, col int) bool { return row < col }
	}
	return mapArray(a, func(idx []int, block backends.ObjRef) (string, []any) {
		switch {
		case idx[0] == idx[1]:
			return diagonalOp, []any{block}
		case keep(idx[0], idx[1]):
			return OpCopy, []any{block}
		default:
			return OpZeros, []any{a.BlockShape(idx...)}
		}
	})
}
