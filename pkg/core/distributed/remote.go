// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"math/rand/v2"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/shapes"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/distarray/pkg/support/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Names of the tile operations registered with backends.RegisterFunction.
//
// The comment of each one lists its arguments and outputs.
const (
	// OpZeros (shape shapes.Shape) -> zero tile.
	OpZeros = "tiles.zeros"

	// OpEye (dtype dtypes.DType, n int) -> n×n identity tile.
	OpEye = "tiles.eye"

	// OpRandomNormal (shape shapes.Shape, seed, stream uint64) -> tile sampled from N(0, 1).
	OpRandomNormal = "tiles.random_normal"

	// OpCopy (a) -> copy of a.
	OpCopy = "tiles.copy"

	// OpTriu (a) -> upper triangular part of a.
	OpTriu = "tiles.triu"

	// OpTril (a) -> lower triangular part of a.
	OpTril = "tiles.tril"

	// OpQR (a) -> q, r: reduced QR factorization.
	OpQR = "tiles.qr"

	// OpVStack (tiles...) -> tiles stacked vertically.
	OpVStack = "tiles.vstack"

	// OpDot (a, b) -> a·b.
	OpDot = "tiles.dot"

	// OpSubArray (a, rowLo, rowHi, colLo, colHi int) -> a[rowLo:rowHi, colLo:colHi].
	OpSubArray = "tiles.sub_array"

	// OpPad (a, rows, cols int) -> a extended with zeros to rows×cols.
	OpPad = "tiles.pad"

	// OpBlockwiseInner (k int, a_0..a_{k-1}, b_0..b_{k-1}) -> Σ a_i·b_i.
	OpBlockwiseInner = "tiles.blockwise_inner"

	// OpBlockwiseInnerT (k int, a_0..a_{k-1}, b_0..b_{k-1}) -> Σ a_iᵀ·b_i.
	OpBlockwiseInnerT = "tiles.blockwise_inner_t"

	// OpHouseholderUpdate (a, y, t, w, transposeT bool) -> a - y·(op(t)·w).
	OpHouseholderUpdate = "tiles.householder_update"

	// OpHouseholderFactors (k int, q_0..q_{k-1}, r) -> y, t, yTop, rOut: compact Householder
	// representation of the QR factorization whose q is the vertical stack of the q_i.
	OpHouseholderFactors = "tiles.householder_factors"
)

// arg returns args[ii] as type T, or an error wrapping backends.ErrTypeMismatch.
func arg[T any](args []any, ii int) (T, error) {
	var zero T
	if ii >= len(args) {
		return zero, errors.Errorf("missing argument #%d, only %d given", ii, len(args))
	}
	value, ok := args[ii].(T)
	if !ok {
		return zero, errors.Wrapf(backends.ErrTypeMismatch, "argument #%d: expected %T, got %T", ii, zero, args[ii])
	}
	return value, nil
}

// tileArgs returns args[from:to] as tiles.
func tileArgs(args []any, from, to int) ([]*tiles.Tile, error) {
	result := make([]*tiles.Tile, 0, to-from)
	for ii := from; ii < to; ii++ {
		tile, err := arg[*tiles.Tile](args, ii)
		if err != nil {
			return nil, err
		}
		result = append(result, tile)
	}
	return result, nil
}

func outputs(values ...*tiles.Tile) []any {
	return xslices.Map(values, func(v *tiles.Tile) any { return v })
}

// unaryTileOp registers an operation taking one tile and returning one tile.
func unaryTileOp(name string, fn func(t *tiles.Tile) (*tiles.Tile, error)) {
	backends.RegisterFunction(name, func(args []any) ([]any, error) {
		t, err := arg[*tiles.Tile](args, 0)
		if err != nil {
			return nil, err
		}
		res, err := fn(t)
		if err != nil {
			return nil, err
		}
		return outputs(res), nil
	})
}

func blockwiseInnerOp(fn func(as, bs []*tiles.Tile) (*tiles.Tile, error)) backends.Function {
	return func(args []any) ([]any, error) {
		k, err := arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		all, err := tileArgs(args, 1, len(args))
		if err != nil {
			return nil, err
		}
		if len(all) != 2*k {
			return nil, errors.Errorf("expected %d tiles, got %d", 2*k, len(all))
		}
		res, err := fn(all[:k], all[k:])
		if err != nil {
			return nil, err
		}
		return outputs(res), nil
	}
}

func init() {
	backends.RegisterFunction(OpZeros, func(args []any) ([]any, error) {
		shape, err := arg[shapes.Shape](args, 0)
		if err != nil {
			return nil, err
		}
		t, err := tiles.Zeros(shape)
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	backends.RegisterFunction(OpEye, func(args []any) ([]any, error) {
		dtype, err := arg[dtypes.DType](args, 0)
		if err != nil {
			return nil, err
		}
		n, err := arg[int](args, 1)
		if err != nil {
			return nil, err
		}
		t, err := tiles.Eye(dtype, n)
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	backends.RegisterFunction(OpRandomNormal, func(args []any) ([]any, error) {
		shape, err := arg[shapes.Shape](args, 0)
		if err != nil {
			return nil, err
		}
		seed, err := arg[uint64](args, 1)
		if err != nil {
			return nil, err
		}
		stream, err := arg[uint64](args, 2)
		if err != nil {
			return nil, err
		}
		t, err := tiles.RandomNormal(shape, rand.New(rand.NewPCG(seed, stream)))
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	unaryTileOp(OpCopy, func(t *tiles.Tile) (*tiles.Tile, error) { return t.Copy(), nil })
	unaryTileOp(OpTriu, (*tiles.Tile).Triu)
	unaryTileOp(OpTril, (*tiles.Tile).Tril)
	backends.RegisterFunction(OpQR, func(args []any) ([]any, error) {
		t, err := arg[*tiles.Tile](args, 0)
		if err != nil {
			return nil, err
		}
		q, r, err := t.QR()
		if err != nil {
			return nil, err
		}
		return outputs(q, r), nil
	})
	backends.RegisterFunction(OpVStack, func(args []any) ([]any, error) {
		all, err := tileArgs(args, 0, len(args))
		if err != nil {
			return nil, err
		}
		t, err := tiles.VStack(all...)
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	backends.RegisterFunction(OpDot, func(args []any) ([]any, error) {
		ab, err := tileArgs(args, 0, 2)
		if err != nil {
			return nil, err
		}
		t, err := tiles.Dot(ab[0], ab[1])
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	backends.RegisterFunction(OpSubArray, func(args []any) ([]any, error) {
		t, err := arg[*tiles.Tile](args, 0)
		if err != nil {
			return nil, err
		}
		bounds := make([]int, 4)
		for ii := range bounds {
			if bounds[ii], err = arg[int](args, ii+1); err != nil {
				return nil, err
			}
		}
		sub, err := t.SubArray(bounds[0], bounds[1], bounds[2], bounds[3])
		if err != nil {
			return nil, err
		}
		return outputs(sub), nil
	})
	backends.RegisterFunction(OpPad, func(args []any) ([]any, error) {
		t, err := arg[*tiles.Tile](args, 0)
		if err != nil {
			return nil, err
		}
		rows, err := arg[int](args, 1)
		if err != nil {
			return nil, err
		}
		cols, err := arg[int](args, 2)
		if err != nil {
			return nil, err
		}
		padded, err := t.Pad(rows, cols)
		if err != nil {
			return nil, err
		}
		return outputs(padded), nil
	})
	backends.RegisterFunction(OpBlockwiseInner, blockwiseInnerOp(tiles.BlockwiseInner))
	backends.RegisterFunction(OpBlockwiseInnerT, blockwiseInnerOp(tiles.BlockwiseInnerT))
	backends.RegisterFunction(OpHouseholderUpdate, func(args []any) ([]any, error) {
		operands, err := tileArgs(args, 0, 4)
		if err != nil {
			return nil, err
		}
		transposeT, err := arg[bool](args, 4)
		if err != nil {
			return nil, err
		}
		t, err := tiles.HouseholderUpdate(operands[0], operands[1], operands[2], operands[3], transposeT)
		if err != nil {
			return nil, err
		}
		return outputs(t), nil
	})
	backends.RegisterFunction(OpHouseholderFactors, func(args []any) ([]any, error) {
		k, err := arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		qBlocks, err := tileArgs(args, 1, 1+k)
		if err != nil {
			return nil, err
		}
		r, err := arg[*tiles.Tile](args, 1+k)
		if err != nil {
			return nil, err
		}
		q, err := tiles.VStack(qBlocks...)
		if err != nil {
			return nil, err
		}
		y, t, yTop, rOut, err := tiles.HouseholderFactors(q, r)
		if err != nil {
			return nil, err
		}
		return outputs(y, t, yTop, rOut), nil
	})
}
