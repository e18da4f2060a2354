// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/gomlx/distarray/backends"
	"github.com/pkg/errors"
)

// Dot returns the matrix product a·b of two rank-2 arrays.
//
// Each block (i, j) of the result is computed by one task that receives the whole i-th row of
// blocks of a and the j-th column of blocks of b.
func Dot(a, b *Array) (*Array, error) {
	if a.DType() != b.DType() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "Dot of arrays with dtypes %s and %s", a.DType(), b.DType())
	}
	if a.Rank() != 2 || b.Rank() != 2 || a.shape.Dimensions[1] != b.shape.Dimensions[0] {
		return nil, errors.Wrapf(ErrDimensionMismatch, "Dot of arrays with shapes %s and %s", a.shape, b.shape)
	}
	if a.cfg.tileSize != b.cfg.tileSize {
		return nil, errors.Wrapf(ErrDimensionMismatch, "Dot of arrays with tile sizes %d and %d", a.cfg.tileSize, b.cfg.tileSize)
	}
	res, err := New(a.cfg, a.DType(), a.shape.Dimensions[0], b.shape.Dimensions[1])
	if err != nil {
		return nil, err
	}
	k := a.numBlocks[1]
	for idx := range res.BlockIndices() {
		args := make([]any, 0, 1+2*k)
		args = append(args, k)
		for kk := range k {
			args = append(args, a.BlockAt(idx[0], kk))
		}
		for kk := range k {
			args = append(args, b.BlockAt(kk, idx[1]))
		}
		ref, err := backends.CallOne(a.cfg.backend, OpBlockwiseInner, args...)
		if err != nil {
			return nil, errors.WithMessagef(err, "Dot block %v", idx)
		}
		res.SetBlockAt(ref, idx...)
	}
	return res, nil
}
