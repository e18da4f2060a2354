// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linalg

import (
	"context"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/distributed"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/pkg/errors"
)

// Householder is the compact representation of the orthogonal factor of a TSQR factorization:
// H = I - Y·T·Yᵀ is orthogonal, and H restricted to its first K columns, times R, reconstructs the
// factored array.
type Householder struct {
	// Y is M×K unit lower trapezoidal, with the row blocks of the factored array.
	Y *distributed.Array

	// T is K×K.
	T *tiles.Tile

	// YTop is the top K×K block of Y.
	YTop *tiles.Tile

	// R is the K×N upper triangular factor, with the signs of its rows adjusted to H.
	R *tiles.Tile
}

// householderRefs holds the references to the results of tsqrHouseholder.
type householderRefs struct {
	y          *distributed.Array
	t, yTop, r backends.ObjRef
	numK       int
}

// tsqrHouseholder dispatches the TSQR of a followed by the reconstruction of its Householder
// representation, without waiting for any result.
func tsqrHouseholder(a *distributed.Array) (*householderRefs, error) {
	backend := a.Backend()
	q, r, temporaries, err := tsqr(a)
	defer func() { backend.Free(temporaries...) }()
	if err != nil {
		return nil, err
	}
	numBlocks := q.NumBlocks()[0]
	temporaries = append(temporaries, q.Blocks()...)
	temporaries = append(temporaries, r)

	args := make([]any, 0, numBlocks+2)
	args = append(args, numBlocks)
	for _, block := range q.Blocks() {
		args = append(args, block)
	}
	args = append(args, r)
	refs, err := backend.Call(distributed.OpHouseholderFactors, 4, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "Householder reconstruction")
	}
	yFull := refs[0]
	temporaries = append(temporaries, yFull)

	numK := q.Shape().Dimensions[1]
	y, err := distributed.New(a.Config(), a.DType(), q.Shape().Dimensions...)
	if err != nil {
		return nil, err
	}
	for ii := range numBlocks {
		lower, upper := q.BlockLower(ii, 0), q.BlockUpper(ii, 0)
		block, err := backends.CallOne(backend, distributed.OpSubArray, yFull, lower[0], upper[0], 0, numK)
		if err != nil {
			return nil, errors.WithMessagef(err, "Householder reconstruction, block %d", ii)
		}
		y.SetBlockAt(block, ii, 0)
	}
	return &householderRefs{
		y:    y,
		t:    refs[1],
		yTop: refs[2],
		r:    refs[3],
		numK: numK,
	}, nil
}

// TSQRHouseholder computes the TSQR factorization of a tall-skinny array a (see TSQR) and converts
// its orthogonal factor to the compact Householder representation (Y, T).
//
// It waits for T, YTop and R; the blocks of Y may still be computing when it returns. If the top
// block of Y is singular, it returns an error wrapping ErrSingular.
func TSQRHouseholder(ctx context.Context, a *distributed.Array) (*Householder, error) {
	refs, err := tsqrHouseholder(a)
	if err != nil {
		return nil, err
	}
	backend := a.Backend()
	defer backend.Free(refs.t, refs.yTop, refs.r)
	values, err := backends.PullAll[*tiles.Tile](ctx, backend, refs.t, refs.yTop, refs.r)
	if err != nil {
		refs.y.Free()
		return nil, errors.WithMessage(err, "TSQRHouseholder")
	}
	return &Householder{Y: refs.y, T: values[0], YTop: values[1], R: values[2]}, nil
}
