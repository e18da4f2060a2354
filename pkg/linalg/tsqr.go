// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package linalg implements QR factorizations of distributed arrays: the tall-skinny tree
// reduction (TSQR), its conversion to a compact Householder representation, and the blocked QR
// factorization of a whole matrix built on them.
//
// The algorithms are Algorithms 6 and 7 of Ballard et al., "Reconstructing Householder Vectors
// from Tall-Skinny QR" (UCB/EECS-2013-175). All the work on tiles is dispatched as tasks to the
// backend of the arrays: functions here only wait for values where they return local tiles.
package linalg

import (
	"context"
	"math/bits"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/distributed"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/distarray/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrDimensionMismatch is returned for inputs with an unexpected shape or block structure.
	ErrDimensionMismatch = distributed.ErrDimensionMismatch

	// ErrSingular is returned (when the results are pulled) if the Householder reconstruction
	// finds a singular block.
	ErrSingular = tiles.ErrSingular
)

// treeNode is one QR factorization of the TSQR reduction tree.
type treeNode struct {
	// q is the reference to the orthogonal factor of the node.
	q backends.ObjRef
	// rRows is the number of rows of the triangular factor of the node, which is also the number
	// of columns of q.
	rRows int
}

// tsqrTree holds the nodes of the reduction, level by level: levels[0] has one node per row block
// of the input, and each level has half (rounded up) the nodes of the previous one.
type tsqrTree struct {
	levels [][]treeNode
}

// tsqrDepth returns the number of levels of the reduction tree over numBlocks leaves:
// ⌈log2(numBlocks)⌉ + 1.
func tsqrDepth(numBlocks int) int {
	return bits.Len(uint(numBlocks-1)) + 1
}

// sliceBounds returns the rows [lo, hi) of the orthogonal factor of the parent of node index at
// level-1 that multiply the node's own orthogonal factor: the parent factored the vertical stack
// of its children's triangular factors, so the even child uses the top rows and the odd child
// the rows that follow.
func (tree *tsqrTree) sliceBounds(level, index int) (lo, hi int) {
	children := tree.levels[level-1]
	if index%2 == 0 {
		return 0, children[index].rRows
	}
	lo = children[index-1].rRows
	return lo, lo + children[index].rRows
}

// tsqr dispatches the TSQR of a, returning q (with the row blocks of a) and the reference to r,
// without waiting for any result.
//
// It also returns the references to the intermediate results, that can be freed once the caller
// doesn't need the tasks dispatched any longer.
func tsqr(a *distributed.Array) (q *distributed.Array, r backends.ObjRef, temporaries []backends.ObjRef, err error) {
	if a.Rank() != 2 || a.NumBlocks()[1] != 1 {
		return nil, r, nil, errors.Wrapf(ErrDimensionMismatch,
			"TSQR requires a rank-2 array with a single column of blocks, got shape %s with %v blocks",
			a.Shape(), a.NumBlocks())
	}
	backend := a.Backend()
	numRows, numCols := a.Shape().Dimensions[0], a.Shape().Dimensions[1]
	numBlocks := a.NumBlocks()[0]
	depth := tsqrDepth(numBlocks)
	klog.V(1).Infof("TSQR of %s: %d row blocks, %d levels", a.Shape(), numBlocks, depth)

	// Leaves.
	tree := &tsqrTree{levels: make([][]treeNode, depth)}
	tree.levels[0] = make([]treeNode, numBlocks)
	rs := make([]backends.ObjRef, numBlocks)
	for ii := range numBlocks {
		refs, err := backend.Call(distributed.OpQR, 2, a.BlockAt(ii, 0))
		if err != nil {
			return nil, r, temporaries, errors.WithMessagef(err, "TSQR leaf %d", ii)
		}
		tree.levels[0][ii] = treeNode{q: refs[0], rRows: min(a.BlockShape(ii, 0).Dimensions[0], numCols)}
		rs[ii] = refs[1]
	}

	// Reduction: factor the stacked triangular factors of each pair of nodes.
	for level := 1; level < depth; level++ {
		previous := tree.levels[level-1]
		numNodes := (len(previous) + 1) / 2
		tree.levels[level] = make([]treeNode, numNodes)
		nextRs := make([]backends.ObjRef, numNodes)
		for ii := range numNodes {
			stacked, rows := rs[2*ii], previous[2*ii].rRows
			if 2*ii+1 < len(previous) {
				stacked, err = backends.CallOne(backend, distributed.OpVStack, rs[2*ii], rs[2*ii+1])
				if err != nil {
					return nil, r, temporaries, errors.WithMessagef(err, "TSQR level %d, node %d", level, ii)
				}
				temporaries = append(temporaries, stacked)
				rows += previous[2*ii+1].rRows
			}
			refs, err := backend.Call(distributed.OpQR, 2, stacked)
			if err != nil {
				return nil, r, temporaries, errors.WithMessagef(err, "TSQR level %d, node %d", level, ii)
			}
			tree.levels[level][ii] = treeNode{q: refs[0], rRows: min(rows, numCols)}
			nextRs[ii] = refs[1]
		}
		temporaries = append(temporaries, rs...)
		rs = nextRs
	}
	r = rs[0]
	numK := xslices.Last(tree.levels)[0].rRows

	// Reconstruction: each row block of q is its leaf factor times the matching rows of the
	// factors of its ancestors. The slices are shared by the leaves under the same node.
	q, err = distributed.New(a.Config(), a.DType(), numRows, numK)
	if err != nil {
		return nil, r, temporaries, err
	}
	slices := make(map[[2]int]backends.ObjRef)
	for ii := range numBlocks {
		current := tree.levels[0][ii].q
		index := ii
		for level := 1; level < depth; level++ {
			key := [2]int{level, index}
			slice, found := slices[key]
			if !found {
				parent := tree.levels[level][index/2]
				lo, hi := tree.sliceBounds(level, index)
				slice, err = backends.CallOne(backend, distributed.OpSubArray, parent.q, lo, hi, 0, parent.rRows)
				if err != nil {
					return nil, r, temporaries, errors.WithMessagef(err, "TSQR reconstruction, level %d, node %d", level, index)
				}
				slices[key] = slice
				temporaries = append(temporaries, slice)
			}
			temporaries = append(temporaries, current)
			current, err = backends.CallOne(backend, distributed.OpDot, current, slice)
			if err != nil {
				return nil, r, temporaries, errors.WithMessagef(err, "TSQR reconstruction, level %d, node %d", level, index)
			}
			index /= 2
		}
		q.SetBlockAt(current, ii, 0)
	}
	for level := 1; level < depth; level++ {
		for _, node := range tree.levels[level] {
			temporaries = append(temporaries, node.q)
		}
	}
	return q, r, temporaries, nil
}

// TSQR computes the QR factorization of a tall-skinny array a of shape M×N with a single column
// of blocks, using a reduction tree over its row blocks.
//
// It returns q of shape M×K (with the row blocks of a), with K = min(M, N), whose columns are
// orthonormal, and the upper triangular r of shape K×N, such that q·r = a.
//
// It waits for r to be computed; the blocks of q may still be computing when it returns.
func TSQR(ctx context.Context, a *distributed.Array) (q *distributed.Array, r *tiles.Tile, err error) {
	q, rRef, temporaries, err := tsqr(a)
	a.Backend().Free(temporaries...)
	if err != nil {
		return nil, nil, err
	}
	r, err = backends.Pull[*tiles.Tile](ctx, a.Backend(), rRef)
	a.Backend().Free(rRef)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "TSQR")
	}
	return q, r, nil
}
