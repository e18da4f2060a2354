// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linalg

import (
	"context"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/distributed"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/distarray/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// QRFactors is the result of the blocked QR factorization of an m×n array A, with k = min(m, n).
//
// Panel i (the i-th column of blocks) is factored into the Householder reflector
// H_i = I - Y_i·T_i·Y_iᵀ, acting on the rows from the start of row block i onward, where Y_i is
// the i-th column of blocks of Y (from row block i down).
// Then A = H_0·H_1···H_{p-1} restricted to its first k columns, times R.
type QRFactors struct {
	// Ts holds the references to the T factors of each panel.
	Ts []backends.ObjRef

	// Y is m×k. Blocks above the diagonal of blocks are not assigned.
	Y *distributed.Array

	// R is k×n upper triangular.
	R *distributed.Array
}

// QRBuilder configures a blocked QR factorization. Create it with BuildQR, and run it with
// QRBuilder.Factorize.
type QRBuilder struct {
	a        *distributed.Array
	progress func(panel, numPanels int)
}

// BuildQR returns a QRBuilder for the factorization of the rank-2 array a.
func BuildQR(a *distributed.Array) *QRBuilder {
	return &QRBuilder{a: a}
}

// WithProgress sets a function called after each panel is dispatched, with the number of panels
// dispatched so far and the total.
func (b *QRBuilder) WithProgress(fn func(panel, numPanels int)) *QRBuilder {
	b.progress = fn
	return b
}

// QR returns the blocked QR factorization of the rank-2 array a.
// It is a shortcut to BuildQR(a).Factorize(ctx).
func QR(ctx context.Context, a *distributed.Array) (*QRFactors, error) {
	return BuildQR(a).Factorize(ctx)
}

// Factorize dispatches the blocked QR factorization, panel by panel: the TSQR of the panel is
// converted to its Householder representation, which is then applied to the trailing columns of
// blocks.
//
// It waits only for the T and R factors of each panel's Householder reconstruction, so errors
// like ErrSingular are reported here. It checks ctx for cancellation between panels.
func (b *QRBuilder) Factorize(ctx context.Context) (*QRFactors, error) {
	a := b.a
	if a.Rank() != 2 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "QR requires a rank-2 array, got %s", a.Shape())
	}
	backend := a.Backend()
	cfg := a.Config()
	m, n := a.Shape().Dimensions[0], a.Shape().Dimensions[1]
	k := min(m, n)
	numRowBlocks, numColBlocks := a.NumBlocks()[0], a.NumBlocks()[1]
	numPanels := min(numRowBlocks, numColBlocks)
	klog.V(1).Infof("QR of %s: %d panels", a.Shape(), numPanels)

	// work starts with the blocks of a (not copied: tiles are immutable), and its trailing blocks
	// are replaced by the updates of each panel.
	work, err := distributed.FromBlocks(cfg, a.DType(), a.Shape().Dimensions, a.Blocks())
	if err != nil {
		return nil, err
	}
	factors := &QRFactors{}
	factors.Y, err = distributed.New(cfg, a.DType(), m, k)
	if err != nil {
		return nil, err
	}
	factors.R, err = distributed.New(cfg, a.DType(), k, n)
	if err != nil {
		return nil, err
	}

	toFree := sets.Make[backends.ObjRef]()
	defer func() { backend.Free(toFree.Items()...) }()
	for panel := range numPanels {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "QR interrupted at panel %d of %d", panel, numPanels)
		}
		if err := b.factorPanel(ctx, work, factors, panel, toFree); err != nil {
			return nil, errors.WithMessagef(err, "QR panel %d", panel)
		}
		if b.progress != nil {
			b.progress(panel+1, numPanels)
		}
	}
	return factors, nil
}

// factorPanel factors the column of blocks panel of work (from row block panel down), records the
// results in factors, and applies the reflector to the trailing columns of blocks of work.
//
// References no longer needed are inserted in toFree.
func (b *QRBuilder) factorPanel(ctx context.Context, work *distributed.Array, factors *QRFactors, panel int, toFree sets.Set[backends.ObjRef]) error {
	backend := work.Backend()
	numRowBlocks, numColBlocks := work.NumBlocks()[0], work.NumBlocks()[1]
	column, err := work.SubBlocks(panel, numRowBlocks, panel, panel+1)
	if err != nil {
		return err
	}
	h, err := tsqrHouseholder(column)
	if err != nil {
		return err
	}
	if panel > 0 {
		// Blocks of this column were updated by the previous panel, so they are owned here.
		toFree.Insert(column.Blocks()...)
	}
	toFree.Insert(h.yTop)

	// The Householder reconstruction is the only step that can fail on valid inputs: wait for it
	// so the failure is reported at the panel that caused it.
	if _, err := backends.PullAll[*tiles.Tile](ctx, backend, h.t, h.r); err != nil {
		return err
	}

	for row := panel; row < numRowBlocks; row++ {
		factors.Y.SetBlockAt(h.y.BlockAt(row-panel, 0), row, panel)
	}
	factors.Ts = append(factors.Ts, h.t)
	diagonalShape := factors.R.BlockShape(panel, panel)
	rBlock, err := backends.CallOne(backend, distributed.OpPad, h.r, diagonalShape.Dimensions[0], diagonalShape.Dimensions[1])
	if err != nil {
		return err
	}
	toFree.Insert(h.r)
	factors.R.SetBlockAt(rBlock, panel, panel)
	for col := range panel {
		zeros, err := backends.CallOne(backend, distributed.OpZeros, factors.R.BlockShape(panel, col))
		if err != nil {
			return err
		}
		factors.R.SetBlockAt(zeros, panel, col)
	}

	// Trailing update: A[r, c] ← A[r, c] - Y_r·(Tᵀ·W_c), with W_c = Σ_r Y_rᵀ·A[r, c].
	numPanelRows := numRowBlocks - panel
	for col := panel + 1; col < numColBlocks; col++ {
		args := make([]any, 0, 1+2*numPanelRows)
		args = append(args, numPanelRows)
		for row := panel; row < numRowBlocks; row++ {
			args = append(args, factors.Y.BlockAt(row, panel))
		}
		for row := panel; row < numRowBlocks; row++ {
			args = append(args, work.BlockAt(row, col))
		}
		w, err := backends.CallOne(backend, distributed.OpBlockwiseInnerT, args...)
		if err != nil {
			return err
		}
		toFree.Insert(w)
		for row := panel; row < numRowBlocks; row++ {
			previous := work.BlockAt(row, col)
			updated, err := backends.CallOne(backend, distributed.OpHouseholderUpdate,
				previous, factors.Y.BlockAt(row, panel), h.t, w, true)
			if err != nil {
				return err
			}
			work.SetBlockAt(updated, row, col)
			if panel > 0 {
				toFree.Insert(previous)
			}
		}
		factors.R.SetBlockAt(work.BlockAt(panel, col), panel, col)
	}
	return nil
}

// PullTs waits for the T factors of all panels.
func (f *QRFactors) PullTs(ctx context.Context) ([]*tiles.Tile, error) {
	return backends.PullAll[*tiles.Tile](ctx, f.Y.Backend(), f.Ts...)
}

// Q reconstructs the explicit m×m orthogonal factor H_0·H_1···H_{p-1}, by applying the reflectors
// of the panels, last panel first, to the identity.
//
// The first k columns of Q times R reconstruct the factored array.
func (f *QRFactors) Q(ctx context.Context) (*distributed.Array, error) {
	backend := f.Y.Backend()
	m := f.Y.Shape().Dimensions[0]
	q, err := distributed.Eye(f.Y.Config(), m)
	if err != nil {
		return nil, err
	}
	numRowBlocks, numColBlocks := q.NumBlocks()[0], q.NumBlocks()[1]
	var toFree []backends.ObjRef
	defer func() { backend.Free(toFree...) }()
	for panel := len(f.Ts) - 1; panel >= 0; panel-- {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "Q reconstruction interrupted at panel %d", panel)
		}
		numPanelRows := numRowBlocks - panel
		for col := range numColBlocks {
			args := make([]any, 0, 1+2*numPanelRows)
			args = append(args, numPanelRows)
			for row := panel; row < numRowBlocks; row++ {
				args = append(args, f.Y.BlockAt(row, panel))
			}
			for row := panel; row < numRowBlocks; row++ {
				args = append(args, q.BlockAt(row, col))
			}
			w, err := backends.CallOne(backend, distributed.OpBlockwiseInnerT, args...)
			if err != nil {
				return nil, errors.WithMessagef(err, "Q reconstruction, panel %d", panel)
			}
			toFree = append(toFree, w)
			for row := panel; row < numRowBlocks; row++ {
				previous := q.BlockAt(row, col)
				updated, err := backends.CallOne(backend, distributed.OpHouseholderUpdate,
					previous, f.Y.BlockAt(row, panel), f.Ts[panel], w, false)
				if err != nil {
					return nil, errors.WithMessagef(err, "Q reconstruction, panel %d", panel)
				}
				q.SetBlockAt(updated, row, col)
				toFree = append(toFree, previous)
			}
		}
	}
	return q, nil
}

// Free releases the factors from the backend.
func (f *QRFactors) Free() {
	backend := f.Y.Backend()
	backend.Free(f.Ts...)
	f.Y.Free()
	f.R.Free()
}
