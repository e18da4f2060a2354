// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiles

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func (t *Tile) checkMatrix(op string) error {
	if t.Rank() != 2 {
		return errors.Wrapf(ErrShape, "%s requires a rank-2 tile, got shape %s", op, t.shape)
	}
	return nil
}

// Triu returns the upper triangular part of the tile (including the diagonal), with zeros below.
func (t *Tile) Triu() (*Tile, error) {
	if err := t.checkMatrix("Triu"); err != nil {
		return nil, err
	}
	res := mat.DenseCopyOf(t.data)
	rows, cols := res.Dims()
	for row := 1; row < rows; row++ {
		for col := 0; col < min(row, cols); col++ {
			res.Set(row, col, 0)
		}
	}
	return newTile(t.shape.Clone(), res), nil
}

// Tril returns the lower triangular part of the tile (including the diagonal), with zeros above.
func (t *Tile) Tril() (*Tile, error) {
	if err := t.checkMatrix("Tril"); err != nil {
		return nil, err
	}
	res := mat.DenseCopyOf(t.data)
	rows, cols := res.Dims()
	for row := range rows {
		for col := row + 1; col < cols; col++ {
			res.Set(row, col, 0)
		}
	}
	return newTile(t.shape.Clone(), res), nil
}

// Transpose returns the transposed rank-2 tile.
func (t *Tile) Transpose() (*Tile, error) {
	if err := t.checkMatrix("Transpose"); err != nil {
		return nil, err
	}
	return newMatrixTile(t.DType(), mat.DenseCopyOf(t.data.T())), nil
}

// SubArray returns the rows [rowLo, rowHi) and columns [colLo, colHi) of a rank-2 tile.
func (t *Tile) SubArray(rowLo, rowHi, colLo, colHi int) (*Tile, error) {
	if err := t.checkMatrix("SubArray"); err != nil {
		return nil, err
	}
	rows, cols := t.Dims()
	if rowLo < 0 || rowHi > rows || rowLo >= rowHi || colLo < 0 || colHi > cols || colLo >= colHi {
		return nil, errors.Wrapf(ErrShape, "SubArray rows [%d, %d), cols [%d, %d) of shape %s",
			rowLo, rowHi, colLo, colHi, t.shape)
	}
	return newMatrixTile(t.DType(), mat.DenseCopyOf(t.data.Slice(rowLo, rowHi, colLo, colHi))), nil
}

// Pad returns the rank-2 tile extended with zero rows at the bottom and zero columns at the
// right up to rows×cols.
func (t *Tile) Pad(rows, cols int) (*Tile, error) {
	if err := t.checkMatrix("Pad"); err != nil {
		return nil, err
	}
	r, c := t.Dims()
	if rows < r || cols < c {
		return nil, errors.Wrapf(ErrShape, "cannot pad shape %s to %dx%d", t.shape, rows, cols)
	}
	res := mat.NewDense(rows, cols, nil)
	res.Slice(0, r, 0, c).(*mat.Dense).Copy(t.data)
	return newMatrixTile(t.DType(), res), nil
}

// VStack stacks rank-2 tiles vertically. They must all have the same number of columns.
func VStack(tiles ...*Tile) (*Tile, error) {
	if len(tiles) == 0 {
		return nil, errors.Wrap(ErrShape, "VStack of no tiles")
	}
	var rows int
	_, cols := tiles[0].Dims()
	for ii, t := range tiles {
		if err := t.checkMatrix("VStack"); err != nil {
			return nil, err
		}
		r, c := t.Dims()
		if c != cols {
			return nil, errors.Wrapf(ErrShape, "VStack tile #%d has shape %s, but tile #0 has %d columns", ii, t.shape, cols)
		}
		rows += r
	}
	res := mat.NewDense(rows, cols, nil)
	var row int
	for _, t := range tiles {
		r, _ := t.Dims()
		res.Slice(row, row+r, 0, cols).(*mat.Dense).Copy(t.data)
		row += r
	}
	return newMatrixTile(tiles[0].DType(), res), nil
}

// Dot returns the matrix product a·b.
func Dot(a, b *Tile) (*Tile, error) {
	return dot(a, false, b)
}

// dot returns op(a)·b, where op transposes a if transposeA is set.
func dot(a *Tile, transposeA bool, b *Tile) (*Tile, error) {
	if err := a.checkMatrix("Dot"); err != nil {
		return nil, err
	}
	if err := b.checkMatrix("Dot"); err != nil {
		return nil, err
	}
	var lhs mat.Matrix = a.data
	if transposeA {
		lhs = a.data.T()
	}
	ar, ac := lhs.Dims()
	br, bc := b.Dims()
	if ac != br {
		return nil, errors.Wrapf(ErrShape, "Dot of %dx%d and %s", ar, ac, b.shape)
	}
	res := mat.NewDense(ar, bc, nil)
	res.Mul(lhs, b.data)
	return newMatrixTile(a.DType(), res), nil
}

// Sub returns a-b.
func Sub(a, b *Tile) (*Tile, error) {
	if !a.shape.EqualDimensions(b.shape) {
		return nil, errors.Wrapf(ErrShape, "Sub of %s and %s", a.shape, b.shape)
	}
	rows, cols := a.Dims()
	res := mat.NewDense(rows, cols, nil)
	res.Sub(a.data, b.data)
	return newTile(a.shape.Clone(), res), nil
}

// Norm returns the Frobenius norm of the tile.
func (t *Tile) Norm() float64 {
	return mat.Norm(t.data, 2)
}

// MaxAbsDiff returns the largest absolute element-wise difference between a and b.
func MaxAbsDiff(a, b *Tile) (float64, error) {
	if !a.shape.EqualDimensions(b.shape) {
		return 0, errors.Wrapf(ErrShape, "MaxAbsDiff of %s and %s", a.shape, b.shape)
	}
	var maxDiff float64
	rows, cols := a.Dims()
	for row := range rows {
		for col := range cols {
			maxDiff = max(maxDiff, math.Abs(a.data.At(row, col)-b.data.At(row, col)))
		}
	}
	return maxDiff, nil
}

// BlockwiseInner returns Σ_k as[k]·bs[k]: the block of a product computed from a row of blocks
// of the left operand and a column of blocks of the right operand.
func BlockwiseInner(as, bs []*Tile) (*Tile, error) {
	return blockwiseInner(as, false, bs)
}

// BlockwiseInnerT returns Σ_k as[k]ᵀ·bs[k].
func BlockwiseInnerT(as, bs []*Tile) (*Tile, error) {
	return blockwiseInner(as, true, bs)
}

func blockwiseInner(as []*Tile, transposeA bool, bs []*Tile) (*Tile, error) {
	if len(as) != len(bs) || len(as) == 0 {
		return nil, errors.Wrapf(ErrShape, "blockwise inner product of %d and %d tiles", len(as), len(bs))
	}
	var sum *mat.Dense
	for k := range as {
		term, err := dot(as[k], transposeA, bs[k])
		if err != nil {
			return nil, errors.WithMessagef(err, "term #%d", k)
		}
		if sum == nil {
			sum = term.data
			continue
		}
		rows, cols := sum.Dims()
		if r, c := term.Dims(); r != rows || c != cols {
			return nil, errors.Wrapf(ErrShape, "term #%d has shape %s, previous terms are %dx%d", k, term.shape, rows, cols)
		}
		sum.Add(sum, term.data)
	}
	return newMatrixTile(as[0].DType(), sum), nil
}

// HouseholderUpdate returns a - y·(op(t)·w), where op(t) is tᵀ if transposeT is set.
//
// With w = yᵀ·a, it applies the block Householder reflector I - y·t·yᵀ (or its transpose) to a.
func HouseholderUpdate(a, y, t, w *Tile, transposeT bool) (*Tile, error) {
	tw, err := dot(t, transposeT, w)
	if err != nil {
		return nil, errors.WithMessage(err, "HouseholderUpdate")
	}
	ytw, err := Dot(y, tw)
	if err != nil {
		return nil, errors.WithMessage(err, "HouseholderUpdate")
	}
	res, err := Sub(a, ytw)
	if err != nil {
		return nil, errors.WithMessage(err, "HouseholderUpdate")
	}
	return res, nil
}
