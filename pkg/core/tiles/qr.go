// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiles

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// QR returns the reduced QR factorization of the m×n tile: q is m×k with orthonormal columns and
// r is k×n upper triangular (trapezoidal if m < n), with k = min(m, n), such that q·r = t.
//
// Unlike mat.QR it accepts tiles with fewer rows than columns.
func (t *Tile) QR() (q, r *Tile, err error) {
	if err := t.checkMatrix("QR"); err != nil {
		return nil, nil, err
	}
	m, n := t.Dims()
	k := min(m, n)
	factored := mat.DenseCopyOf(t.data)
	raw := factored.RawMatrix()
	tau := make([]float64, k)
	work := []float64{0}
	lapack64.Geqrf(raw, tau, work, -1)
	work = make([]float64, int(work[0]))
	lapack64.Geqrf(raw, tau, work, len(work))

	rDense := mat.NewDense(k, n, nil)
	for row := range k {
		for col := row; col < n; col++ {
			rDense.Set(row, col, factored.At(row, col))
		}
	}

	// Apply the reflectors to the first k columns of the identity.
	qDense := mat.NewDense(m, k, nil)
	for ii := range k {
		qDense.Set(ii, ii, 1)
	}
	work = []float64{0}
	lapack64.Ormqr(blas.Left, blas.NoTrans, raw, tau, qDense.RawMatrix(), work, -1)
	work = make([]float64, int(work[0]))
	lapack64.Ormqr(blas.Left, blas.NoTrans, raw, tau, qDense.RawMatrix(), work, len(work))
	return newMatrixTile(t.DType(), qDense), newMatrixTile(t.DType(), rDense), nil
}

// ModifiedLU computes the LU decomposition without pivoting of t - S, where t is m×b with m >= b,
// and S is the m×b matrix with diag(s) on top and zeros below. Each sign s[i] is chosen during the
// elimination as the opposite of the sign of the current pivot (+1 for a zero pivot), which keeps
// the magnitude of every pivot >= 1.
//
// It returns y, the m×b unit lower trapezoidal factor, and u, the b×b upper triangular factor,
// such that t - S = y·u.
func (t *Tile) ModifiedLU() (y, u *Tile, s []float64, err error) {
	if err := t.checkMatrix("ModifiedLU"); err != nil {
		return nil, nil, nil, err
	}
	m, b := t.Dims()
	if m < b {
		return nil, nil, nil, errors.Wrapf(ErrShape, "ModifiedLU requires at least as many rows as columns, got shape %s", t.shape)
	}
	work := mat.DenseCopyOf(t.data)
	s = make([]float64, b)
	for ii := range b {
		pivot := work.At(ii, ii)
		s[ii] = -1
		if pivot < 0 {
			s[ii] = 1
		}
		pivot -= s[ii]
		work.Set(ii, ii, pivot)
		for row := ii + 1; row < m; row++ {
			l := work.At(row, ii) / pivot
			work.Set(row, ii, l)
			for col := ii + 1; col < b; col++ {
				work.Set(row, col, work.At(row, col)-l*work.At(ii, col))
			}
		}
	}

	yDense := mat.NewDense(m, b, nil)
	uDense := mat.NewDense(b, b, nil)
	for row := range m {
		for col := range b {
			switch {
			case row == col:
				yDense.Set(row, col, 1)
				uDense.Set(row, col, work.At(row, col))
			case row > col:
				yDense.Set(row, col, work.At(row, col))
			default:
				uDense.Set(row, col, work.At(row, col))
			}
		}
	}
	return newMatrixTile(t.DType(), yDense), newMatrixTile(t.DType(), uDense), s, nil
}

// Inverse returns the inverse of a square tile, or an error wrapping ErrSingular.
//
// Ill-conditioned, but invertible, tiles are only logged.
func (t *Tile) Inverse() (*Tile, error) {
	if err := t.checkMatrix("Inverse"); err != nil {
		return nil, err
	}
	rows, cols := t.Dims()
	if rows != cols {
		return nil, errors.Wrapf(ErrShape, "Inverse of non-square shape %s", t.shape)
	}
	var inv mat.Dense
	if err := inv.Inverse(t.data); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) || math.IsNaN(float64(cond)) {
			return nil, errors.Wrapf(ErrSingular, "inverse of shape %s: %v", t.shape, err)
		}
		klog.Warningf("tiles.Inverse: ill-conditioned matrix of shape %s: %v", t.shape, err)
	}
	return newMatrixTile(t.DType(), &inv), nil
}

// HouseholderFactors converts the factors q (m×b, orthonormal columns) and r (b×n) of a QR
// factorization into a compact Householder representation: I - y·t·yᵀ is orthogonal, its first
// b columns are q·diag(s), and rOut = diag(s)·r, so that q·r is still equal to (I - y·t·yᵀ)
// restricted to its first b columns times rOut.
//
// It returns y (m×b unit lower trapezoidal), t (b×b), yTop (the top b×b block of y) and rOut.
func HouseholderFactors(q, r *Tile) (y, t, yTop, rOut *Tile, err error) {
	y, u, s, err := q.ModifiedLU()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	_, b := q.Dims()
	if rows, _ := r.Dims(); rows != b {
		return nil, nil, nil, nil, errors.Wrapf(ErrShape, "HouseholderFactors of q %s and r %s", q.shape, r.shape)
	}
	yTop, err = y.SubArray(0, b, 0, b)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	yTopInv, err := yTop.Inverse()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// t = -u·diag(s)·yTop⁻ᵀ
	sDiag := mat.NewDiagDense(b, s)
	var us, tDense mat.Dense
	us.Mul(u.data, sDiag)
	tDense.Mul(&us, yTopInv.data.T())
	tDense.Scale(-1, &tDense)

	// rOut = diag(s)·r
	var sr mat.Dense
	sr.Mul(sDiag, r.data)
	return y, newMatrixTile(q.DType(), &tDense), yTop, newMatrixTile(r.DType(), &sr), nil
}
