// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiles

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/distarray/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const delta = 1e-10

func randomTile(t *testing.T, seed uint64, dims ...int) *Tile {
	rng := rand.New(rand.NewPCG(seed, 0))
	tile, err := RandomNormal(shapes.Make(dtypes.Float64, dims...), rng)
	require.NoError(t, err)
	return tile
}

// requireOrthonormalColumns checks that qᵀ·q is the identity.
func requireOrthonormalColumns(t *testing.T, q *Tile) {
	_, cols := q.Dims()
	qtq := must.M1(dot(q, true, q))
	eye := must.M1(Eye(dtypes.Float64, cols))
	diff := must.M1(MaxAbsDiff(qtq, eye))
	require.Less(t, diff, delta, "qᵀ·q != I for q of shape %s", q.Shape())
}

func TestConstructors(t *testing.T) {
	z, err := Zeros(shapes.Make(dtypes.Float64, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, z.Flat())
	assert.Equal(t, 2, z.Rank())

	v, err := FromFlat(shapes.Make(dtypes.Float64, 4), []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Rank())
	assert.Equal(t, 3.0, v.At(2))
	rows, cols := v.Dims()
	assert.Equal(t, []int{1, 4}, []int{rows, cols})

	_, err = FromFlat(shapes.Make(dtypes.Float64, 2, 2), []float64{1, 2, 3})
	require.ErrorIs(t, err, ErrShape)
	_, err = Zeros(shapes.Make(dtypes.Int32, 2, 2))
	require.ErrorIs(t, err, ErrUnsupportedDType)
	_, err = Zeros(shapes.Make(dtypes.Float64, 2, 2, 2))
	require.ErrorIs(t, err, ErrShape)

	eye, err := Eye(dtypes.Float64, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, eye.Flat())

	m, err := FromMatrix(shapes.Make(dtypes.Float64, 2, 2), mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, 4.0, m.At(1, 1))
	_, err = FromMatrix(shapes.Make(dtypes.Float64, 3, 2), mat.NewDense(2, 2, nil))
	require.ErrorIs(t, err, ErrShape)

	// Float32 tiles are rounded.
	f32, err := FromFlat(shapes.Make(dtypes.Float32, 1), []float64{0.1})
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), f32.At(0))
	assert.NotEqual(t, 0.1, f32.At(0))

	// Same seed, same values.
	assert.Equal(t, randomTile(t, 7, 3, 4).Flat(), randomTile(t, 7, 3, 4).Flat())
	assert.NotEqual(t, randomTile(t, 7, 3, 4).Flat(), randomTile(t, 8, 3, 4).Flat())

	c := m.Copy()
	assert.Equal(t, m.Flat(), c.Flat())
	assert.Contains(t, m.String(), "(Float64)[2 2]")
}

func TestTriangular(t *testing.T) {
	a := must.M1(FromFlat(shapes.Make(dtypes.Float64, 3, 4), []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	}))
	upper, err := a.Triu()
	require.NoError(t, err)
	assert.Equal(t, []float64{
		1, 2, 3, 4,
		0, 6, 7, 8,
		0, 0, 11, 12,
	}, upper.Flat())
	lower, err := a.Tril()
	require.NoError(t, err)
	assert.Equal(t, []float64{
		1, 0, 0, 0,
		5, 6, 0, 0,
		9, 10, 11, 0,
	}, lower.Flat())
	// Input is not modified.
	assert.Equal(t, 2.0, a.At(0, 1))

	_, err = must.M1(Zeros(shapes.Make(dtypes.Float64, 3))).Triu()
	require.ErrorIs(t, err, ErrShape)
}

func TestStackSliceAndPad(t *testing.T) {
	a := must.M1(FromFlat(shapes.Make(dtypes.Float64, 1, 2), []float64{1, 2}))
	b := must.M1(FromFlat(shapes.Make(dtypes.Float64, 2, 2), []float64{3, 4, 5, 6}))
	stacked, err := VStack(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, stacked.Shape().Dimensions)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, stacked.Flat())

	_, err = VStack(a, must.M1(Zeros(shapes.Make(dtypes.Float64, 1, 3))))
	require.ErrorIs(t, err, ErrShape)

	sub, err := stacked.SubArray(1, 3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6}, sub.Flat())
	_, err = stacked.SubArray(0, 4, 0, 1)
	require.ErrorIs(t, err, ErrShape)

	padded, err := a.Pad(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 0, 0, 0, 0}, padded.Flat())
	_, err = b.Pad(1, 2)
	require.ErrorIs(t, err, ErrShape)

	tr, err := stacked.Transpose()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, tr.Flat())
}

func TestDot(t *testing.T) {
	a := must.M1(FromFlat(shapes.Make(dtypes.Float64, 2, 3), []float64{1, 2, 3, 4, 5, 6}))
	b := must.M1(FromFlat(shapes.Make(dtypes.Float64, 3, 1), []float64{1, 0, -1}))
	c, err := Dot(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -2}, c.Flat())
	_, err = Dot(a, a)
	require.ErrorIs(t, err, ErrShape)

	// Σ_k a_k·b_k over a split inner dimension equals the full product.
	x, y := randomTile(t, 1, 4, 6), randomTile(t, 2, 6, 3)
	want := must.M1(Dot(x, y))
	xs := []*Tile{must.M1(x.SubArray(0, 4, 0, 4)), must.M1(x.SubArray(0, 4, 4, 6))}
	ys := []*Tile{must.M1(y.SubArray(0, 4, 0, 3)), must.M1(y.SubArray(4, 6, 0, 3))}
	got, err := BlockwiseInner(xs, ys)
	require.NoError(t, err)
	assert.Less(t, must.M1(MaxAbsDiff(want, got)), delta)

	// Σ_k a_kᵀ·b_k over a split row dimension equals xᵀ·z.
	z := randomTile(t, 3, 4, 2)
	want = must.M1(dot(x, true, z))
	xs = []*Tile{must.M1(x.SubArray(0, 3, 0, 6)), must.M1(x.SubArray(3, 4, 0, 6))}
	zs := []*Tile{must.M1(z.SubArray(0, 3, 0, 2)), must.M1(z.SubArray(3, 4, 0, 2))}
	got, err = BlockwiseInnerT(xs, zs)
	require.NoError(t, err)
	assert.Less(t, must.M1(MaxAbsDiff(want, got)), delta)

	_, err = BlockwiseInner(xs, nil)
	require.ErrorIs(t, err, ErrShape)
}

func TestQR(t *testing.T) {
	for _, dims := range [][]int{{10, 5}, {5, 5}, {3, 7}, {1, 4}, {6, 1}} {
		a := randomTile(t, 42, dims...)
		q, r, err := a.QR()
		require.NoError(t, err)
		k := min(dims[0], dims[1])
		assert.Equal(t, []int{dims[0], k}, q.Shape().Dimensions)
		assert.Equal(t, []int{k, dims[1]}, r.Shape().Dimensions)
		requireOrthonormalColumns(t, q)
		assert.Equal(t, r.Flat(), must.M1(r.Triu()).Flat())
		assert.Less(t, must.M1(MaxAbsDiff(a, must.M1(Dot(q, r)))), delta, "dims=%v", dims)
	}

	// QR of zeros: orthonormal q and zero r.
	z := must.M1(Zeros(shapes.Make(dtypes.Float64, 4, 3)))
	q, r, err := z.QR()
	require.NoError(t, err)
	requireOrthonormalColumns(t, q)
	assert.Equal(t, make([]float64, 9), r.Flat())
}

func TestModifiedLUAndHouseholderFactors(t *testing.T) {
	a := randomTile(t, 3, 12, 4)
	q, r := must.M2(a.QR())

	y, u, s, err := q.ModifiedLU()
	require.NoError(t, err)
	require.Len(t, s, 4)
	// y·u == q - S.
	qMinusS := mat.DenseCopyOf(q.Matrix())
	for ii, si := range s {
		assert.Contains(t, []float64{-1, 1}, si)
		qMinusS.Set(ii, ii, qMinusS.At(ii, ii)-si)
	}
	assert.Less(t, must.M1(MaxAbsDiff(must.M1(Dot(y, u)), must.M1(FromMatrix(q.Shape(), qMinusS)))), delta)
	assert.Equal(t, must.M1(y.Tril()).Flat(), y.Flat())
	assert.Equal(t, must.M1(u.Triu()).Flat(), u.Flat())

	y, tt, yTop, rOut, err := HouseholderFactors(q, r)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, tt.Shape().Dimensions)
	assert.Equal(t, must.M1(y.SubArray(0, 4, 0, 4)).Flat(), yTop.Flat())

	// H = I - y·t·yᵀ is orthogonal, and H·[rOut; 0] == a.
	eye := must.M1(Eye(dtypes.Float64, 12))
	yt := must.M1(y.Transpose())
	h := must.M1(HouseholderUpdate(eye, y, tt, yt, false))
	requireOrthonormalColumns(t, h)
	hr := must.M1(Dot(h, must.M1(rOut.Pad(12, 4))))
	assert.Less(t, must.M1(MaxAbsDiff(a, hr)), 1e-9)

	// Hᵀ·a == [rOut; 0], computed as a - y·(tᵀ·(yᵀ·a)).
	w := must.M1(BlockwiseInnerT([]*Tile{y}, []*Tile{a}))
	reduced := must.M1(HouseholderUpdate(a, y, tt, w, true))
	assert.Less(t, must.M1(MaxAbsDiff(reduced, must.M1(rOut.Pad(12, 4)))), 1e-9)

	_, _, _, err = must.M1(Zeros(shapes.Make(dtypes.Float64, 2, 3))).ModifiedLU()
	require.ErrorIs(t, err, ErrShape)
}

func TestInverse(t *testing.T) {
	a := must.M1(FromFlat(shapes.Make(dtypes.Float64, 2, 2), []float64{2, 0, 0, 4}))
	inv, err := a.Inverse()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 0, 0.25}, inv.Flat(), delta)

	singular := must.M1(FromFlat(shapes.Make(dtypes.Float64, 2, 2), []float64{1, 2, 2, 4}))
	_, err = singular.Inverse()
	require.ErrorIs(t, err, ErrSingular)

	_, err = must.M1(Zeros(shapes.Make(dtypes.Float64, 2, 3))).Inverse()
	require.ErrorIs(t, err, ErrShape)
}
