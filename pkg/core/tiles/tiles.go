// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiles implements Tile, a local dense block of a distributed array, and the single-block
// primitives that the distributed algorithms dispatch to an execution backend: zero-fill, identity,
// random-normal, copy, triangular extraction, reduced QR, vertical stacking, products, sub-block
// extraction, modified LU and the Householder block updates.
//
// Tiles are immutable: every operation returns a new Tile, so a Tile can be shared by any number of
// concurrent tasks.
//
// Values are computed in float64. Tiles tagged dtypes.Float32 hold values rounded to float32
// precision.
package tiles

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/distarray/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when the shapes of the operands are not compatible with an operation.
	ErrShape = errors.New("tiles: incompatible shapes")

	// ErrSingular is returned when a required matrix inverse doesn't exist.
	ErrSingular = errors.New("tiles: singular matrix")

	// ErrUnsupportedDType is returned for dtypes other than Float64 and Float32.
	ErrUnsupportedDType = errors.New("tiles: unsupported dtype")
)

// Tile is a dense rank-1 or rank-2 block of values.
//
// Rank-1 tiles are stored as a 1×n matrix.
type Tile struct {
	shape shapes.Shape
	data  *mat.Dense
}

// CheckDType returns an error wrapping ErrUnsupportedDType if dtype is not Float64 or Float32.
func CheckDType(dtype dtypes.DType) error {
	if dtype != dtypes.Float64 && dtype != dtypes.Float32 {
		return errors.Wrapf(ErrUnsupportedDType, "dtype %s", dtype)
	}
	return nil
}

func checkShape(shape shapes.Shape) error {
	if err := CheckDType(shape.DType); err != nil {
		return err
	}
	if shape.Rank() != 1 && shape.Rank() != 2 {
		return errors.Wrapf(ErrShape, "tiles must be rank 1 or 2, got shape %s", shape)
	}
	return nil
}

// matrixDims returns the dimensions of the matrix storing a tile of the given shape.
func matrixDims(shape shapes.Shape) (rows, cols int) {
	if shape.Rank() == 1 {
		return 1, shape.Dimensions[0]
	}
	return shape.Dimensions[0], shape.Dimensions[1]
}

// newTile takes ownership of data and rounds it to the precision of dtype.
func newTile(shape shapes.Shape, data *mat.Dense) *Tile {
	if shape.DType == dtypes.Float32 {
		raw := data.RawMatrix()
		rows, cols := data.Dims()
		for row := range rows {
			values := raw.Data[row*raw.Stride : row*raw.Stride+cols]
			for ii, v := range values {
				values[ii] = float64(float32(v))
			}
		}
	}
	return &Tile{shape: shape, data: data}
}

// newMatrixTile returns a rank-2 tile of the given dtype, taking ownership of data.
func newMatrixTile(dtype dtypes.DType, data *mat.Dense) *Tile {
	rows, cols := data.Dims()
	return newTile(shapes.Make(dtype, rows, cols), data)
}

// Zeros returns a tile of the given shape filled with zeros.
func Zeros(shape shapes.Shape) (*Tile, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	rows, cols := matrixDims(shape)
	return newTile(shape.Clone(), mat.NewDense(rows, cols, nil)), nil
}

// Eye returns the n×n identity tile.
func Eye(dtype dtypes.DType, n int) (*Tile, error) {
	t, err := Zeros(shapes.Make(dtype, n, n))
	if err != nil {
		return nil, err
	}
	for ii := range n {
		t.data.Set(ii, ii, 1)
	}
	return t, nil
}

// RandomNormal returns a tile of the given shape with values sampled from the standard normal
// distribution.
func RandomNormal(shape shapes.Shape, rng *rand.Rand) (*Tile, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	rows, cols := matrixDims(shape)
	values := make([]float64, rows*cols)
	for ii := range values {
		values[ii] = rng.NormFloat64()
	}
	return newTile(shape.Clone(), mat.NewDense(rows, cols, values)), nil
}

// FromFlat returns a tile of the given shape with the values in row-major order.
// The values are copied.
func FromFlat(shape shapes.Shape, values []float64) (*Tile, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if len(values) != shape.Size() {
		return nil, errors.Wrapf(ErrShape, "%d values given for shape %s", len(values), shape)
	}
	rows, cols := matrixDims(shape)
	return newTile(shape.Clone(), mat.NewDense(rows, cols, slices.Clone(values))), nil
}

// FromMatrix returns a tile of the given shape with a copy of the values of m.
// A rank-1 shape takes a matrix with a single row.
func FromMatrix(shape shapes.Shape, m mat.Matrix) (*Tile, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	rows, cols := matrixDims(shape)
	if r, c := m.Dims(); r != rows || c != cols {
		return nil, errors.Wrapf(ErrShape, "matrix of dimensions %dx%d given for shape %s", r, c, shape)
	}
	return newTile(shape.Clone(), mat.DenseCopyOf(m)), nil
}

// Shape of the tile. It must not be modified.
func (t *Tile) Shape() shapes.Shape { return t.shape }

// DType of the tile.
func (t *Tile) DType() dtypes.DType { return t.shape.DType }

// Rank of the tile, 1 or 2.
func (t *Tile) Rank() int { return t.shape.Rank() }

// Dims returns the dimensions of the matrix holding the tile: 1×n for rank-1 tiles.
func (t *Tile) Dims() (rows, cols int) { return t.data.Dims() }

// Matrix returns a read-only view of the tile values.
func (t *Tile) Matrix() mat.Matrix { return t.data }

// At returns the value at the given indices, one per axis.
func (t *Tile) At(indices ...int) float64 {
	if len(indices) != t.Rank() {
		panic(errors.Errorf("tiles.At(%v) for a tile of shape %s", indices, t.shape))
	}
	if t.Rank() == 1 {
		return t.data.At(0, indices[0])
	}
	return t.data.At(indices[0], indices[1])
}

// Flat returns a copy of the values in row-major order.
func (t *Tile) Flat() []float64 {
	rows, cols := t.data.Dims()
	raw := t.data.RawMatrix()
	values := make([]float64, 0, rows*cols)
	for row := range rows {
		values = append(values, raw.Data[row*raw.Stride:row*raw.Stride+cols]...)
	}
	return values
}

// Copy returns a deep copy of the tile.
func (t *Tile) Copy() *Tile {
	return &Tile{shape: t.shape.Clone(), data: mat.DenseCopyOf(t.data)}
}

// String implements fmt.Stringer.
func (t *Tile) String() string {
	return fmt.Sprintf("%s\n%v", t.shape, mat.Formatted(t.data, mat.Squeeze()))
}
