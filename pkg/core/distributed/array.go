// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed implements Array, a rank-1 or rank-2 dense array partitioned in tiles held
// by a backends.Backend, and the operations that build and combine them block by block.
//
// Every block operation is dispatched to the backend as a task on the tiles (see package tiles),
// and returns immediately: the tasks run as soon as the blocks they consume are computed. Only
// Array.Assemble (and what is built on it) waits for the values.
//
// Block (i, j) of an array holds the elements [i·T, min((i+1)·T, rows)) × [j·T, min((j+1)·T, cols)),
// where T is the tile size of the Config.
package distributed

import (
	"context"
	"iter"
	"slices"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/shapes"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimensionMismatch is returned when the shapes of the operands are not compatible with
	// the requested operation.
	ErrDimensionMismatch = errors.New("distributed: dimension mismatch")

	// ErrMissingBlock is returned when a block of an array was never assigned.
	ErrMissingBlock = errors.New("distributed: missing block")

	// ErrUnsupportedDType is returned for element types other than Float64 and Float32.
	ErrUnsupportedDType = tiles.ErrUnsupportedDType
)

// Array is a dense rank-1 or rank-2 array, whose values are partitioned in blocks (tiles) held by
// a backend.
//
// The shape is immutable, but individual blocks can be reassigned with SetBlockAt. An Array is
// not safe for concurrent mutation.
type Array struct {
	cfg       *Config
	shape     shapes.Shape
	numBlocks []int

	// blocks in row-major order of the block coordinates.
	// The zero ObjRef marks a block not yet assigned.
	blocks []backends.ObjRef
}

// New creates an Array with the given element type and dimensions, with all blocks unassigned.
// Use SetBlockAt to populate it, or one of the constructors (Zeros, RandomNormal, ...).
func New(cfg *Config, dtype dtypes.DType, dimensions ...int) (*Array, error) {
	if err := tiles.CheckDType(dtype); err != nil {
		return nil, err
	}
	if len(dimensions) != 1 && len(dimensions) != 2 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "arrays must be rank 1 or 2, got dimensions %v", dimensions)
	}
	shape := shapes.Make(dtype, dimensions...)
	numBlocks := NumBlocks(cfg.tileSize, shape.Dimensions)
	size := 1
	for _, n := range numBlocks {
		size *= n
	}
	return &Array{
		cfg:       cfg,
		shape:     shape,
		numBlocks: numBlocks,
		blocks:    make([]backends.ObjRef, size),
	}, nil
}

// Config used by the array.
func (a *Array) Config() *Config { return a.cfg }

// Backend holding the blocks.
func (a *Array) Backend() backends.Backend { return a.cfg.backend }

// Shape of the whole array. It must not be modified.
func (a *Array) Shape() shapes.Shape { return a.shape }

// DType of the array elements.
func (a *Array) DType() dtypes.DType { return a.shape.DType }

// Rank of the array, 1 or 2.
func (a *Array) Rank() int { return a.shape.Rank() }

// NumBlocks returns the number of blocks along each axis.
func (a *Array) NumBlocks() []int { return slices.Clone(a.numBlocks) }

// BlockLower returns the first element index, per axis, of the block at idx.
func (a *Array) BlockLower(idx ...int) []int {
	a.checkBlockIndex(idx)
	return BlockLower(a.cfg.tileSize, idx)
}

// BlockUpper returns the element index one past the end, per axis, of the block at idx.
func (a *Array) BlockUpper(idx ...int) []int {
	a.checkBlockIndex(idx)
	return BlockUpper(a.cfg.tileSize, a.shape.Dimensions, idx)
}

// BlockShape returns the shape of the tile at idx.
func (a *Array) BlockShape(idx ...int) shapes.Shape {
	a.checkBlockIndex(idx)
	return shapes.Make(a.shape.DType, BlockDimensions(a.cfg.tileSize, a.shape.Dimensions, idx)...)
}

// checkBlockIndex panics if idx is not a valid block coordinate.
func (a *Array) checkBlockIndex(idx []int) {
	if len(idx) != len(a.numBlocks) {
		exceptions.Panicf("block index %v for an array with %d axes", idx, len(a.numBlocks))
	}
	for axis, blockIdx := range idx {
		if blockIdx < 0 || blockIdx >= a.numBlocks[axis] {
			exceptions.Panicf("block index %v out of range for array with %v blocks", idx, a.numBlocks)
		}
	}
}

func (a *Array) flatIndex(idx []int) int {
	a.checkBlockIndex(idx)
	flat := 0
	for axis, blockIdx := range idx {
		flat = flat*a.numBlocks[axis] + blockIdx
	}
	return flat
}

// BlockAt returns the reference to the tile at idx. It panics if idx is out of range.
func (a *Array) BlockAt(idx ...int) backends.ObjRef {
	return a.blocks[a.flatIndex(idx)]
}

// SetBlockAt assigns the reference to the tile at idx. It panics if idx is out of range.
func (a *Array) SetBlockAt(ref backends.ObjRef, idx ...int) {
	a.blocks[a.flatIndex(idx)] = ref
}

// BlockIndices iterates over all block coordinates in row-major order.
// The yielded slice is owned by the iterator and must not be modified.
func (a *Array) BlockIndices() iter.Seq[[]int] {
	return shapes.IterDims(a.numBlocks...)
}

// Blocks returns the references to all tiles, in row-major order of their block coordinates.
func (a *Array) Blocks() []backends.ObjRef {
	return slices.Clone(a.blocks)
}

// Free releases the tiles of the array from the backend. The array must not be used afterward.
func (a *Array) Free() {
	a.cfg.backend.Free(a.blocks...)
	clear(a.blocks)
}

// pullBlock waits for the tile at idx and checks its shape.
func (a *Array) pullBlock(ctx context.Context, idx []int) (*tiles.Tile, error) {
	ref := a.BlockAt(idx...)
	if !ref.IsValid() {
		return nil, errors.Wrapf(ErrMissingBlock, "block %v of array %s", idx, a.shape)
	}
	tile, err := backends.Pull[*tiles.Tile](ctx, a.cfg.backend, ref)
	if err != nil {
		return nil, errors.WithMessagef(err, "block %v of array %s", idx, a.shape)
	}
	if want := a.BlockShape(idx...); !tile.Shape().EqualDimensions(want) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "block %v of array %s has shape %s, expected %s",
			idx, a.shape, tile.Shape(), want)
	}
	return tile, nil
}

// matrixRange returns the rows and columns of the array elements covered by the block at idx,
// as if the array were a matrix: rank-1 arrays are a single row.
func (a *Array) matrixRange(idx []int) (rowLo, rowHi, colLo, colHi int) {
	lower, upper := a.BlockLower(idx...), a.BlockUpper(idx...)
	if a.Rank() == 1 {
		return 0, 1, lower[0], upper[0]
	}
	return lower[0], upper[0], lower[1], upper[1]
}

// Assemble waits for all the tiles and gathers them in a single local tile with the shape of the
// whole array.
//
// It is the only operation that materializes the whole array locally: use it to inspect results,
// not inside algorithms.
func (a *Array) Assemble(ctx context.Context) (*tiles.Tile, error) {
	rows, cols := 1, a.shape.Dimensions[0]
	if a.Rank() == 2 {
		rows, cols = a.shape.Dimensions[0], a.shape.Dimensions[1]
	}
	dense := mat.NewDense(rows, cols, nil)
	for idx := range a.BlockIndices() {
		tile, err := a.pullBlock(ctx, idx)
		if err != nil {
			return nil, err
		}
		rowLo, rowHi, colLo, colHi := a.matrixRange(idx)
		dense.Slice(rowLo, rowHi, colLo, colHi).(*mat.Dense).Copy(tile.Matrix())
	}
	return tiles.FromMatrix(a.shape, dense)
}

// Slice returns the elements in the range [lower, upper) (one value per axis) as a local tile.
//
// It is implemented with Assemble, so it materializes the whole array.
func (a *Array) Slice(ctx context.Context, lower, upper []int) (*tiles.Tile, error) {
	if len(lower) != a.Rank() || len(upper) != a.Rank() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "Slice(%v, %v) of array %s", lower, upper, a.shape)
	}
	for axis := range lower {
		if lower[axis] < 0 || upper[axis] > a.shape.Dimensions[axis] || lower[axis] >= upper[axis] {
			return nil, errors.Wrapf(ErrDimensionMismatch, "Slice(%v, %v) of array %s", lower, upper, a.shape)
		}
	}
	whole, err := a.Assemble(ctx)
	if err != nil {
		return nil, err
	}
	if a.Rank() == 1 {
		return tiles.FromFlat(shapes.Make(a.DType(), upper[0]-lower[0]), whole.Flat()[lower[0]:upper[0]])
	}
	return whole.SubArray(lower[0], upper[0], lower[1], upper[1])
}

// FromBlocks creates an Array of the given dimensions from the references to its tiles, given in
// row-major order of their block coordinates.
//
// The tiles are not checked until they are pulled.
func FromBlocks(cfg *Config, dtype dtypes.DType, dimensions []int, refs []backends.ObjRef) (*Array, error) {
	a, err := New(cfg, dtype, dimensions...)
	if err != nil {
		return nil, err
	}
	if len(refs) != len(a.blocks) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d blocks given for array %s with %v blocks",
			len(refs), a.shape, a.numBlocks)
	}
	copy(a.blocks, refs)
	return a, nil
}

// SubBlocks returns a new Array made of the blocks in rows [rowLo, rowHi) and columns
// [colLo, colHi) of a rank-2 array. The tiles are shared, not copied.
func (a *Array) SubBlocks(rowLo, rowHi, colLo, colHi int) (*Array, error) {
	if a.Rank() != 2 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "SubBlocks requires a rank-2 array, got %s", a.shape)
	}
	if rowLo < 0 || rowHi > a.numBlocks[0] || rowLo >= rowHi || colLo < 0 || colHi > a.numBlocks[1] || colLo >= colHi {
		return nil, errors.Wrapf(ErrDimensionMismatch, "SubBlocks rows [%d, %d), cols [%d, %d) of array with %v blocks",
			rowLo, rowHi, colLo, colHi, a.numBlocks)
	}
	lower := a.BlockLower(rowLo, colLo)
	upper := a.BlockUpper(rowHi-1, colHi-1)
	refs := make([]backends.ObjRef, 0, (rowHi-rowLo)*(colHi-colLo))
	for row := rowLo; row < rowHi; row++ {
		for col := colLo; col < colHi; col++ {
			refs = append(refs, a.BlockAt(row, col))
		}
	}
	return FromBlocks(a.cfg, a.DType(), []int{upper[0] - lower[0], upper[1] - lower[1]}, refs)
}

// FromTile partitions a local tile in blocks, pushed to the backend of cfg.
func FromTile(cfg *Config, tile *tiles.Tile) (*Array, error) {
	a, err := New(cfg, tile.DType(), tile.Shape().Dimensions...)
	if err != nil {
		return nil, err
	}
	var flat []float64
	if a.Rank() == 1 {
		flat = tile.Flat()
	}
	for idx := range a.BlockIndices() {
		rowLo, rowHi, colLo, colHi := a.matrixRange(idx)
		var block *tiles.Tile
		if a.Rank() == 1 {
			block, err = tiles.FromFlat(a.BlockShape(idx...), flat[colLo:colHi])
		} else {
			block, err = tile.SubArray(rowLo, rowHi, colLo, colHi)
		}
		if err != nil {
			return nil, err
		}
		ref, err := cfg.backend.Push(block)
		if err != nil {
			return nil, err
		}
		a.SetBlockAt(ref, idx...)
	}
	return a, nil
}
