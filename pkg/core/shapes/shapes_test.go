// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, []int{6, 2, 1}, shape1.Strides())
	require.Equal(t, []uint64{4, 3, 2}, shape1.DimensionsUint64())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float64, 3, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float64, 25, 5)
	c := s.Clone()
	require.True(t, s.Equal(c))
	c.Dimensions[0] = 24
	require.False(t, s.Equal(c))
	require.Equal(t, 25, s.Dim(0))

	s32 := Make(dtypes.Float32, 25, 5)
	require.False(t, s.Equal(s32))
	require.True(t, s.EqualDimensions(s32))
}

func TestGob(t *testing.T) {
	s := Make(dtypes.Float64, 7, 11)
	var buf bytes.Buffer
	require.NoError(t, s.GobSerialize(gob.NewEncoder(&buf)))
	got, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.True(t, s.Equal(got), "got %s, wanted %s", got, s)
}
