// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape_Iter(t *testing.T) {
	// Only one value to iterate.
	shape := Make(dtypes.F32, 1, 1)
	collect := make([][]int, 0, shape.Size())
	for indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
	}
	require.Equal(t, [][]int{{0, 0}}, collect)

	shape = Make(dtypes.F64, 3, 2)
	collect = make([][]int, 0, shape.Size())
	for indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
	}
	want := [][]int{
		{0, 0},
		{0, 1},
		{1, 0},
		{1, 1},
		{2, 0},
		{2, 1},
	}
	require.Equal(t, want, collect)
}

func TestIterDims(t *testing.T) {
	var count int
	for indices := range IterDims(3, 1, 2) {
		require.Len(t, indices, 3)
		require.Zero(t, indices[1])
		count++
	}
	require.Equal(t, 6, count)

	// Early break.
	count = 0
	for range IterDims(4, 4) {
		count++
		if count == 5 {
			break
		}
	}
	require.Equal(t, 5, count)

	// Empty grid.
	for range IterDims(3, 0) {
		t.Fatal("unexpected iteration over empty grid")
	}
}
