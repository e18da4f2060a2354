// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/distarray/pkg/core/shapes"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/distarray/pkg/support/fsutil"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// loadCSV reads a matrix from a CSV file with only numeric values.
func loadCSV(path string, hasHeader bool, dtype dtypes.DType) (*tiles.Tile, error) {
	path, err := fsutil.ReplaceTilde(path)
	if err != nil {
		return nil, err
	}
	exists, err := fsutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("input file %q not found", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	return readCSV(f, hasHeader, dtype)
}

func readCSV(r io.Reader, hasHeader bool, dtype dtypes.DType) (*tiles.Tile, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(hasHeader),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	rows, cols := df.Nrow(), df.Ncol()
	if rows == 0 || cols == 0 {
		return nil, errors.Errorf("empty CSV matrix (%d rows, %d columns)", rows, cols)
	}
	values := make([]float64, 0, rows*cols)
	for row := range rows {
		for col := range cols {
			v := df.Elem(row, col).Float()
			if math.IsNaN(v) {
				return nil, errors.Errorf("invalid or missing value at row %d, column %d", row, col)
			}
			values = append(values, v)
		}
	}
	klog.V(1).Infof("loaded %dx%d matrix", rows, cols)
	return tiles.FromFlat(shapes.Make(dtype, rows, cols), values)
}
