// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"encoding/gob"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// GobSerialize the metadata of the array: the element type tag, the dimensions, the tile size and
// the table of block references. The tiles themselves stay in the backend.
func (a *Array) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize Array %s", a.shape)
		}
	}
	enc(a.DType().String())
	enc(a.shape.DimensionsUint64())
	enc(a.cfg.tileSize)
	enc(a.blocks)
	return
}

// GobDeserialize an Array serialized with Array.GobSerialize. The block references must belong to
// the backend of cfg, and the tile size must match the one of cfg.
func GobDeserialize(cfg *Config, decoder *gob.Decoder) (a *Array, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize Array")
		}
	}
	var dtypeTag string
	var dims []uint64
	var tileSize int
	var refs []backends.ObjRef
	dec(&dtypeTag)
	dec(&dims)
	dec(&tileSize)
	dec(&refs)
	if err != nil {
		return nil, err
	}

	var dtype dtypes.DType
	switch dtypeTag {
	case dtypes.Float64.String():
		dtype = dtypes.Float64
	case dtypes.Float32.String():
		dtype = dtypes.Float32
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "element type %q", dtypeTag)
	}
	if tileSize != cfg.tileSize {
		return nil, errors.Wrapf(ErrDimensionMismatch, "array serialized with tile size %d, configuration uses %d",
			tileSize, cfg.tileSize)
	}
	dimensions := make([]int, len(dims))
	for axis, dim := range dims {
		if dim == 0 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "invalid dimensions %v", dims)
		}
		dimensions[axis] = int(dim)
	}
	return FromBlocks(cfg, dtype, dimensions, refs)
}
