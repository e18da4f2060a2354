// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// DefaultTileSize is the tile size used if none is configured.
const DefaultTileSize = 10

// TileSizeEnvVar is the environment variable with the default tile size used by NewConfig.
const TileSizeEnvVar = "DISTARRAY_TILE_SIZE"

// Config holds the parameters shared by the arrays created with it: the backend holding the
// tiles, the tile size, the default element type, and the seed for random arrays.
//
// Create it with NewConfig, and adjust with the With* methods before creating any arrays. Arrays
// combined in one operation must use the same tile size.
type Config struct {
	backend  backends.Backend
	tileSize int
	dtype    dtypes.DType

	seed uint64
	// randomStream is incremented for each random array, so each gets different values.
	randomStream atomic.Uint64
}

// NewConfig returns a configuration using the given backend, the tile size from the environment
// variable DISTARRAY_TILE_SIZE (or DefaultTileSize), Float64 elements and seed 0.
func NewConfig(backend backends.Backend) *Config {
	tileSize := DefaultTileSize
	if value, found := os.LookupEnv(TileSizeEnvVar); found {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			klog.Warningf("invalid %s=%q, using tile size %d", TileSizeEnvVar, value, DefaultTileSize)
		} else {
			tileSize = parsed
		}
	}
	return &Config{
		backend:  backend,
		tileSize: tileSize,
		dtype:    dtypes.Float64,
	}
}

// WithTileSize sets the maximum extent of a block along each axis. It must be > 0.
func (c *Config) WithTileSize(tileSize int) *Config {
	if tileSize <= 0 {
		exceptions.Panicf("distributed.Config.WithTileSize(%d): tile size must be > 0", tileSize)
	}
	c.tileSize = tileSize
	return c
}

// WithDType sets the element type of the arrays created by the constructors.
// It must be Float64 or Float32.
func (c *Config) WithDType(dtype dtypes.DType) *Config {
	if err := tiles.CheckDType(dtype); err != nil {
		exceptions.Panicf("distributed.Config.WithDType(%s): %v", dtype, err)
	}
	c.dtype = dtype
	return c
}

// WithSeed sets the seed used by RandomNormal.
func (c *Config) WithSeed(seed uint64) *Config {
	c.seed = seed
	c.randomStream.Store(0)
	return c
}

// Backend returns the backend holding the tiles.
func (c *Config) Backend() backends.Backend { return c.backend }

// TileSize returns the maximum extent of a block along each axis.
func (c *Config) TileSize() int { return c.tileSize }

// DType returns the element type of the arrays created by the constructors.
func (c *Config) DType() dtypes.DType { return c.dtype }

// nextRandomStream returns the seed and a new stream number for a random array.
func (c *Config) nextRandomStream() (seed, stream uint64) {
	return c.seed, c.randomStream.Add(1) - 1
}
