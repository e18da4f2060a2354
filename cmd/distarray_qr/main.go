// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// distarray_qr factors a random (or CSV-loaded) matrix with the blocked QR factorization of
// distributed arrays, and reports the residuals of the factorization and the backend statistics.
//
// Example:
//
//	distarray_qr -rows=1000 -cols=200 -tile=50 -backend=local:parallelism=8
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/distarray/backends"
	_ "github.com/gomlx/distarray/backends/default"
	"github.com/gomlx/distarray/pkg/core/distributed"
	"github.com/gomlx/distarray/pkg/core/tiles"
	"github.com/gomlx/distarray/pkg/linalg"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagRows    = flag.Int("rows", 100, "Number of rows of the random matrix to factor.")
	flagCols    = flag.Int("cols", 40, "Number of columns of the random matrix to factor.")
	flagTile    = flag.Int("tile", 0, "Tile size. If 0, it uses $"+distributed.TileSizeEnvVar+" or the default.")
	flagSeed    = flag.Uint64("seed", 0, "Seed for the random matrix.")
	flagFloat32 = flag.Bool("float32", false, "Use Float32 elements instead of Float64.")
	flagInput   = flag.String("input", "", "CSV file with the matrix to factor, one row per line. "+
		"If set, -rows and -cols are ignored.")
	flagHeader   = flag.Bool("header", false, "Whether the -input CSV file has a header line.")
	flagBackend  = flag.String("backend", "", "Backend configuration, formatted as \"<name>:<config>\". "+
		"If empty, it uses $"+backends.ConfigEnvVar+" or the default backend.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar with the panels factored.")
	flagShow     = flag.Bool("show", false, "Print the R factor (and Q, if small).")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx); err != nil {
		klog.Errorf("distarray_qr failed: %+v", err)
		os.Exit(1)
	}
}

func newBackend() (backends.Backend, error) {
	if *flagBackend != "" {
		return backends.NewWithConfig(*flagBackend)
	}
	return backends.New()
}

func run(ctx context.Context) error {
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()
	cfg := distributed.NewConfig(backend).WithSeed(*flagSeed)
	if *flagTile > 0 {
		cfg.WithTileSize(*flagTile)
	}
	if *flagFloat32 {
		cfg.WithDType(dtypes.Float32)
	}

	var a *distributed.Array
	if *flagInput != "" {
		local, err := loadCSV(*flagInput, *flagHeader, cfg.DType())
		if err != nil {
			return err
		}
		a, err = distributed.FromTile(cfg, local)
		if err != nil {
			return err
		}
	} else {
		a, err = distributed.RandomNormal(cfg, *flagRows, *flagCols)
		if err != nil {
			return err
		}
	}
	if a.Rank() != 2 {
		return errors.Errorf("matrix must be rank 2, got shape %s", a.Shape())
	}

	start := time.Now()
	builder := linalg.BuildQR(a)
	var bar *panelProgress
	if *flagProgress {
		bar = newPanelProgress(min(a.NumBlocks()[0], a.NumBlocks()[1]))
		builder.WithProgress(bar.Update)
	}
	factors, err := builder.Factorize(ctx)
	if bar != nil {
		bar.Done()
	}
	if err != nil {
		return err
	}
	q, err := factors.Q(ctx)
	if err != nil {
		return err
	}
	backend.Wait()
	elapsed := time.Since(start)

	res, err := computeResiduals(ctx, a, q, factors.R)
	if err != nil {
		return err
	}
	printSummary(a, cfg, elapsed, res, backend.Stats())
	if *flagShow {
		if err := show(ctx, q, factors.R); err != nil {
			return err
		}
	}
	return nil
}

// residuals of a QR factorization.
type residuals struct {
	// reconstruction is ‖A - Q·R‖ / ‖A‖.
	reconstruction float64
	// orthogonality is ‖Qᵀ·Q - I‖.
	orthogonality float64
}

func computeResiduals(ctx context.Context, a, q, r *distributed.Array) (res residuals, err error) {
	m, n := a.Shape().Dimensions[0], a.Shape().Dimensions[1]
	k := min(m, n)
	aTile, err := a.Assemble(ctx)
	if err != nil {
		return
	}
	rTile, err := r.Assemble(ctx)
	if err != nil {
		return
	}
	qTile, err := q.Assemble(ctx)
	if err != nil {
		return
	}
	qk, err := qTile.SubArray(0, m, 0, k)
	if err != nil {
		return
	}
	qr, err := tiles.Dot(qk, rTile)
	if err != nil {
		return
	}
	diff, err := tiles.Sub(qr, aTile)
	if err != nil {
		return
	}
	res.reconstruction = diff.Norm()
	if norm := aTile.Norm(); norm > 0 {
		res.reconstruction /= norm
	}

	qtq, err := tiles.BlockwiseInnerT([]*tiles.Tile{qTile}, []*tiles.Tile{qTile})
	if err != nil {
		return
	}
	eye, err := tiles.Eye(qtq.DType(), m)
	if err != nil {
		return
	}
	diff, err = tiles.Sub(qtq, eye)
	if err != nil {
		return
	}
	res.orthogonality = diff.Norm()
	return
}

func printSummary(a *distributed.Array, cfg *distributed.Config, elapsed time.Duration, res residuals, stats backends.Stats) {
	fmt.Println(titleStyle.Render("QR factorization"))
	table := newPlainTable(false)
	table.Row("shape", a.Shape().String())
	table.Row("tile size", humanize.Comma(int64(cfg.TileSize())))
	table.Row("blocks", fmt.Sprintf("%v", a.NumBlocks()))
	table.Row("panels", humanize.Comma(int64(min(a.NumBlocks()[0], a.NumBlocks()[1]))))
	table.Row("backend", cfg.Backend().Description())
	table.Row("elapsed", elapsed.Round(time.Millisecond).String())
	table.Row("‖A - Q·R‖ / ‖A‖", fmt.Sprintf("%.3g", res.reconstruction))
	table.Row("‖Qᵀ·Q - I‖", fmt.Sprintf("%.3g", res.orthogonality))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Backend"))
	table = newPlainTable(true)
	table.Row("Objects", "Pushed", "Tasks", "Completed", "Failed")
	table.Row(humanize.Comma(int64(stats.NumObjects)), humanize.Comma(stats.NumPushed),
		humanize.Comma(stats.TasksDispatched), humanize.Comma(stats.TasksCompleted), humanize.Comma(stats.TasksFailed))
	fmt.Println(table.Render())
}

// maxShowQ is the largest number of rows of Q printed by -show.
const maxShowQ = 20

func show(ctx context.Context, q, r *distributed.Array) error {
	rTile, err := r.Assemble(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("R"))
	fmt.Println(rTile)
	if q.Shape().Dimensions[0] > maxShowQ {
		return nil
	}
	qTile, err := q.Assemble(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Q"))
	fmt.Println(qTile)
	return nil
}
