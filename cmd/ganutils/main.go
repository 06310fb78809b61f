// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ganutils prepares datasets and renders images for GAN experiments.
//
// Usage:
//
//	ganutils [flags] download
//	ganutils [flags] split <images_dir> <splits_dir>
//	ganutils [flags] tile <output.png> <image files...>
//	ganutils [flags] gif <output.gif> <image files...>
//
// The "download" command fetches and partitions the aligned CelebA dataset into --data.
// The "split" command links numbered images (000001.jpg, ...) into train/valid/test directories.
// The "tile" and "gif" commands load the given images (center cropped to --size) and save them as
// one contact sheet or as an animation.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ganutils/examples/celeba"
	"github.com/gomlx/ganutils/pkg/core/images"
	"github.com/gomlx/ganutils/pkg/core/images/animation"
	"github.com/gomlx/ganutils/pkg/ml/data/splits"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDataDir     = flag.String("data", "~/tmp/ganutils", "Directory to download the dataset to.")
	flagParallelism = flag.Int("parallelism", 0, "Number of parallel workers to create links or load images. 0 means sequential, -1 unlimited.")

	// split:
	flagTotal     = flag.Int("total", celeba.Splits.Total, "Total number of examples to partition with \"split\".")
	flagTrainStop = flag.Int("train_stop", celeba.Splits.TrainStop, "First example id of the validation split.")
	flagValidStop = flag.Int("valid_stop", celeba.Splits.ValidStop, "First example id of the test split.")

	// tile and gif:
	flagSize     = flag.Int("size", celeba.ImageSize, "Side of the square crops of the images for \"tile\" and \"gif\".")
	flagRows     = flag.Int("rows", 0, "Rows of the grid for \"tile\". If 0, a square-ish grid is used.")
	flagCols     = flag.Int("cols", 0, "Columns of the grid for \"tile\". If 0, a square-ish grid is used.")
	flagByCols   = flag.Bool("by_cols", false, "Place images row by row in \"tile\" (row = index / cols), instead of the legacy row = index / rows.")
	flagDuration = flag.Float64("duration", animation.DefaultDuration, "Duration in seconds of the animation for \"gif\".")
	flagQuality  = flag.Int("jpeg_quality", 95, "Quality (1 to 100) of images saved by \"tile\" to \".jpg\" files.")
	flagOverflow = flag.String("overflow", "warn", "What to do with pixel values out of range: \"warn\", \"ignore\" or \"error\".")
)

func usage() {
	_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] download | split <images_dir> <splits_dir> | "+
		"tile <output> <images...> | gif <output.gif> <images...>\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing command. See 'ganutils -help'.")
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() {
		switch args[0] {
		case "download":
			download()
		case "split":
			requireArgs(args, 3, 3)
			split(args[1], args[2])
		case "tile":
			requireArgs(args, 3, -1)
			tile(args[1], args[2:])
		case "gif":
			requireArgs(args, 3, -1)
			makeGIF(args[1], args[2:])
		default:
			klog.Errorf("Unknown command %q. See 'ganutils -help'.", args[0])
			os.Exit(1)
		}
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// requireArgs exits if the number of arguments (including the command) is out of [minArgs, maxArgs].
// maxArgs < 0 means no limit.
func requireArgs(args []string, minArgs, maxArgs int) {
	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		klog.Errorf("Wrong number of arguments for %q. See 'ganutils -help'.", args[0])
		os.Exit(1)
	}
}

func download() {
	must.M(celeba.Download(*flagDataDir))
	counts := make([]int, len(splits.AllSplits))
	for ii, split := range splits.AllSplits {
		counts[ii] = len(must.M1(celeba.ListSplit(*flagDataDir, split)))
	}
	dataDir := must.M1(celeba.DataDir(*flagDataDir))
	fmt.Println(titleStyle.Render("CelebA in " + dataDir))
	fmt.Println(splitsTable(counts, nil).Render())
}

func split(imagesDir, splitsDir string) {
	imagesDir = fsutil.MustReplaceTildeInDir(imagesDir)
	splitsDir = fsutil.MustReplaceTildeInDir(splitsDir)
	assignment := splits.Assignment{Total: *flagTotal, TrainStop: *flagTrainStop, ValidStop: *flagValidStop}
	stats := must.M1(splits.New().
		WithParallelism(*flagParallelism).
		WithProgressBar(true).
		Partition(assignment, imagesDir, splitsDir))
	fmt.Println(titleStyle.Render("Splits in " + splitsDir))
	fmt.Println(splitsTable(stats.Linked[:], stats.Skipped[:]).Render())
}

func codec() *images.Codec {
	c := images.NewCodec().WithJPEGQuality(*flagQuality)
	switch strings.ToLower(*flagOverflow) {
	case "warn":
		c.WithOverflow(images.OverflowWarn)
	case "ignore":
		c.WithOverflow(images.OverflowIgnore)
	case "error":
		c.WithOverflow(images.OverflowError)
	default:
		klog.Errorf("Invalid --overflow=%q, valid values are \"warn\", \"ignore\" and \"error\".", *flagOverflow)
		os.Exit(1)
	}
	return c
}

func loadImages(paths []string) images.Batch {
	for ii, path := range paths {
		paths[ii] = fsutil.MustReplaceTildeInDir(path)
	}
	return must.M1(celeba.LoadBatch(paths, codec(), *flagSize, *flagParallelism))
}

func tile(output string, paths []string) {
	batch := loadImages(paths)
	grid := images.GridSpec{Rows: *flagRows, Cols: *flagCols}
	if grid.Rows <= 0 || grid.Cols <= 0 {
		grid = images.SquareGrid(len(batch))
	}
	indexing := images.RowIndexLegacy
	if *flagByCols {
		indexing = images.RowIndexByCols
	}
	c := codec()
	denormalized := make(images.Batch, len(batch))
	for ii, a := range batch {
		denormalized[ii] = must.M1(c.Denormalize(a))
	}
	sheet := must.M1(images.TileWith(denormalized, grid, indexing))
	output = fsutil.MustReplaceTildeInDir(output)
	must.M(c.Save(output, sheet))
	klog.Infof("saved %d images in a %s grid (%s) to %q", len(batch), grid, indexing, output)
}

func makeGIF(output string, paths []string) {
	batch := loadImages(paths)
	output = fsutil.MustReplaceTildeInDir(output)
	must.M(animation.Export(batch, output, animation.Options{Duration: *flagDuration}))
	klog.Infof("saved animation of %d frames (%.1fs) to %q", len(batch), *flagDuration, output)
}
