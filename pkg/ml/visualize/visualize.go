// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package visualize renders samples of a trained generator: contact sheets of random samples,
// and sweeps of individual latent dimensions saved as image grids or animated GIFs.
//
// The generator itself is abstracted by the Sampler interface.
package visualize

import (
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/gomlx/ganutils/pkg/core/images"
	"github.com/gomlx/ganutils/pkg/core/images/animation"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sampler generates images from latent vectors.
type Sampler interface {
	// BatchSize is the number of latent vectors taken by each call to Sample.
	BatchSize() int

	// ZDim is the dimension of the latent vectors.
	ZDim() int

	// Sample returns one image per latent vector, normalized to [-1, 1].
	Sample(z [][]float32) (images.Batch, error)
}

// Mode selects what Run renders.
type Mode int

const (
	// ModeGrid saves one contact sheet "test.png" with the samples of Config.Steps random batches.
	ModeGrid Mode = iota

	// ModeArange saves, for each of the first Config.Steps latent dimensions, a grid
	// "test_arange_<dim>.png" of the samples while that dimension sweeps [0, 1) and the others are 0.
	ModeArange

	// ModeRandomArange saves Config.Steps animations "test_gif_<dim>.gif", each sweeping a randomly
	// chosen dimension [0, 1) over a random base vector in [-0.2, 0.2].
	ModeRandomArange

	// ModeArangeGIF is like ModeArange, but saves animations "test_gif_<dim>.gif".
	ModeArangeGIF

	// ModeMergedGIF is like ModeArangeGIF, and also saves "test_gif_merged.gif" with all the sweeps
	// tiled in one animation, played forward and backwards.
	ModeMergedGIF
)

var modeNames = []string{"grid", "arange", "random_arange", "arange_gif", "merged_gif"}

// String returns the name of the mode, as accepted by ParseMode.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	for ii, modeName := range modeNames {
		if modeName == name {
			return Mode(ii), nil
		}
	}
	return 0, errors.Errorf("unknown visualization mode %q, valid values are: %s", name, strings.Join(modeNames, ", "))
}

const (
	// DefaultGridBatches is the number of batches sampled by ModeGrid if Config.Steps is not set.
	DefaultGridBatches = 484

	// DefaultSweeps is the number of latent dimensions swept by the other modes if Config.Steps is not set.
	DefaultSweeps = 100

	// MergedDuration is the duration in seconds of the merged animation.
	MergedDuration = 8.0
)

// Config of Run.
type Config struct {
	// SampleDir where the outputs are written. It is created if needed.
	SampleDir string

	// Steps is the number of batches (ModeGrid) or sweeps (other modes) rendered.
	// Sweeps of consecutive dimensions are limited to the sampler's ZDim.
	Steps int

	// Seed for the random latent vectors.
	Seed uint64

	// Codec used to save images. If nil, a default one is used.
	Codec *images.Codec
}

type runner struct {
	sampler Sampler
	cfg     Config
	rng     *rand.Rand
	codec   *images.Codec
	written []string
}

// Run renders the samples selected by mode into cfg.SampleDir, and returns the paths written.
func Run(sampler Sampler, mode Mode, cfg Config) ([]string, error) {
	if sampler.BatchSize() <= 0 || sampler.ZDim() <= 0 {
		return nil, errors.Errorf("invalid sampler with batch size %d and z dimension %d", sampler.BatchSize(), sampler.ZDim())
	}
	sampleDir, err := fsutil.ReplaceTildeInDir(cfg.SampleDir)
	if err != nil {
		return nil, err
	}
	if err = fsutil.EnsureDir(sampleDir); err != nil {
		return nil, err
	}
	cfg.SampleDir = sampleDir
	r := &runner{
		sampler: sampler,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		codec:   cfg.Codec,
	}
	if r.codec == nil {
		r.codec = images.NewCodec()
	}
	switch mode {
	case ModeGrid:
		err = r.grid()
	case ModeArange:
		err = r.sweeps(r.consecutiveDims(), sweepOptions{})
	case ModeRandomArange:
		err = r.sweeps(r.randomDims(), sweepOptions{randomBase: true, asGIF: true})
	case ModeArangeGIF:
		err = r.sweeps(r.consecutiveDims(), sweepOptions{asGIF: true})
	case ModeMergedGIF:
		err = r.sweeps(r.consecutiveDims(), sweepOptions{asGIF: true, merged: true})
	default:
		err = errors.Errorf("unknown visualization mode %s", mode)
	}
	if err != nil {
		return r.written, errors.WithMessagef(err, "visualization %s", mode)
	}
	return r.written, nil
}

func (r *runner) steps(defaultSteps int) int {
	if r.cfg.Steps > 0 {
		return r.cfg.Steps
	}
	return defaultSteps
}

func (r *runner) path(name string) string {
	return filepath.Join(r.cfg.SampleDir, name)
}

// grid samples batches of uniform random latent vectors in [-1, 1] and saves them in one sheet.
func (r *runner) grid() error {
	numBatches := r.steps(DefaultGridBatches)
	var all images.Batch
	for step := range numBatches {
		klog.V(1).Infof("sampling batch %d of %d", step+1, numBatches)
		z := r.zeros()
		for _, row := range z {
			for ii := range row {
				row[ii] = 2*r.rng.Float32() - 1
			}
		}
		samples, err := r.sample(z)
		if err != nil {
			return err
		}
		all = append(all, samples...)
	}
	path := r.path("test.png")
	if err := r.codec.SaveGrid(path, all, images.SquareGrid(len(all))); err != nil {
		return err
	}
	r.written = append(r.written, path)
	return nil
}

func (r *runner) consecutiveDims() []int {
	dims := make([]int, min(r.steps(DefaultSweeps), r.sampler.ZDim()))
	for ii := range dims {
		dims[ii] = ii
	}
	return dims
}

func (r *runner) randomDims() []int {
	dims := make([]int, r.steps(DefaultSweeps))
	for ii := range dims {
		dims[ii] = r.rng.IntN(r.sampler.ZDim())
	}
	return dims
}

func (r *runner) zeros() [][]float32 {
	z := make([][]float32, r.sampler.BatchSize())
	for ii := range z {
		z[ii] = make([]float32, r.sampler.ZDim())
	}
	return z
}

// SweepValues returns batchSize values evenly spaced in [0, 1): k/batchSize.
func SweepValues(batchSize int) []float32 {
	values := make([]float32, batchSize)
	for k := range values {
		values[k] = float32(k) / float32(batchSize)
	}
	return values
}

// sweepLatents returns the latent vectors sweeping dim over SweepValues, on a zero base or, if
// randomBase, on a random base vector in [-0.2, 0.2] shared by the whole batch.
func (r *runner) sweepLatents(dim int, randomBase bool) [][]float32 {
	z := r.zeros()
	if randomBase {
		base := make([]float32, r.sampler.ZDim())
		for ii := range base {
			base[ii] = 0.4*r.rng.Float32() - 0.2
		}
		for _, row := range z {
			copy(row, base)
		}
	}
	for k, v := range SweepValues(len(z)) {
		z[k][dim] = v
	}
	return z
}

func (r *runner) sample(z [][]float32) (images.Batch, error) {
	samples, err := r.sampler.Sample(z)
	if err != nil {
		return nil, errors.WithMessage(err, "sampler failed")
	}
	if len(samples) != len(z) {
		return nil, errors.Errorf("sampler returned %d images for %d latent vectors", len(samples), len(z))
	}
	return samples, nil
}

type sweepOptions struct {
	randomBase, asGIF, merged bool
}

// sweeps renders one output per dimension in dims, an image grid or a GIF.
// If merged, it also saves the tiled animation of all sweeps.
func (r *runner) sweeps(dims []int, opts sweepOptions) error {
	var sets []images.Batch
	for _, dim := range dims {
		klog.V(1).Infof(" [*] %d", dim)
		samples, err := r.sample(r.sweepLatents(dim, opts.randomBase))
		if err != nil {
			return err
		}
		var path string
		if opts.asGIF {
			path = r.path(fmt.Sprintf("test_gif_%d.gif", dim))
			err = animation.Export(samples, path, animation.Options{})
		} else {
			path = r.path(fmt.Sprintf("test_arange_%d.png", dim))
			err = r.codec.SaveGrid(path, samples, images.SquareGrid(len(samples)))
		}
		if err != nil {
			return errors.WithMessagef(err, "sweeping dimension %d", dim)
		}
		r.written = append(r.written, path)
		if opts.merged {
			sets = append(sets, samples)
		}
	}
	if !opts.merged {
		return nil
	}
	sequence, err := animation.MergeSequences(sets, MergedGrid(len(sets)))
	if err != nil {
		return err
	}
	path := r.path("test_gif_merged.gif")
	if err = animation.Export(sequence, path, animation.Options{Duration: MergedDuration}); err != nil {
		return err
	}
	r.written = append(r.written, path)
	return nil
}

// MergedGrid is the square grid large enough to hold n sweeps in the merged animation.
func MergedGrid(n int) images.GridSpec {
	side := max(int(math.Ceil(math.Sqrt(float64(n)))), 1)
	return images.GridSpec{Rows: side, Cols: side}
}
