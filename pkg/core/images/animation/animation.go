// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package animation exports a sequence of images (e.g.: generator samples while one latent
// dimension is swept) as a looping animated GIF.
package animation

import (
	"bufio"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"os"

	"github.com/gomlx/ganutils/pkg/core/images"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrEmptyBatch is returned when asked to export an animation with no images.
var ErrEmptyBatch = errors.New("cannot export animation of an empty batch")

// DefaultDuration of the animation, in seconds.
const DefaultDuration = 2.0

// Options configure Export.
type Options struct {
	// Duration of one loop of the animation in seconds. If <= 0, DefaultDuration is used.
	Duration float64

	// Denormalized indicates the images are already in the pixel domain [0, 255].
	// Otherwise they are taken to be normalized in [-1, 1].
	Denormalized bool
}

func (o Options) duration() float64 {
	if o.Duration <= 0 {
		return DefaultDuration
	}
	return o.Duration
}

// FrameRate for n images shown over duration seconds.
func FrameRate(n int, duration float64) float64 {
	return float64(n) / duration
}

// NumFrames is the number of frames rendered for n images over duration seconds.
func NumFrames(n int, duration float64) int {
	return int(math.Ceil(FrameRate(n, duration)*duration - 1e-9)) // Tolerance for rate*duration rounding above n.
}

// FrameIndex returns the index of the image shown at time t (in seconds), for a sequence of n images
// shown over duration seconds.
//
// Indices past the end of the sequence (rounding at the last frame, or t beyond duration) select
// the last image.
func FrameIndex(n int, duration, t float64) int {
	idx := int(math.Floor(float64(n) / duration * t))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Export writes batch as a looping GIF to path. The parent directory is created if needed.
//
// A failed write may leave a partial file behind.
func Export(batch images.Batch, path string, opts Options) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create animation file %q", path)
	}
	w := bufio.NewWriter(f)
	err = ExportTo(w, batch, opts)
	if err == nil {
		err = errors.Wrapf(w.Flush(), "failed to write animation to %q", path)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close animation file %q", path)
	}
	if err != nil {
		return err
	}
	klog.V(1).Infof("saved animation with %d frames to %q", NumFrames(len(batch), opts.duration()), path)
	return nil
}

// ExportTo is like Export, but writes the GIF to w.
func ExportTo(w io.Writer, batch images.Batch, opts Options) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	if err := batch.CheckUniform(); err != nil {
		return errors.WithMessage(err, "animation")
	}
	n := len(batch)
	duration := opts.duration()
	rate := FrameRate(n, duration)
	numFrames := NumFrames(n, duration)
	delay := max(int(math.Round(100/rate)), 1) // In 1/100s of a second.

	anim := &gif.GIF{LoopCount: 0}
	cache := make(map[int]*image.Paletted, n)
	for frame := 0; frame < numFrames; frame++ {
		idx := FrameIndex(n, duration, float64(frame)/rate)
		paletted, found := cache[idx]
		if !found {
			paletted = toPaletted(batch[idx], opts.Denormalized)
			cache[idx] = paletted
		}
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	if err := gif.EncodeAll(w, anim); err != nil {
		return errors.Wrap(err, "failed to encode animated GIF")
	}
	return nil
}

// toPaletted converts the image to 8 bits per channel, truncating fractional values,
// and quantizes it to the web-safe palette.
func toPaletted(a *images.Array, denormalized bool) *image.Paletted {
	to8 := func(v float32) float32 {
		if !denormalized {
			v = (v + 1) / 2 * 255
		}
		return float32(math.Floor(float64(v)))
	}
	img := images.ToImage(images.Colorize(a).Map(to8), 255)
	paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})
	return paletted
}

// MergeSequences tiles the i-th image of every batch in sets onto one canvas (with images.Tile),
// for each position i. The resulting sequence goes forward and then backwards, so it loops smoothly.
//
// The sequence length is given by the shortest batch in sets.
func MergeSequences(sets []images.Batch, grid images.GridSpec) (images.Batch, error) {
	if len(sets) == 0 {
		return nil, ErrEmptyBatch
	}
	length := len(sets[0])
	for _, set := range sets[1:] {
		length = min(length, len(set))
	}
	if length == 0 {
		return nil, ErrEmptyBatch
	}
	forward := make(images.Batch, length)
	for idx := range forward {
		column := make(images.Batch, len(sets))
		for setIdx, set := range sets {
			column[setIdx] = set[idx]
		}
		var err error
		forward[idx], err = images.Tile(column, grid)
		if err != nil {
			return nil, errors.WithMessagef(err, "merging images at position %d", idx)
		}
	}
	merged := make(images.Batch, 0, 2*length)
	merged = append(merged, forward...)
	for idx := length - 1; idx >= 0; idx-- {
		merged = append(merged, forward[idx])
	}
	return merged, nil
}
