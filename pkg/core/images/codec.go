// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DecodeError is returned when an image file can't be read into an Array.
type DecodeError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("image %q decoded to a dimensionless array", e.Path)
	}
	return fmt.Sprintf("failed to decode image %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decoding error, if any.
func (e *DecodeError) Unwrap() error { return e.Err }

// ErrOverflow is returned (wrapped) when OverflowError is configured and values fall outside their domain.
var ErrOverflow = errors.New("image values out of range")

// OverflowPolicy defines what a Codec does when values fall outside of the expected domain,
// e.g. a generator output beyond [-1, 1].
type OverflowPolicy int

const (
	// OverflowWarn logs a warning, and values are clamped when converted to pixels.
	OverflowWarn OverflowPolicy = iota

	// OverflowIgnore silently clamps.
	OverflowIgnore

	// OverflowError fails the operation with ErrOverflow.
	OverflowError
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowWarn:
		return "Warn"
	case OverflowIgnore:
		return "Ignore"
	case OverflowError:
		return "Error"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// Codec holds the configuration used to load, crop, normalize and save images.
// Create it with NewCodec and configure it with the cascaded With* methods.
//
// A Codec is not modified by its operations, so it can be shared among goroutines once configured.
type Codec struct {
	overflow    OverflowPolicy
	filter      imaging.ResampleFilter
	jpegQuality int
}

// NewCodec returns a Codec with the default configuration: overflow warnings, Lanczos resampling
// and JPEG quality 95.
func NewCodec() *Codec {
	return &Codec{
		overflow:    OverflowWarn,
		filter:      imaging.Lanczos,
		jpegQuality: 95,
	}
}

var defaultCodec = NewCodec()

// WithOverflow sets the policy for values out of range.
//
// It returns the Codec, so configuration calls can be cascaded.
func (c *Codec) WithOverflow(policy OverflowPolicy) *Codec {
	c.overflow = policy
	return c
}

// WithFilter sets the resampling filter used by CropAndResize. Default is imaging.Lanczos.
//
// It returns the Codec, so configuration calls can be cascaded.
func (c *Codec) WithFilter(filter imaging.ResampleFilter) *Codec {
	c.filter = filter
	return c
}

// WithJPEGQuality sets the quality (1 to 100) used when saving to ".jpg" files.
//
// It returns the Codec, so configuration calls can be cascaded.
func (c *Codec) WithJPEGQuality(quality int) *Codec {
	c.jpegQuality = quality
	return c
}

// Load reads the image file into an Array with raw pixel values in [0, 255].
//
// Any failure to decode, or an image with no pixels, is reported as a *DecodeError.
func Load(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Path: path}
	}
	return FromImage(img), nil
}

// CropAndResize takes the largest centered square of the image and resizes it to `targetSize x targetSize`.
//
// The crop is always square: the window side is the minimum of the height and width.
func (c *Codec) CropAndResize(a *Array, targetSize int) (*Array, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if targetSize <= 0 {
		return nil, errors.Errorf("invalid target size %d for CropAndResize", targetSize)
	}
	side := min(a.Height, a.Width)
	top := int(math.Round(float64(a.Height-side) / 2))
	left := int(math.Round(float64(a.Width-side) / 2))
	cropped := NewArray(side, side, a.Channels)
	rowLen := side * a.Channels
	for y := 0; y < side; y++ {
		src := a.offset(top+y, left, 0)
		copy(cropped.Data[y*rowLen:(y+1)*rowLen], a.Data[src:src+rowLen])
	}
	if side == targetSize {
		return cropped, nil
	}
	resized := imaging.Resize(ToImage(cropped, 255), targetSize, targetSize, c.filter)
	return fromImageWithChannels(resized, a.Channels), nil
}

// CropAndResize using the default Codec.
func CropAndResize(a *Array, targetSize int) (*Array, error) {
	return defaultCodec.CropAndResize(a, targetSize)
}

// LoadImage loads the image in path, center-crops and resizes it to `targetSize x targetSize`
// and normalizes it to [-1, 1].
func (c *Codec) LoadImage(path string, targetSize int) (*Array, error) {
	a, err := Load(path)
	if err != nil {
		return nil, err
	}
	a, err = c.CropAndResize(a, targetSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "while cropping %q", path)
	}
	return c.Normalize(a)
}

// Normalize maps the pixel domain [0, 255] to [-1, 1] with `x/127.5 - 1`.
func Normalize(a *Array) *Array {
	return a.Map(func(v float32) float32 { return v/127.5 - 1 })
}

// Denormalize maps [-1, 1] back to [0, 1] with `(x+1)/2`. Multiply by 255 to get back to the pixel domain.
func Denormalize(a *Array) *Array {
	return a.Map(func(v float32) float32 { return (v + 1) / 2 })
}

// Normalize is like the package Normalize, but applies the overflow policy to inputs outside [0, 255].
func (c *Codec) Normalize(a *Array) (*Array, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := c.checkRange("Normalize", a, 0, 255); err != nil {
		return nil, err
	}
	return Normalize(a), nil
}

// Denormalize is like the package Denormalize, but applies the overflow policy to inputs outside [-1, 1].
func (c *Codec) Denormalize(a *Array) (*Array, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := c.checkRange("Denormalize", a, -1, 1); err != nil {
		return nil, err
	}
	return Denormalize(a), nil
}

// checkRange counts values outside [lo, hi] (NaNs included) and applies the overflow policy.
func (c *Codec) checkRange(op string, a *Array, lo, hi float32) error {
	if c.overflow == OverflowIgnore {
		return nil
	}
	var count int
	for _, v := range a.Data {
		if !(v >= lo && v <= hi) {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	if c.overflow == OverflowError {
		return errors.Wrapf(ErrOverflow, "%s: %d of %d values outside [%g, %g]", op, count, len(a.Data), lo, hi)
	}
	klog.Warningf("%s: %d of %d values outside [%g, %g], they will be clamped", op, count, len(a.Data), lo, hi)
	return nil
}

// Save writes the array, with values in [0, 1], to path. The format is taken from the file extension
// (".png", ".jpg", ".gif", ".bmp", ".tif").
//
// The parent directory is created if missing, and 1-channel arrays are written as 3-channel images.
func (c *Codec) Save(path string, a *Array) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := c.checkRange("Save", a, 0, 1); err != nil {
		return err
	}
	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}
	if a.Channels == 1 {
		a = Colorize(a)
	}
	img := ToImage(a, 1.0)
	if err := imaging.Save(img, path, imaging.JPEGQuality(c.jpegQuality)); err != nil {
		return errors.Wrapf(err, "failed to save image to %q", path)
	}
	return nil
}

// Save using the default Codec.
func Save(path string, a *Array) error {
	return defaultCodec.Save(path, a)
}

// SaveBatch saves each image of the batch with Save. pathFormat is a fmt format with one integer
// verb for the image index, e.g. "samples/test_%04d.png".
//
// It returns the paths written, and stops at the first failure.
func (c *Codec) SaveBatch(pathFormat string, batch Batch) ([]string, error) {
	paths := make([]string, 0, len(batch))
	for idx, a := range batch {
		path := fmt.Sprintf(pathFormat, idx)
		if err := c.Save(path, a); err != nil {
			return paths, errors.WithMessagef(err, "saving image #%d of the batch", idx)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SaveBatch using the default Codec.
func SaveBatch(pathFormat string, batch Batch) ([]string, error) {
	return defaultCodec.SaveBatch(pathFormat, batch)
}
