// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images loads, normalizes, tiles and saves images as plain float32 arrays,
// the format exchanged with the generative model.
//
// Arrays are shaped `[height, width, channels]` with channels-last layout. Values are either in
// the raw pixel domain [0, 255] (as returned by Load) or in the normalized domain [-1, 1] (after Normalize).
package images

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Array holds one image as a dense float32 array shaped `[Height, Width, Channels]`.
type Array struct {
	Height, Width, Channels int
	Data                    []float32
}

// Batch is an ordered sequence of same-shaped arrays. The position in the batch is the generation order.
type Batch []*Array

// NewArray returns a zero-filled Array.
func NewArray(height, width, channels int) *Array {
	return &Array{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

// Shape returns `[height, width, channels]`.
func (a *Array) Shape() [3]int {
	return [3]int{a.Height, a.Width, a.Channels}
}

// SameShape returns whether both arrays have the same dimensions.
func (a *Array) SameShape(other *Array) bool {
	return a.Shape() == other.Shape()
}

// Size is the number of values in the array.
func (a *Array) Size() int {
	return a.Height * a.Width * a.Channels
}

func (a *Array) offset(y, x, c int) int {
	return (y*a.Width+x)*a.Channels + c
}

// At returns the value at row y, column x and channel c.
func (a *Array) At(y, x, c int) float32 {
	return a.Data[a.offset(y, x, c)]
}

// Set the value at row y, column x and channel c.
func (a *Array) Set(y, x, c int, v float32) {
	a.Data[a.offset(y, x, c)] = v
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	b := NewArray(a.Height, a.Width, a.Channels)
	copy(b.Data, a.Data)
	return b
}

// Map returns a new array with fn applied to every value.
func (a *Array) Map(fn func(v float32) float32) *Array {
	b := NewArray(a.Height, a.Width, a.Channels)
	for ii, v := range a.Data {
		b.Data[ii] = fn(v)
	}
	return b
}

// validate checks the array is consistent.
func (a *Array) validate() error {
	if a == nil {
		return errors.New("nil image array")
	}
	if a.Height <= 0 || a.Width <= 0 {
		return errors.Errorf("invalid image array dimensions %dx%d", a.Height, a.Width)
	}
	switch a.Channels {
	case 1, 3, 4:
	default:
		return errors.Errorf("image array with %d channels, only 1, 3 or 4 are supported", a.Channels)
	}
	if len(a.Data) != a.Size() {
		return errors.Errorf("image array shaped %v should hold %d values, got %d", a.Shape(), a.Size(), len(a.Data))
	}
	return nil
}

// CheckUniform returns an error if the batch is empty, or if its arrays don't all share the same shape.
func (b Batch) CheckUniform() error {
	if len(b) == 0 {
		return errors.New("empty batch of images")
	}
	for ii, a := range b {
		if err := a.validate(); err != nil {
			return errors.WithMessagef(err, "batch image #%d", ii)
		}
		if !a.SameShape(b[0]) {
			return errors.Errorf("batch image #%d is shaped %v, but image #0 is shaped %v -- they must all be the same",
				ii, a.Shape(), b[0].Shape())
		}
	}
	return nil
}

// Colorize converts an array to 3 channels: grayscale arrays are replicated over the RGB channels
// and the alpha channel of 4-channel arrays is dropped. 3-channel arrays are returned as is.
func Colorize(a *Array) *Array {
	switch a.Channels {
	case 3:
		return a
	case 1:
		rgb := NewArray(a.Height, a.Width, 3)
		for ii, v := range a.Data {
			rgb.Data[3*ii] = v
			rgb.Data[3*ii+1] = v
			rgb.Data[3*ii+2] = v
		}
		return rgb
	default:
		rgb := NewArray(a.Height, a.Width, 3)
		numPixels := a.Height * a.Width
		for ii := 0; ii < numPixels; ii++ {
			copy(rgb.Data[3*ii:3*ii+3], a.Data[a.Channels*ii:a.Channels*ii+3])
		}
		return rgb
	}
}

// channelsOf picks the number of channels needed to represent img without loss.
func channelsOf(img image.Image) int {
	switch typed := img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.NRGBA, *image.RGBA, *image.NRGBA64, *image.RGBA64:
		if o, ok := typed.(interface{ Opaque() bool }); ok && !o.Opaque() {
			return 4
		}
		return 3
	case *image.Paletted:
		if !typed.Opaque() {
			return 4
		}
		return 3
	}
	return 3
}

// FromImage converts img to an Array in the raw pixel domain [0, 255].
//
// Grayscale images yield 1 channel, images with transparency yield 4 channels (non-premultiplied alpha),
// everything else yields 3 channels.
func FromImage(img image.Image) *Array {
	return fromImageWithChannels(img, channelsOf(img))
}

func fromImageWithChannels(img image.Image, channels int) *Array {
	bounds := img.Bounds()
	size := bounds.Size()
	a := NewArray(size.Y, size.X, channels)
	pos := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			if channels == 1 {
				gray := color.GrayModel.Convert(c).(color.Gray)
				a.Data[pos] = float32(gray.Y)
				pos++
				continue
			}
			nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
			a.Data[pos] = float32(nrgba.R)
			a.Data[pos+1] = float32(nrgba.G)
			a.Data[pos+2] = float32(nrgba.B)
			if channels == 4 {
				a.Data[pos+3] = float32(nrgba.A)
			}
			pos += channels
		}
	}
	return a
}

// ToImage converts the Array to an `*image.NRGBA`, mapping values in [0, maxValue] to [0, 255].
// Values outside the range are clamped. Arrays without alpha channel are fully opaque.
func ToImage(a *Array, maxValue float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, a.Width, a.Height))
	scale := 255.0 / maxValue
	to8 := func(v float32) uint8 {
		f := math.Round(float64(v) * scale)
		if math.IsNaN(f) {
			return 0
		}
		return uint8(clamp(f, 0, 255))
	}
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			pix := img.Pix[y*img.Stride+x*4 : y*img.Stride+x*4+4]
			src := a.Data[a.offset(y, x, 0) : a.offset(y, x, 0)+a.Channels]
			switch a.Channels {
			case 1:
				g := to8(src[0])
				pix[0], pix[1], pix[2] = g, g, g
			default:
				pix[0], pix[1], pix[2] = to8(src[0]), to8(src[1]), to8(src[2])
			}
			if a.Channels == 4 {
				pix[3] = to8(src[3])
			} else {
				pix[3] = 255
			}
		}
	}
	return img
}

func clamp[T constraints.Float | constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
