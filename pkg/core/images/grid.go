// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// GridSpec is the shape of a canvas grid, in number of images.
type GridSpec struct {
	Rows, Cols int
}

// Cells is the number of images the grid can hold.
func (g GridSpec) Cells() int { return g.Rows * g.Cols }

func (g GridSpec) String() string { return fmt.Sprintf("%dx%d", g.Rows, g.Cols) }

// Validate checks that the grid has positive dimensions and room for batchLen images.
func (g GridSpec) Validate(batchLen int) error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return errors.Errorf("invalid grid %s", g)
	}
	if g.Cells() < batchLen {
		return errors.Errorf("grid %s has only %d cells, not enough for %d images", g, g.Cells(), batchLen)
	}
	return nil
}

// SquareGrid returns the most square grid for n images: `Cols = floor(sqrt(n))` and `Rows = n / Cols`.
// If n is not a product of the two, the last images don't fit.
func SquareGrid(n int) GridSpec {
	cols := max(int(math.Sqrt(float64(n))), 1)
	return GridSpec{Rows: max(n/cols, 1), Cols: cols}
}

// RowIndexing selects how a flat batch index is mapped to the grid row.
type RowIndexing int

const (
	// RowIndexLegacy computes the row as `idx / Rows`, while the column is `idx % Cols`.
	// This matches the layout of previously generated sample sheets, and it
	// is only a proper row-major layout for square grids. When Rows > Cols some cells are
	// overwritten, and when Rows < Cols rows past the grid are dropped.
	RowIndexLegacy RowIndexing = iota

	// RowIndexByCols computes the row as `idx / Cols`: a proper row-major layout.
	RowIndexByCols
)

func (r RowIndexing) String() string {
	switch r {
	case RowIndexLegacy:
		return "Legacy"
	case RowIndexByCols:
		return "ByCols"
	}
	return fmt.Sprintf("RowIndexing(%d)", int(r))
}

// Cell returns the grid (row, col) for the image at flat index idx.
func (r RowIndexing) Cell(idx int, grid GridSpec) (row, col int) {
	col = idx % grid.Cols
	if r == RowIndexByCols {
		row = idx / grid.Cols
	} else {
		row = idx / grid.Rows
	}
	return
}

// Tile pastes the batch onto a single canvas using RowIndexLegacy. See TileWith.
func Tile(batch Batch, grid GridSpec) (*Array, error) {
	return TileWith(batch, grid, RowIndexLegacy)
}

// TileWith pastes the images of the batch onto a zero-filled canvas shaped
// `[grid.Rows*height, grid.Cols*width, 3]`.
//
// Images beyond `grid.Rows*grid.Cols` are dropped, and cells without image stay zero.
// Values are copied untouched, so the canvas stays in the domain of the batch.
func TileWith(batch Batch, grid GridSpec, indexing RowIndexing) (*Array, error) {
	if grid.Rows <= 0 || grid.Cols <= 0 {
		return nil, errors.Errorf("invalid grid %s", grid)
	}
	if err := batch.CheckUniform(); err != nil {
		return nil, errors.WithMessage(err, "Tile")
	}
	h, w := batch[0].Height, batch[0].Width
	canvas := NewArray(grid.Rows*h, grid.Cols*w, 3)
	n := min(len(batch), grid.Cells())
	rowLen := w * 3
	for idx := 0; idx < n; idx++ {
		row, col := indexing.Cell(idx, grid)
		if row >= grid.Rows {
			continue
		}
		img := Colorize(batch[idx])
		for y := 0; y < h; y++ {
			dst := canvas.offset(row*h+y, col*w, 0)
			copy(canvas.Data[dst:dst+rowLen], img.Data[y*rowLen:(y+1)*rowLen])
		}
	}
	return canvas, nil
}

// SaveGrid denormalizes a batch in [-1, 1], tiles it with the given grid and saves it to path.
// Empty cells are black.
func (c *Codec) SaveGrid(path string, batch Batch, grid GridSpec) error {
	denormalized := make(Batch, len(batch))
	for ii, a := range batch {
		var err error
		denormalized[ii], err = c.Denormalize(a)
		if err != nil {
			return errors.WithMessagef(err, "batch image #%d", ii)
		}
	}
	canvas, err := Tile(denormalized, grid)
	if err != nil {
		return err
	}
	return c.Save(path, canvas)
}

// SaveGrid using the default Codec.
func SaveGrid(path string, batch Batch, grid GridSpec) error {
	return defaultCodec.SaveGrid(path, batch, grid)
}
