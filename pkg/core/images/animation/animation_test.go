// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package animation

import (
	"bytes"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/ganutils/pkg/core/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizedBatch(n, h, w int) images.Batch {
	batch := make(images.Batch, n)
	for ii := range batch {
		a := images.NewArray(h, w, 3)
		v := -1 + 2*float32(ii)/float32(max(n-1, 1))
		for jj := range a.Data {
			a.Data[jj] = v
		}
		batch[ii] = a
	}
	return batch
}

func TestFrameIndex(t *testing.T) {
	assert.InDelta(t, 2.5, FrameRate(5, 2), 1e-9)
	assert.Equal(t, 5, NumFrames(5, 2))
	assert.Equal(t, 0, FrameIndex(5, 2, 0))
	assert.Equal(t, 2, FrameIndex(5, 2, 1))
	// Past the mapped range it falls back to the last image, never an error.
	assert.Equal(t, 4, FrameIndex(5, 2, 2))
	assert.Equal(t, 4, FrameIndex(5, 2, 100))

	for k := 0; k < NumFrames(4, 2); k++ {
		assert.Equal(t, k, FrameIndex(4, 2, float64(k)/FrameRate(4, 2)))
	}
}

func TestExportEmptyBatch(t *testing.T) {
	err := Export(nil, filepath.Join(t.TempDir(), "empty.gif"), Options{})
	assert.True(t, errors.Is(err, ErrEmptyBatch))
	err = ExportTo(&bytes.Buffer{}, images.Batch{}, Options{Duration: 1})
	assert.True(t, errors.Is(err, ErrEmptyBatch))
}

func TestExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifs", "sweep.gif")
	require.NoError(t, Export(normalizedBatch(4, 3, 5), path, Options{Duration: 2}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	anim, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, anim.Image, 4)
	assert.Equal(t, []int{50, 50, 50, 50}, anim.Delay)
	assert.Equal(t, 0, anim.LoopCount)
	assert.Equal(t, 5, anim.Image[0].Bounds().Dx())
	assert.Equal(t, 3, anim.Image[0].Bounds().Dy())

	// First frame is black (-1), last is white (1).
	r, g, b, _ := anim.Image[0].At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})
	r, g, b, _ = anim.Image[3].At(2, 1).RGBA()
	assert.Equal(t, []uint32{0xFFFF, 0xFFFF, 0xFFFF}, []uint32{r, g, b})
}

func TestExportDenormalized(t *testing.T) {
	batch := images.Batch{images.NewArray(2, 2, 1), images.NewArray(2, 2, 1)}
	for ii := range batch[1].Data {
		batch[1].Data[ii] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, ExportTo(&buf, batch, Options{Duration: 0.5, Denormalized: true}))
	anim, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, anim.Image, 2)
	assert.Equal(t, 25, anim.Delay[0])
	r, _, _, _ := anim.Image[1].At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
}

func TestMergeSequences(t *testing.T) {
	sets := []images.Batch{normalizedBatch(3, 1, 1), normalizedBatch(3, 1, 1), normalizedBatch(4, 1, 1)}
	merged, err := MergeSequences(sets, images.GridSpec{Rows: 2, Cols: 2})
	require.NoError(t, err)
	require.Len(t, merged, 6)
	assert.Equal(t, [3]int{2, 2, 3}, merged[0].Shape())
	assert.Same(t, merged[0], merged[5])
	assert.Same(t, merged[2], merged[3])
	// Position 0 of every set is -1; the unused fourth cell stays 0.
	assert.Equal(t, float32(-1), merged[0].At(0, 0, 0))
	assert.Equal(t, float32(-1), merged[0].At(1, 0, 0))
	assert.Equal(t, float32(0), merged[0].At(1, 1, 0))

	_, err = MergeSequences(nil, images.GridSpec{Rows: 1, Cols: 1})
	assert.True(t, errors.Is(err, ErrEmptyBatch))
}
