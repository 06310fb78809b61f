// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weightsjs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDense(t *testing.T) {
	l, err := NewDense(0, [][]float32{{0.1, 0.2}, {0.3, 0.4}, {-0.5, 1}}, []float32{0.1, -0.004})
	require.NoError(t, err)
	l.WithBatchNorm([]float32{1, 1.5}, []float32{0, 0.25})
	want := `var layer_0 = { "layer_type": "fc", "sy": 1, "sx": 1, "out_sx": 1, "out_sy": 1, ` +
		`"stride": 1, "pad": 0, "out_depth": 2, "in_depth": 3, ` +
		`"biases": {sy: 1, sx: 1, depth: 2, w: [0.10, -0.00]}, ` +
		`"gamma": {sy: 1, sx: 1, depth: 2, w: [1.00, 1.50]}, ` +
		`"beta": {sy: 1, sx: 1, depth: 2, w: [0.00, 0.25]}, ` +
		`"filters": [{sy: 1, sx: 1, depth: 3, w: [0.10, 0.30, -0.50]}, {sy: 1, sx: 1, depth: 3, w: [0.20, 0.40, 1.00]}] };`
	assert.Equal(t, want, l.String())

	_, err = NewDense(1, [][]float32{{1, 2}, {3}}, []float32{0, 0})
	assert.Error(t, err)
	_, err = NewDense(1, [][]float32{{1, 2}}, []float32{0})
	assert.Error(t, err)
}

func TestDeconv(t *testing.T) {
	// Kernel [2, 1, 2, 3]: value encodes (y, out, in) as 100*y + 10*out + in.
	var kernel []float32
	for y := range 2 {
		for out := range 2 {
			for in := range 3 {
				kernel = append(kernel, float32(100*y+10*out+in))
			}
		}
	}
	l, err := NewDeconv(1, kernel, 2, 1, 2, 3, []float32{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 8, l.OutSize)
	require.Len(t, l.Filters, 2)
	assert.Equal(t, Volume{SY: 2, SX: 1, Depth: 3, W: []float32{10, 11, 12, 110, 111, 112}}, l.Filters[1])

	got := l.String()
	assert.True(t, strings.HasPrefix(got,
		`var layer_1 = { "layer_type": "deconv", "sy": 2, "sx": 1, "out_sx": 8, "out_sy": 8, "stride": 2, "pad": 1, "out_depth": 2, "in_depth": 3, `), got)
	// No batch normalization: empty gamma and beta.
	assert.Contains(t, got, `"gamma": {sy: 1, sx: 1, depth: 0, w: []}, "beta": {sy: 1, sx: 1, depth: 0, w: []}`)
	assert.NotContains(t, got, "  ")
	assert.NotContains(t, got, "'")

	_, err = NewDeconv(1, kernel[1:], 2, 1, 2, 3, []float32{0, 0})
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	l0, err := NewDense(0, [][]float32{{1}}, []float32{0})
	require.NoError(t, err)
	l1, err := NewDense(1, [][]float32{{2}}, []float32{0})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, l0, l1))
	assert.Equal(t, l0.String()+" "+l1.String(), buf.String())

	// Mismatched batch normalization parameters.
	l1.WithBatchNorm([]float32{1}, nil)
	assert.Error(t, Write(&buf, l1))

	path := filepath.Join(t.TempDir(), "web", "js", "layers.js")
	require.NoError(t, WriteFile(path, l0))
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, l0.String(), string(contents))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "fc", FullyConnected.String())
	assert.Equal(t, "deconv", Deconv.String())
	assert.Equal(t, 4, DeconvOutSize(0))
	assert.Equal(t, 64, DeconvOutSize(4))
}
