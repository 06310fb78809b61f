// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package weightsjs exports the weights of a generator's layers as JavaScript variable
// declarations, one `var layer_<index> = {...};` per layer, in the volume format read by the
// browser weights visualizer.
//
// Numbers are written with 2 decimal places, and the output is a single line with tokens
// separated by single spaces.
package weightsjs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind of layer.
type Kind int

const (
	// FullyConnected (linear) layer, exported with "layer_type": "fc".
	FullyConnected Kind = iota

	// Deconv is a transposed convolution, exported with "layer_type": "deconv".
	Deconv
)

// String returns the "layer_type" of the kind.
func (k Kind) String() string {
	switch k {
	case FullyConnected:
		return "fc"
	case Deconv:
		return "deconv"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Volume is a `sy x sx x depth` block of values, flattened in row-major order.
type Volume struct {
	SY, SX, Depth int
	W             []float32
}

// vector returns a 1x1 volume holding values.
func vector(values []float32) Volume {
	return Volume{SY: 1, SX: 1, Depth: len(values), W: values}
}

// Layer holds the parameters of one layer to export.
type Layer struct {
	Index    int
	Kind     Kind
	SY, SX   int // Filter size.
	OutSize  int // Output spatial size (out_sx and out_sy).
	Stride   int
	Pad      int
	InDepth  int
	OutDepth int

	Filters []Volume
	Biases  []float32

	// Gamma and Beta of the batch normalization following the layer, if any.
	Gamma, Beta []float32
}

// NewDense creates a FullyConnected layer from its weights, shaped `[inDepth][outDepth]`, and
// biases (outDepth values). Each output unit becomes one filter of inDepth values.
func NewDense(index int, weights [][]float32, biases []float32) (*Layer, error) {
	if len(weights) == 0 || len(weights[0]) == 0 {
		return nil, errors.Errorf("dense layer %d has no weights", index)
	}
	inDepth, outDepth := len(weights), len(weights[0])
	for ii, row := range weights {
		if len(row) != outDepth {
			return nil, errors.Errorf("dense layer %d: weights row %d has %d values, wanted %d", index, ii, len(row), outDepth)
		}
	}
	if len(biases) != outDepth {
		return nil, errors.Errorf("dense layer %d: got %d biases for %d outputs", index, len(biases), outDepth)
	}
	l := &Layer{
		Index: index, Kind: FullyConnected,
		SY: 1, SX: 1, OutSize: 1, Stride: 1, Pad: 0,
		InDepth: inDepth, OutDepth: outDepth,
		Biases: biases,
	}
	l.Filters = make([]Volume, outDepth)
	for out := range l.Filters {
		column := make([]float32, inDepth)
		for in := range column {
			column[in] = weights[in][out]
		}
		l.Filters[out] = vector(column)
	}
	return l, nil
}

// DeconvOutSize is the output size of the generator's deconvolution layer index: 2^(index+2).
func DeconvOutSize(index int) int {
	return 1 << (index + 2)
}

// NewDeconv creates a Deconv layer from its kernel, a flat row-major array shaped
// `[kernelHeight, kernelWidth, outDepth, inDepth]`, and biases (outDepth values).
//
// Each output channel becomes one `kernelHeight x kernelWidth x inDepth` filter. The layer uses
// stride 2, padding 1 and output size DeconvOutSize(index).
func NewDeconv(index int, kernel []float32, kernelHeight, kernelWidth, outDepth, inDepth int, biases []float32) (*Layer, error) {
	if want := kernelHeight * kernelWidth * outDepth * inDepth; want == 0 || len(kernel) != want {
		return nil, errors.Errorf("deconv layer %d: kernel has %d values, shape [%d, %d, %d, %d] requires %d",
			index, len(kernel), kernelHeight, kernelWidth, outDepth, inDepth, want)
	}
	if len(biases) != outDepth {
		return nil, errors.Errorf("deconv layer %d: got %d biases for %d outputs", index, len(biases), outDepth)
	}
	l := &Layer{
		Index: index, Kind: Deconv,
		SY: kernelHeight, SX: kernelWidth, OutSize: DeconvOutSize(index), Stride: 2, Pad: 1,
		InDepth: inDepth, OutDepth: outDepth,
		Biases: biases,
	}
	l.Filters = make([]Volume, outDepth)
	for out := range l.Filters {
		w := make([]float32, 0, kernelHeight*kernelWidth*inDepth)
		for y := range kernelHeight {
			for x := range kernelWidth {
				start := ((y*kernelWidth+x)*outDepth + out) * inDepth
				w = append(w, kernel[start:start+inDepth]...)
			}
		}
		l.Filters[out] = Volume{SY: kernelHeight, SX: kernelWidth, Depth: inDepth, W: w}
	}
	return l, nil
}

// WithBatchNorm sets the batch normalization parameters, with OutDepth values each.
//
// It returns the Layer, so configuration calls can be cascaded.
func (l *Layer) WithBatchNorm(gamma, beta []float32) *Layer {
	l.Gamma, l.Beta = gamma, beta
	return l
}

func (l *Layer) validate() error {
	if len(l.Gamma) != len(l.Beta) {
		return errors.Errorf("layer %d: got %d gamma values and %d beta values", l.Index, len(l.Gamma), len(l.Beta))
	}
	if len(l.Gamma) != 0 && len(l.Gamma) != l.OutDepth {
		return errors.Errorf("layer %d: got %d batch normalization values for depth %d", l.Index, len(l.Gamma), l.OutDepth)
	}
	return nil
}

func writeVolume(sb *strings.Builder, v Volume) {
	fmt.Fprintf(sb, "{sy: %d, sx: %d, depth: %d, w: [", v.SY, v.SX, v.Depth)
	for ii, x := range v.W {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', 2, 32))
	}
	sb.WriteString("]}")
}

// batchNormVolume returns the volume for gamma or beta: without batch normalization it is empty,
// with depth 0.
func (l *Layer) batchNormVolume(values []float32) Volume {
	if len(values) == 0 {
		return Volume{SY: 1, SX: 1}
	}
	return Volume{SY: 1, SX: 1, Depth: l.OutDepth, W: values}
}

// String returns the JavaScript declaration of the layer.
func (l *Layer) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `var layer_%d = { "layer_type": "%s", "sy": %d, "sx": %d, "out_sx": %d, "out_sy": %d, `,
		l.Index, l.Kind, l.SY, l.SX, l.OutSize, l.OutSize)
	fmt.Fprintf(&sb, `"stride": %d, "pad": %d, "out_depth": %d, "in_depth": %d, "biases": `,
		l.Stride, l.Pad, l.OutDepth, l.InDepth)
	writeVolume(&sb, Volume{SY: 1, SX: 1, Depth: l.OutDepth, W: l.Biases})
	sb.WriteString(`, "gamma": `)
	writeVolume(&sb, l.batchNormVolume(l.Gamma))
	sb.WriteString(`, "beta": `)
	writeVolume(&sb, l.batchNormVolume(l.Beta))
	sb.WriteString(`, "filters": [`)
	for ii, f := range l.Filters {
		if ii > 0 {
			sb.WriteString(", ")
		}
		writeVolume(&sb, f)
	}
	sb.WriteString("] };")
	return sb.String()
}

// Write the declarations of the layers to w, separated by single spaces.
func Write(w io.Writer, layers ...*Layer) error {
	for ii, l := range layers {
		if err := l.validate(); err != nil {
			return err
		}
		if ii > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return errors.Wrap(err, "failed to write layers")
			}
		}
		if _, err := io.WriteString(w, l.String()); err != nil {
			return errors.Wrapf(err, "failed to write layer %d", l.Index)
		}
	}
	return nil
}

// WriteFile writes the layers to path, creating its directory if needed.
func WriteFile(path string, layers ...*Layer) error {
	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	counter := &countingWriter{w: f}
	buf := bufio.NewWriter(counter)
	err = Write(buf, layers...)
	if err == nil {
		err = errors.Wrapf(buf.Flush(), "failed to write %q", path)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close %q", path)
	}
	if err != nil {
		return err
	}
	klog.V(1).Infof("wrote %d layers (%s) to %q", len(layers), humanize.Bytes(uint64(counter.n)), path)
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
