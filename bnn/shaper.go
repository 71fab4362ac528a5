package bnn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
)

// Shaper is the authoritative name → shape map of one conversion. All shapes
// it holds are in the target (NHWC) layout. It is append-only: every lowerer
// registers the shape of each tensor it introduces before emitting the layer
// record.
type Shaper struct {
	shapes map[string]Shape
}

func newShaper() *Shaper {
	return &Shaper{shapes: make(map[string]Shape)}
}

// Add records a shape. Registering the same name twice or a non-positive
// dimension is a fatal error.
func (s *Shaper) Add(name string, shape Shape) {
	if _, found := s.shapes[name]; found {
		exceptions.Panicf("shape for %q registered twice", name)
	}
	for _, dim := range shape {
		if dim <= 0 {
			exceptions.Panicf("shape %s for %q has a non-positive dimension", shape, name)
		}
	}
	s.shapes[name] = shape
}

// Get returns the shape registered for name or raises a fatal error.
func (s *Shaper) Get(name string) Shape {
	shape, found := s.shapes[name]
	if !found {
		exceptions.Panicf("shape for %q not found", name)
	}
	return shape
}

// Has reports whether a shape is registered for name.
func (s *Shaper) Has(name string) bool {
	_, found := s.shapes[name]
	return found
}

// Conv infers and registers the output shape of a convolution. strides and
// dilations are (H, W); pads are the source-format (top, left, bottom,
// right). The weight must already be registered in NHWC, so the output
// channel count is weight dimension 0.
func (s *Shaper) Conv(input string, strides, dilations, pads []int, weight, output string) {
	in := s.Get(input)
	wt := s.Get(weight)
	if len(in) != 4 || len(wt) != 4 {
		exceptions.Panicf("convolution %q needs 4-D input and weight, got %s and %s", output, in, wt)
	}
	if in[3] != wt[3] {
		exceptions.Panicf("convolution %q: input has %d channels but weight %q expects %d",
			output, in[3], weight, wt[3])
	}
	outH := convDim(in[1], wt[1], strides[0], dilations[0], pads[0]+pads[2], output)
	outW := convDim(in[2], wt[2], strides[1], dilations[1], pads[1]+pads[3], output)
	s.Add(output, Shape{in[0], outH, outW, wt[0]})
}

func convDim(size, kernel, stride, dilation, padSum int, output string) int {
	effective := (kernel-1)*dilation + 1
	out := (size+padSum-effective)/stride + 1
	if out <= 0 {
		exceptions.Panicf("output %q has non-positive spatial dimension %d", output, out)
	}
	return out
}

// Pool infers and registers a pooling output shape. A kernel of (-1, -1)
// selects the global form, collapsing H and W to 1.
func (s *Shaper) Pool(input string, strides, pads, kernel []int, output string) {
	in := s.Get(input)
	if len(in) != 4 {
		exceptions.Panicf("pooling %q needs a 4-D input, got %s", output, in)
	}
	if kernel[0] == -1 && kernel[1] == -1 {
		s.Add(output, Shape{in[0], 1, 1, in[3]})
		return
	}
	outH := poolDim(in[1], kernel[0], strides[0], pads[0]+pads[2], output)
	outW := poolDim(in[2], kernel[1], strides[1], pads[1]+pads[3], output)
	s.Add(output, Shape{in[0], outH, outW, in[3]})
}

func poolDim(size, kernel, stride, padSum int, output string) int {
	out := (size+padSum-kernel)/stride + 1
	if out <= 0 {
		exceptions.Panicf("output %q has non-positive spatial dimension %d", output, out)
	}
	return out
}

// Relu registers a pass-through shape.
func (s *Shaper) Relu(input, output string) {
	s.Add(output, s.Get(input))
}

// Eltwise requires equal operand shapes and registers the shared shape.
func (s *Shaper) Eltwise(a, b, output string) {
	shapeA := s.Get(a)
	shapeB := s.Get(b)
	if !shapeA.Equal(shapeB) {
		exceptions.Panicf("element-wise operands %q %s and %q %s differ in shape", a, shapeA, b, shapeB)
	}
	s.Add(output, shapeA)
}

// FC registers a fully-connected output shape (batch, units) where units is
// the weight's leading dimension.
func (s *Shaper) FC(input, weight, output string) {
	in := s.Get(input)
	wt := s.Get(weight)
	if len(wt) != 2 {
		exceptions.Panicf("fully-connected weight %q must be 2-D, got %s", weight, wt)
	}
	features := Shape(in[1:]).Size()
	if features != wt[1] {
		exceptions.Panicf("fully-connected %q: input provides %d features but weight %q expects %d",
			output, features, weight, wt[1])
	}
	s.Add(output, Shape{in[0], wt[0]})
}

// Softmax registers a pass-through shape.
func (s *Shaper) Softmax(input, output string) {
	s.Add(output, s.Get(input))
}

// nchwToNHWCAxis translates a concat axis from source to target convention.
var nchwToNHWCAxis = [4]int{0, 3, 1, 2}

// Concat registers the concatenation of inputs along an axis given in the
// source (NCHW) convention; the translation to the target layout happens
// here.
func (s *Shaper) Concat(inputs []string, axis int, output string) {
	if axis < 0 || axis > 3 {
		exceptions.Panicf("concat %q has unsupported axis %d", output, axis)
	}
	if len(inputs) == 0 {
		exceptions.Panicf("concat %q has no inputs", output)
	}
	targetAxis := nchwToNHWCAxis[axis]
	out := append(Shape(nil), s.Get(inputs[0])...)
	for _, name := range inputs[1:] {
		shape := s.Get(name)
		if len(shape) != len(out) {
			exceptions.Panicf("concat %q: input %q rank %d differs from %d", output, name, len(shape), len(out))
		}
		for i, dim := range shape {
			if i == targetAxis {
				continue
			}
			if dim != out[i] {
				exceptions.Panicf("concat %q: input %q shape %s mismatches on axis %d", output, name, shape, i)
			}
		}
		out[targetAxis] += shape[targetAxis]
	}
	s.Add(output, out)
}

// Affine registers a pass-through shape.
func (s *Shaper) Affine(input, output string) {
	s.Add(output, s.Get(input))
}

// String lists all registered shapes in name order, for V-logging.
func (s *Shaper) String() string {
	names := make([]string, 0, len(s.shapes))
	for name := range s.shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\n", name, s.shapes[name])
	}
	return sb.String()
}
