package bnn

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"

	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

func bnNode(input string, eps float32) *protos.NodeProto {
	return &protos.NodeProto{
		OpType:    "BatchNormalization",
		Input:     []string{input, "scale", "beta", "mean", "var"},
		Output:    []string{"y"},
		Attribute: []*protos.AttributeProto{attrFloat("eps", eps)},
	}
}

func TestCalculateCoeffPlain(t *testing.T) {
	c := newConversion(nopOptimizer{}, nil)
	c.tensors.putFloat("scale", newFTensor([]float32{2, 3}, Shape{2}))
	c.tensors.putFloat("beta", newFTensor([]float32{1, -1}, Shape{2}))
	c.tensors.putFloat("mean", newFTensor([]float32{0.5, 0.25}, Shape{2}))
	c.tensors.putFloat("var", newFTensor([]float32{4, 9}, Shape{2}))

	c.calculateCoeff(bnNode("x", 0), "y_a", "y_b")

	coeffA := c.tensors.getFloat("y_a").Data
	coeffB := c.tensors.getFloat("y_b").Data
	require.InDelta(t, 2.0/2, coeffA[0], 1e-6)
	require.InDelta(t, 3.0/3, coeffA[1], 1e-6)
	require.InDelta(t, 1-2*0.5/2, coeffB[0], 1e-6)
	require.InDelta(t, -1-3*0.25/3, coeffB[1], 1e-6)
}

func TestCalculateCoeffEpsilon(t *testing.T) {
	c := newConversion(nopOptimizer{}, nil)
	c.tensors.putFloat("scale", newFTensor([]float32{1}, Shape{1}))
	c.tensors.putFloat("beta", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("mean", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("var", newFTensor([]float32{1}, Shape{1}))

	c.calculateCoeff(bnNode("x", 1), "y_a", "y_b")

	want := 1 / math32.Sqrt(2)
	require.InDelta(t, want, c.tensors.getFloat("y_a").Data[0], 1e-6)
}

func TestCalculateCoeffFusedCorrection(t *testing.T) {
	// K = 27 binary conv with unit BN parameters: a = -2, b = +27.
	c := newConversion(nopOptimizer{}, nil)
	c.tensors.putFloat("w", newFTensor(make([]float32, 27), Shape{1, 3, 3, 3}))
	c.tensors.putFloat("scale", newFTensor([]float32{1}, Shape{1}))
	c.tensors.putFloat("beta", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("mean", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("var", newFTensor([]float32{1}, Shape{1}))
	c.binConvs["conv_out"] = &protos.NodeProto{
		OpType: "Conv",
		Domain: "dabnn",
		Input:  []string{"x", "w"},
		Output: []string{"conv_out"},
	}

	c.calculateCoeff(bnNode("conv_out", 0), "y_a", "y_b")

	require.Equal(t, []float32{-2}, c.tensors.getFloat("y_a").Data)
	require.Equal(t, []float32{27}, c.tensors.getFloat("y_b").Data)
}

func TestCalculateCoeffFusedWithConvBias(t *testing.T) {
	c := newConversion(nopOptimizer{}, nil)
	c.tensors.putFloat("w", newFTensor(make([]float32, 27), Shape{1, 3, 3, 3}))
	c.tensors.putFloat("conv_bias", newFTensor([]float32{5}, Shape{1}))
	c.tensors.putFloat("scale", newFTensor([]float32{1}, Shape{1}))
	c.tensors.putFloat("beta", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("mean", newFTensor([]float32{0}, Shape{1}))
	c.tensors.putFloat("var", newFTensor([]float32{1}, Shape{1}))
	c.binConvs["conv_out"] = &protos.NodeProto{
		OpType: "Conv",
		Domain: "dabnn",
		Input:  []string{"x", "w", "conv_bias"},
		Output: []string{"conv_out"},
	}

	c.calculateCoeff(bnNode("conv_out", 0), "y_a", "y_b")

	// b = 0 + 27*1 + 1*5 = 32 before a is flipped to -2.
	require.Equal(t, []float32{-2}, c.tensors.getFloat("y_a").Data)
	require.Equal(t, []float32{32}, c.tensors.getFloat("y_b").Data)
}
