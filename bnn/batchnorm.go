package bnn

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"

	"github.com/dabnn-go/onnx2bnn/internal/flatbnn"
	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// convertBatchNormalization folds a BatchNormalization node into an Affine
// layer y = a*x + b with per-channel coefficients, emitted as two float
// tensors named <output>_a and <output>_b.
func (c *conversion) convertBatchNormalization(node *protos.NodeProto) {
	inputName := c.m(node.Input[0])
	outputName := c.m(node.Output[0])

	coeffAName := outputName + "_a"
	coeffBName := outputName + "_b"
	c.calculateCoeff(node, coeffAName, coeffBName)

	coeffA := c.tensors.getFloat(coeffAName)
	coeffB := c.tensors.getFloat(coeffBName)
	c.builder.AddFloatTensor(coeffAName, coeffA.Data, coeffA.Shape)
	c.builder.AddFloatTensor(coeffBName, coeffB.Data, coeffB.Shape)

	c.shaper.Affine(inputName, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerAffine,
		Affine: &flatbnn.Affine{
			Input:  inputName,
			A:      coeffAName,
			B:      coeffBName,
			Output: outputName,
		},
	})
}

// calculateCoeff computes the affine coefficients from the BN operands
// (input, scale, bias, mean, variance) and stores them in the tensor store.
//
// When the BN consumes the output of a binary convolution, the stored bits
// encode {0,1} but the runtime semantics are bipolar {-1,+1}: with p the
// popcount of matching bits and K the per-filter input size, the bipolar
// inner product is 2p - K. The -K and the factor of two are absorbed here:
// b += K*a (plus a*conv_bias if the conv carried a bias), then a *= -2.
func (c *conversion) calculateCoeff(node *protos.NodeProto, coeffAName, coeffBName string) {
	if len(node.Input) < 5 {
		exceptions.Panicf("%s needs input, scale, bias, mean and variance operands", nodeToString(node))
	}
	scale := c.tensors.getFloat(node.Input[1])
	bias := c.tensors.getFloat(node.Input[2])
	mean := c.tensors.getFloat(node.Input[3])
	variance := c.tensors.getFloat(node.Input[4])
	eps := getFloatAttrOr(node, "eps", 1e-5)

	channels := len(scale.Data)
	if len(bias.Data) != channels || len(mean.Data) != channels || len(variance.Data) != channels {
		exceptions.Panicf("%s: scale, bias, mean and variance must have equal length", nodeToString(node))
	}
	coeffA := make([]float32, channels)
	coeffB := make([]float32, channels)
	for i := 0; i < channels; i++ {
		t := math32.Sqrt(variance.Data[i] + eps)
		coeffA[i] = scale.Data[i] / t
		coeffB[i] = bias.Data[i] - scale.Data[i]*mean.Data[i]/t
	}

	if conv, fused := c.binConvs[node.Input[0]]; fused {
		weight := c.tensors.getFloat(conv.Input[1])
		if len(weight.Shape) != 4 {
			exceptions.Panicf("binary convolution weight %q must be 4-D, got %s", conv.Input[1], weight.Shape)
		}
		// ONNX weight layout is (N, C, kH, kW); K = C*kH*kW.
		k := float32(weight.Shape[1] * weight.Shape[2] * weight.Shape[3])
		for i := range coeffB {
			coeffB[i] += k * coeffA[i]
		}
		if len(conv.Input) >= 3 {
			convBias := c.tensors.getFloat(conv.Input[2])
			if len(convBias.Data) != channels {
				exceptions.Panicf("%s: convolution bias %q length %d does not match %d channels",
					nodeToString(node), conv.Input[2], len(convBias.Data), channels)
			}
			for i := range coeffB {
				coeffB[i] += coeffA[i] * convBias.Data[i]
			}
		}
		for i := range coeffA {
			coeffA[i] *= -2
		}
	}

	c.tensors.putFloat(coeffAName, newFTensor(coeffA, Shape{channels}))
	c.tensors.putFloat(coeffBName, newFTensor(coeffB, Shape{channels}))
}
