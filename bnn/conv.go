package bnn

import (
	"slices"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/dabnn-go/onnx2bnn/internal/flatbnn"
	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// convertConv lowers a Conv node into a BinConv2D or FpConv2D layer. A node
// is binary when its domain is "dabnn" or its output name is in the
// caller's expected list; a binary convolution must be immediately consumed
// by a BatchNormalization.
func (c *conversion) convertConv(node *protos.NodeProto) {
	strides := getIntsAttrOr(node, "strides", []int{1, 1})
	pads := getIntsAttrOr(node, "pads", []int{0, 0, 0, 0})
	dilations := getIntsAttrOr(node, "dilations", []int{1, 1})
	if len(pads) != 4 {
		exceptions.Panicf("%s: pads must have length 4, got %d", nodeToString(node), len(pads))
	}
	if len(strides) != 2 {
		exceptions.Panicf("%s: strides must have length 2, got %d", nodeToString(node), len(strides))
	}
	if len(dilations) != 2 {
		exceptions.Panicf("%s: dilations must have length 2, got %d", nodeToString(node), len(dilations))
	}
	if group := getIntAttrOr(node, "group", 1); group != 1 {
		exceptions.Panicf("%s: group != 1 is not supported", nodeToString(node))
	}

	var biasName string
	if len(node.Input) >= 3 {
		oriBiasName := c.m(node.Input[2])
		biasName = oriBiasName + "_conv_b"
		bias := c.tensors.getFloat(oriBiasName)
		c.tensors.putFloat(biasName, bias)
		c.builder.AddFloatTensor(biasName, bias.Data, bias.Shape)
	}

	oriWeightName := c.m(node.Input[1])
	binary := node.Domain == "dabnn" || slices.Contains(c.expected, node.Output[0])
	if binary {
		c.binConvOutputs = append(c.binConvOutputs, node.Output[0])
		if !c.bnInputs[node.Output[0]] {
			exceptions.Panicf("binary convolution %q must precede a BatchNormalization", node.Output[0])
		}
		c.binConvs[node.Output[0]] = node
	}
	c.addConv(c.m(node.Input[0]), strides, pads, dilations, oriWeightName, biasName, c.m(node.Output[0]), binary)
}

// addConv reinterprets the weight into NHWC, registers shapes, materializes
// the weight tensor (packed for binary convolutions) and emits the layer.
func (c *conversion) addConv(input string, strides, pads, dilations []int, oriWeightName, biasName, output string, binary bool) {
	onnxWeight := c.tensors.getFloat(oriWeightName)
	weight := nchwToNHWC(onnxWeight)
	weightName := oriWeightName + "_conv_w"
	c.shaper.Add(weightName, weight.Shape)
	c.shaper.Conv(input, strides, dilations, pads, weightName, output)

	if binary {
		klog.V(5).Infof("packing binary weight %q", weightName)
		packed := bitpack(weight)
		c.tensors.putBinary(weightName, packed)
		c.builder.AddBitTensor(weightName, packed.Data, packed.Shape, packed.AlignHWCTo128)
		c.builder.AddLayer(&flatbnn.Layer{
			Type: flatbnn.LayerBinConv2D,
			BinConv2D: &flatbnn.BinConv2D{
				Input:     input,
				Weight:    weightName,
				Output:    output,
				Pads:      pads,
				Strides:   strides,
				Dilations: dilations,
			},
		})
		return
	}

	c.tensors.putFloat(weightName, weight)
	c.builder.AddFloatTensor(weightName, weight.Data, weight.Shape)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerFpConv2D,
		FpConv2D: &flatbnn.FpConv2D{
			Input:     input,
			Weight:    weightName,
			Bias:      biasName,
			Output:    output,
			Pads:      pads,
			Strides:   strides,
			Dilations: dilations,
		},
	})
}
