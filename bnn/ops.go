package bnn

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/dabnn-go/onnx2bnn/internal/flatbnn"
	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// Lowerers for the non-convolution operators. Each one resolves its inputs
// through the name map, validates attributes, registers the output shape and
// appends the layer record.

func (c *conversion) convertPool(node *protos.NodeProto) {
	inputName := c.m(node.Input[0])
	outputName := c.m(node.Output[0])
	var strides, pads, kernel []int
	global := node.OpType == "GlobalAveragePool" || node.OpType == "GlobalMaxPool"
	if global {
		strides = []int{0, 0}
		pads = []int{0, 0, 0, 0}
		kernel = []int{-1, -1} // -1 for global
	} else {
		strides = getIntsAttrOr(node, "strides", []int{1, 1})
		pads = getIntsAttrOr(node, "pads", []int{0, 0, 0, 0})
		kernel = getIntsAttrOr(node, "kernel_shape", []int{0, 0})
		if getIntAttrOr(node, "count_include_pad", 0) == 1 {
			exceptions.Panicf("%s: count_include_pad == 1 is not supported", nodeToString(node))
		}
		if getIntAttrOr(node, "storage_order", 0) == 1 {
			exceptions.Panicf("%s: storage_order == 1 is not supported", nodeToString(node))
		}
		if hasNodeAttr(node, "auto_pad") {
			exceptions.Panicf("%s: auto_pad is not supported", nodeToString(node))
		}
	}
	if len(pads) != 4 {
		exceptions.Panicf("%s: pads must have length 4, got %d", nodeToString(node), len(pads))
	}
	if len(kernel) != 2 {
		exceptions.Panicf("%s: kernel_shape must have length 2, got %d", nodeToString(node), len(kernel))
	}
	if len(strides) != 2 {
		exceptions.Panicf("%s: strides must have length 2, got %d", nodeToString(node), len(strides))
	}
	c.shaper.Pool(inputName, strides, pads, kernel, outputName)

	if node.OpType == "AveragePool" || node.OpType == "GlobalAveragePool" {
		c.builder.AddLayer(&flatbnn.Layer{
			Type: flatbnn.LayerAvePool,
			AvePool: &flatbnn.AvePool{
				Input:   inputName,
				Output:  outputName,
				Kernel:  kernel,
				Pads:    pads,
				Strides: strides,
			},
		})
	} else {
		c.builder.AddLayer(&flatbnn.Layer{
			Type: flatbnn.LayerMaxPool,
			MaxPool: &flatbnn.MaxPool{
				Input:   inputName,
				Output:  outputName,
				Kernel:  kernel,
				Pads:    pads,
				Strides: strides,
			},
		})
	}
}

func (c *conversion) convertPRelu(node *protos.NodeProto) {
	inputName := c.m(node.Input[0])
	slopeName := c.m(node.Input[1])
	slope := c.tensors.getFloat(slopeName)
	if len(c.shaper.Get(inputName)) != 4 {
		exceptions.Panicf("%s: only 4-D inputs are supported", nodeToString(node))
	}
	perChannel := len(slope.Shape) == 3 && slope.Shape[1] == 1 && slope.Shape[2] == 1
	scalarOne := len(slope.Data) == 1 && slope.Data[0] == 1
	if !perChannel && !scalarOne {
		exceptions.Panicf("%s: slope must be shaped (C,1,1) or be the scalar [1.0], got %s",
			nodeToString(node), slope.Shape)
	}
	c.builder.AddFloatTensor(slopeName, slope.Data, Shape{slope.Shape[0]})

	outputName := c.m(node.Output[0])
	c.shaper.Relu(inputName, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerPRelu,
		PRelu: &flatbnn.PRelu{
			Input:  inputName,
			Slope:  slopeName,
			Output: outputName,
		},
	})
}

func (c *conversion) convertRelu(node *protos.NodeProto) {
	inputName := c.m(node.Input[0])
	outputName := c.m(node.Output[0])
	c.shaper.Relu(inputName, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerRelu,
		Relu: &flatbnn.Relu{Input: inputName, Output: outputName},
	})
}

func (c *conversion) convertAdd(node *protos.NodeProto) {
	input1Name := c.m(node.Input[0])
	input2Name := c.m(node.Input[1])
	outputName := c.m(node.Output[0])
	c.shaper.Eltwise(input1Name, input2Name, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerAdd,
		Add:  &flatbnn.Add{Input1: input1Name, Input2: input2Name, Output: outputName},
	})
}

func (c *conversion) convertGemm(node *protos.NodeProto) {
	transA := getIntAttrOr(node, "transA", 0)
	transB := getIntAttrOr(node, "transB", 0)
	alpha := getFloatAttrOr(node, "alpha", 1)
	beta := getFloatAttrOr(node, "beta", 1)
	if transA != 0 || transB != 1 || alpha != 1 || beta != 1 {
		exceptions.Panicf("%s: only transA == 0, transB == 1, alpha == 1.0 and beta == 1.0 is supported",
			nodeToString(node))
	}

	inputName := c.m(node.Input[0])
	weightName := c.m(node.Input[1])
	weight := c.tensors.getFloat(weightName)
	c.shaper.Add(weightName, weight.Shape)
	c.builder.AddFloatTensor(weightName, weight.Data, weight.Shape)

	var biasName string
	if len(node.Input) >= 3 {
		biasName = c.m(node.Input[2])
		bias := c.tensors.getFloat(biasName)
		c.builder.AddFloatTensor(biasName, bias.Data, bias.Shape)
	}

	outputName := c.m(node.Output[0])
	c.shaper.FC(inputName, weightName, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerFC,
		FC: &flatbnn.FC{
			Input:  inputName,
			Weight: weightName,
			Bias:   biasName,
			Output: outputName,
		},
	})
}

func (c *conversion) convertSoftmax(node *protos.NodeProto) {
	inputName := c.m(node.Input[0])
	outputName := c.m(node.Output[0])
	// The runtime softmax has no axis parameter; the loader checks the two
	// ops are equivalent.
	if hasNodeAttr(node, "axis") {
		klog.Warningf("%s: attribute axis is dropped at conversion time", nodeToString(node))
	}
	c.shaper.Softmax(inputName, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type:    flatbnn.LayerSoftmax,
		Softmax: &flatbnn.Softmax{Input: inputName, Output: outputName},
	})
}

func (c *conversion) convertConcat(node *protos.NodeProto) {
	inputNames := make([]string, len(node.Input))
	for i, name := range node.Input {
		inputNames[i] = c.m(name)
	}
	axis := getIntAttrOr(node, "axis", 1)
	if axis < 0 || axis > 3 {
		exceptions.Panicf("%s: axis %d is not supported", nodeToString(node), axis)
	}
	outputName := c.m(node.Output[0])
	c.shaper.Concat(inputNames, axis, outputName)
	c.builder.AddLayer(&flatbnn.Layer{
		Type: flatbnn.LayerConcat,
		Concat: &flatbnn.Concat{
			Inputs: inputNames,
			Axis:   nchwToNHWCAxis[axis],
			Output: outputName,
		},
	})
}
