// Package benchmarks implements support functionality for the conversion
// benchmarks: synthetic ONNX models with binarized weights, sized like the
// convolution stacks of small vision models.
package benchmarks

import (
	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// BinaryConvModel builds a model with one binarized convolution (domain
// "dabnn") followed by a BatchNormalization. Weights alternate ±1 so the
// packed words are non-trivial.
func BinaryConvModel(filters, channels, kernel, spatial int) *protos.ModelProto {
	weight := make([]float32, filters*channels*kernel*kernel)
	for i := range weight {
		if i%2 == 0 {
			weight[i] = 1
		} else {
			weight[i] = -1
		}
	}
	ones := make([]float32, filters)
	zeros := make([]float32, filters)
	for i := range ones {
		ones[i] = 1
	}

	return &protos.ModelProto{
		IrVersion: 7,
		Graph: &protos.GraphProto{
			Name:  "bench",
			Input: []*protos.ValueInfoProto{inputInfo("x", 1, channels, spatial, spatial)},
			Initializer: []*protos.TensorProto{
				floatInit("w", []int64{int64(filters), int64(channels), int64(kernel), int64(kernel)}, weight),
				floatInit("scale", []int64{int64(filters)}, ones),
				floatInit("beta", []int64{int64(filters)}, zeros),
				floatInit("mean", []int64{int64(filters)}, zeros),
				floatInit("var", []int64{int64(filters)}, ones),
			},
			Node: []*protos.NodeProto{
				{OpType: "Conv", Domain: "dabnn", Input: []string{"x", "w"}, Output: []string{"conv_out"}},
				{
					OpType: "BatchNormalization",
					Input:  []string{"conv_out", "scale", "beta", "mean", "var"},
					Output: []string{"y"},
				},
			},
		},
	}
}

func floatInit(name string, dims []int64, data []float32) *protos.TensorProto {
	return &protos.TensorProto{
		Name:      name,
		Dims:      dims,
		DataType:  int32(protos.TensorProto_FLOAT),
		FloatData: data,
	}
}

func inputInfo(name string, dims ...int) *protos.ValueInfoProto {
	shape := &protos.TensorShapeProto{}
	for _, d := range dims {
		shape.Dim = append(shape.Dim, &protos.TensorShapeProto_Dimension{
			DimValue:    int64(d),
			HasDimValue: true,
		})
	}
	return &protos.ValueInfoProto{
		Name: name,
		Type: &protos.TypeProto{
			TensorType: &protos.TypeProto_Tensor{
				ElemType: int32(protos.TensorProto_FLOAT),
				Shape:    shape,
			},
		},
	}
}
