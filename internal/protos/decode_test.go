package protos

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire buffers for the tests are assembled with protowire, the same
// primitives the decoder consumes.

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendPackedInts(b []byte, num protowire.Number, values []int64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func TestUnmarshalModel(t *testing.T) {
	// initializer w: dims (1, 2), float_data (0.5, -0.5)
	var tensor []byte
	tensor = appendPackedInts(tensor, 1, []int64{1, 2})
	tensor = appendVarintField(tensor, 2, uint64(TensorProto_FLOAT))
	tensor = appendPackedFloats(tensor, 4, []float32{0.5, -0.5})
	tensor = appendString(tensor, 8, "w")

	// attribute axis = 1
	var attr []byte
	attr = appendString(attr, 1, "axis")
	attr = appendVarintField(attr, 3, 1)
	attr = appendVarintField(attr, 20, uint64(AttributeProto_INT))

	// node: Concat(x, w) -> y, domain dabnn
	var node []byte
	node = appendString(node, 1, "x")
	node = appendString(node, 1, "w")
	node = appendString(node, 2, "y")
	node = appendString(node, 3, "concat0")
	node = appendString(node, 4, "Concat")
	node = appendMessage(node, 5, attr)
	node = appendString(node, 7, "dabnn")

	// input x: float tensor (1, 3, dyn, 4)
	var dim0, dim1, dim2, dim3 []byte
	dim0 = appendVarintField(dim0, 1, 1)
	dim1 = appendVarintField(dim1, 1, 3)
	dim2 = appendString(dim2, 2, "height")
	dim3 = appendVarintField(dim3, 1, 4)
	var shape []byte
	for _, dim := range [][]byte{dim0, dim1, dim2, dim3} {
		shape = appendMessage(shape, 1, dim)
	}
	var tensorType []byte
	tensorType = appendVarintField(tensorType, 1, uint64(TensorProto_FLOAT))
	tensorType = appendMessage(tensorType, 2, shape)
	var typeProto []byte
	typeProto = appendMessage(typeProto, 1, tensorType)
	var input []byte
	input = appendString(input, 1, "x")
	input = appendMessage(input, 2, typeProto)

	var graph []byte
	graph = appendMessage(graph, 1, node)
	graph = appendString(graph, 2, "g")
	graph = appendMessage(graph, 5, tensor)
	graph = appendMessage(graph, 11, input)

	var model []byte
	model = appendVarintField(model, 1, 7)
	model = appendString(model, 2, "test")
	model = appendMessage(model, 7, graph)

	m, err := UnmarshalModel(model)
	require.NoError(t, err)
	require.EqualValues(t, 7, m.IrVersion)
	require.Equal(t, "test", m.ProducerName)
	require.NotNil(t, m.Graph)
	require.Equal(t, "g", m.Graph.Name)

	require.Len(t, m.Graph.Initializer, 1)
	w := m.Graph.Initializer[0]
	require.Equal(t, "w", w.Name)
	require.Equal(t, []int64{1, 2}, w.Dims)
	require.Equal(t, []float32{0.5, -0.5}, w.FloatData)

	require.Len(t, m.Graph.Node, 1)
	n := m.Graph.Node[0]
	require.Equal(t, "Concat", n.OpType)
	require.Equal(t, "concat0", n.Name)
	require.Equal(t, "dabnn", n.Domain)
	require.Equal(t, []string{"x", "w"}, n.Input)
	require.Equal(t, []string{"y"}, n.Output)
	require.Len(t, n.Attribute, 1)
	require.Equal(t, "axis", n.Attribute[0].Name)
	require.Equal(t, AttributeProto_INT, n.Attribute[0].Type)
	require.EqualValues(t, 1, n.Attribute[0].I)

	require.Len(t, m.Graph.Input, 1)
	x := m.Graph.Input[0]
	require.Equal(t, "x", x.Name)
	dims := x.Type.TensorType.Shape.Dim
	require.Len(t, dims, 4)
	require.True(t, dims[0].HasDimValue)
	require.EqualValues(t, 3, dims[1].DimValue)
	require.False(t, dims[2].HasDimValue)
	require.Equal(t, "height", dims[2].DimParam)
	require.EqualValues(t, 4, dims[3].DimValue)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var model []byte
	model = appendVarintField(model, 1, 7)
	// doc_string (field 6) is not materialized and must be skipped.
	model = appendString(model, 6, "documentation")
	model = appendVarintField(model, 5, 3)

	m, err := UnmarshalModel(model)
	require.NoError(t, err)
	require.EqualValues(t, 7, m.IrVersion)
	require.EqualValues(t, 3, m.ModelVersion)
}

func TestUnmarshalRawData(t *testing.T) {
	var tensor []byte
	tensor = appendPackedInts(tensor, 1, []int64{1})
	tensor = appendVarintField(tensor, 2, uint64(TensorProto_FLOAT))
	tensor = appendString(tensor, 8, "w")
	raw := make([]byte, 4)
	for i, b := range []byte{0, 0, 128, 63} { // 1.0f little-endian
		raw[i] = b
	}
	tensor = protowire.AppendTag(tensor, 9, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, raw)

	var graph []byte
	graph = appendMessage(graph, 5, tensor)
	var model []byte
	model = appendMessage(model, 7, graph)

	m, err := UnmarshalModel(model)
	require.NoError(t, err)
	require.Equal(t, raw, m.Graph.Initializer[0].RawData)
}

func TestUnmarshalTruncated(t *testing.T) {
	var model []byte
	model = appendVarintField(model, 1, 7)
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendVarint(model, 100) // length beyond the buffer
	_, err := UnmarshalModel(model)
	require.Error(t, err)
}
