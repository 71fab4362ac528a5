package bnn

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/require"

	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

func TestAttributeDefaults(t *testing.T) {
	node := &protos.NodeProto{
		OpType: "Conv",
		Attribute: []*protos.AttributeProto{
			attrInt("group", 2),
			attrFloat("alpha", 0.5),
			{Name: "strides", Type: protos.AttributeProto_INTS, Ints: []int64{2, 2}},
			{Name: "auto_pad", Type: protos.AttributeProto_STRING, S: []byte("SAME_UPPER")},
		},
	}
	require.Equal(t, 2, getIntAttrOr(node, "group", 1))
	require.Equal(t, 1, getIntAttrOr(node, "missing", 1))
	require.Equal(t, float32(0.5), getFloatAttrOr(node, "alpha", 1))
	require.Equal(t, float32(1), getFloatAttrOr(node, "beta", 1))
	require.Equal(t, []int{2, 2}, getIntsAttrOr(node, "strides", []int{1, 1}))
	require.Equal(t, []int{0, 0}, getIntsAttrOr(node, "pads", []int{0, 0}))
	require.Equal(t, "SAME_UPPER", getStringAttrOr(node, "auto_pad", ""))
	require.True(t, hasNodeAttr(node, "auto_pad"))
	require.False(t, hasNodeAttr(node, "pads"))
}

func TestAttributeWrongType(t *testing.T) {
	node := &protos.NodeProto{
		OpType:    "Conv",
		Name:      "conv0",
		Attribute: []*protos.AttributeProto{attrFloat("group", 1)},
	}
	err := exceptions.TryCatch[error](func() {
		getIntAttrOr(node, "group", 1)
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "conv0")
}
