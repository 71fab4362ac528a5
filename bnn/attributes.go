package bnn

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// Typed access to node attributes with defaults. An attribute present with
// the wrong type is a fatal error naming the node.

// nodeToString returns a short description of a node for error messages.
func nodeToString(node *protos.NodeProto) string {
	if node.Name != "" {
		return fmt.Sprintf("%s node %q", node.OpType, node.Name)
	}
	if len(node.Output) > 0 {
		return fmt.Sprintf("%s node (output %q)", node.OpType, node.Output[0])
	}
	return fmt.Sprintf("%s node", node.OpType)
}

// getNodeAttr returns the named attribute or nil if absent.
func getNodeAttr(node *protos.NodeProto, name string) *protos.AttributeProto {
	for _, attr := range node.Attribute {
		if attr.Name == name {
			return attr
		}
	}
	return nil
}

// hasNodeAttr reports whether the node carries the named attribute.
func hasNodeAttr(node *protos.NodeProto, name string) bool {
	return getNodeAttr(node, name) != nil
}

func assertNodeAttrType(node *protos.NodeProto, attr *protos.AttributeProto, attributeType protos.AttributeProto_AttributeType) {
	if attr.Type != attributeType {
		exceptions.Panicf("attribute %q of %s has type %s, expected %s",
			attr.Name, nodeToString(node), attr.Type, attributeType)
	}
}

// getIntAttrOr gets an integer attribute if present or returns defaultValue.
func getIntAttrOr(node *protos.NodeProto, attrName string, defaultValue int) int {
	attr := getNodeAttr(node, attrName)
	if attr == nil {
		return defaultValue
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_INT)
	return int(attr.I)
}

// getFloatAttrOr gets a float attribute if present or returns defaultValue.
func getFloatAttrOr(node *protos.NodeProto, attrName string, defaultValue float32) float32 {
	attr := getNodeAttr(node, attrName)
	if attr == nil {
		return defaultValue
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_FLOAT)
	return attr.F
}

// getStringAttrOr gets a string attribute if present or returns defaultValue.
func getStringAttrOr(node *protos.NodeProto, attrName string, defaultValue string) string {
	attr := getNodeAttr(node, attrName)
	if attr == nil {
		return defaultValue
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_STRING)
	return string(attr.S)
}

// getIntsAttrOr gets an integer list attribute if present or returns
// defaultValues.
func getIntsAttrOr(node *protos.NodeProto, attrName string, defaultValues []int) []int {
	attr := getNodeAttr(node, attrName)
	if attr == nil {
		return defaultValues
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_INTS)
	values := make([]int, len(attr.Ints))
	for i, v := range attr.Ints {
		values[i] = int(v)
	}
	return values
}
