// Package protos holds the subset of the ONNX protocol-buffer schema the
// converter consumes, decoded directly from the wire format (see decode.go).
//
// Field names and numbers follow onnx.proto; only the messages and fields
// the converter reads are materialized.
package protos

import "fmt"

// TensorProto_DataType enumerates ONNX tensor element types.
type TensorProto_DataType int32

const (
	TensorProto_UNDEFINED  TensorProto_DataType = 0
	TensorProto_FLOAT      TensorProto_DataType = 1
	TensorProto_UINT8      TensorProto_DataType = 2
	TensorProto_INT8       TensorProto_DataType = 3
	TensorProto_UINT16     TensorProto_DataType = 4
	TensorProto_INT16      TensorProto_DataType = 5
	TensorProto_INT32      TensorProto_DataType = 6
	TensorProto_INT64      TensorProto_DataType = 7
	TensorProto_STRING     TensorProto_DataType = 8
	TensorProto_BOOL       TensorProto_DataType = 9
	TensorProto_FLOAT16    TensorProto_DataType = 10
	TensorProto_DOUBLE     TensorProto_DataType = 11
	TensorProto_UINT32     TensorProto_DataType = 12
	TensorProto_UINT64     TensorProto_DataType = 13
	TensorProto_COMPLEX64  TensorProto_DataType = 14
	TensorProto_COMPLEX128 TensorProto_DataType = 15
	TensorProto_BFLOAT16   TensorProto_DataType = 16
)

func (t TensorProto_DataType) String() string {
	switch t {
	case TensorProto_FLOAT:
		return "FLOAT"
	case TensorProto_UINT8:
		return "UINT8"
	case TensorProto_INT8:
		return "INT8"
	case TensorProto_UINT16:
		return "UINT16"
	case TensorProto_INT16:
		return "INT16"
	case TensorProto_INT32:
		return "INT32"
	case TensorProto_INT64:
		return "INT64"
	case TensorProto_STRING:
		return "STRING"
	case TensorProto_BOOL:
		return "BOOL"
	case TensorProto_FLOAT16:
		return "FLOAT16"
	case TensorProto_DOUBLE:
		return "DOUBLE"
	case TensorProto_UINT32:
		return "UINT32"
	case TensorProto_UINT64:
		return "UINT64"
	case TensorProto_COMPLEX64:
		return "COMPLEX64"
	case TensorProto_COMPLEX128:
		return "COMPLEX128"
	case TensorProto_BFLOAT16:
		return "BFLOAT16"
	default:
		return fmt.Sprintf("TensorProto_DataType(%d)", int32(t))
	}
}

// AttributeProto_AttributeType enumerates ONNX attribute value kinds.
type AttributeProto_AttributeType int32

const (
	AttributeProto_UNDEFINED AttributeProto_AttributeType = 0
	AttributeProto_FLOAT     AttributeProto_AttributeType = 1
	AttributeProto_INT       AttributeProto_AttributeType = 2
	AttributeProto_STRING    AttributeProto_AttributeType = 3
	AttributeProto_TENSOR    AttributeProto_AttributeType = 4
	AttributeProto_GRAPH     AttributeProto_AttributeType = 5
	AttributeProto_FLOATS    AttributeProto_AttributeType = 6
	AttributeProto_INTS      AttributeProto_AttributeType = 7
	AttributeProto_STRINGS   AttributeProto_AttributeType = 8
	AttributeProto_TENSORS   AttributeProto_AttributeType = 9
	AttributeProto_GRAPHS    AttributeProto_AttributeType = 10
)

func (t AttributeProto_AttributeType) String() string {
	switch t {
	case AttributeProto_FLOAT:
		return "FLOAT"
	case AttributeProto_INT:
		return "INT"
	case AttributeProto_STRING:
		return "STRING"
	case AttributeProto_TENSOR:
		return "TENSOR"
	case AttributeProto_GRAPH:
		return "GRAPH"
	case AttributeProto_FLOATS:
		return "FLOATS"
	case AttributeProto_INTS:
		return "INTS"
	case AttributeProto_STRINGS:
		return "STRINGS"
	case AttributeProto_TENSORS:
		return "TENSORS"
	case AttributeProto_GRAPHS:
		return "GRAPHS"
	default:
		return fmt.Sprintf("AttributeProto_AttributeType(%d)", int32(t))
	}
}

// ModelProto is the top-level ONNX model message.
type ModelProto struct {
	IrVersion       int64                 // field 1
	ProducerName    string                // field 2
	ProducerVersion string                // field 3
	Domain          string                // field 4
	ModelVersion    int64                 // field 5
	Graph           *GraphProto           // field 7
	OpsetImport     []*OperatorSetIdProto // field 8
}

// OperatorSetIdProto identifies an operator set by domain and version.
type OperatorSetIdProto struct {
	Domain  string // field 1
	Version int64  // field 2
}

// GraphProto is a computation graph: nodes in topological order plus
// initializers, inputs and outputs.
type GraphProto struct {
	Node        []*NodeProto      // field 1
	Name        string            // field 2
	Initializer []*TensorProto    // field 5
	Input       []*ValueInfoProto // field 11
	Output      []*ValueInfoProto // field 12
	ValueInfo   []*ValueInfoProto // field 13
}

// NodeProto is one operator application.
type NodeProto struct {
	Input     []string          // field 1
	Output    []string          // field 2
	Name      string            // field 3
	OpType    string            // field 4
	Attribute []*AttributeProto // field 5
	Domain    string            // field 7
}

// AttributeProto is a named, typed attribute value.
type AttributeProto struct {
	Name    string                       // field 1
	F       float32                      // field 2
	I       int64                        // field 3
	S       []byte                       // field 4
	T       *TensorProto                 // field 5
	Floats  []float32                    // field 7
	Ints    []int64                      // field 8
	Strings [][]byte                     // field 9
	Type    AttributeProto_AttributeType // field 20
}

// TensorProto carries a constant tensor value; exactly one of the data
// fields is populated, or RawData holds the little-endian bytes.
type TensorProto struct {
	Dims         []int64   // field 1
	DataType     int32     // field 2
	FloatData    []float32 // field 4
	Int32Data    []int32   // field 5
	StringData   [][]byte  // field 6
	Int64Data    []int64   // field 7
	Name         string    // field 8
	RawData      []byte    // field 9
	DoubleData   []float64 // field 10
	Uint64Data   []uint64  // field 11
	ExternalData bool      // field 13 (presence only)
}

// ValueInfoProto names a graph input/output and its type.
type ValueInfoProto struct {
	Name string     // field 1
	Type *TypeProto // field 2
}

// TypeProto describes a value type; only tensor types are materialized.
type TypeProto struct {
	TensorType *TypeProto_Tensor // field 1
}

// TypeProto_Tensor is the tensor variant of TypeProto.
type TypeProto_Tensor struct {
	ElemType int32             // field 1
	Shape    *TensorShapeProto // field 2
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dim []*TensorShapeProto_Dimension // field 1
}

// TensorShapeProto_Dimension is either a static value or a symbolic name.
type TensorShapeProto_Dimension struct {
	DimValue    int64  // oneof field 1
	DimParam    string // oneof field 2
	HasDimValue bool
}
