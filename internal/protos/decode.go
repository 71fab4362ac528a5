package protos

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// This file decodes the ONNX wire format into the structs of onnx.go using
// protowire, so the repo carries no protoc codegen step. Unknown fields are
// skipped, which keeps the decoder tolerant of newer ONNX releases.

// UnmarshalModel decodes a serialized ONNX ModelProto.
func UnmarshalModel(b []byte) (*ModelProto, error) {
	m := &ModelProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding ModelProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b, "ModelProto.ir_version")
			if err != nil {
				return nil, err
			}
			m.IrVersion = int64(v)
			b = b[n:]
		case 2:
			s, n, err := consumeString(b, "ModelProto.producer_name")
			if err != nil {
				return nil, err
			}
			m.ProducerName = s
			b = b[n:]
		case 3:
			s, n, err := consumeString(b, "ModelProto.producer_version")
			if err != nil {
				return nil, err
			}
			m.ProducerVersion = s
			b = b[n:]
		case 4:
			s, n, err := consumeString(b, "ModelProto.domain")
			if err != nil {
				return nil, err
			}
			m.Domain = s
			b = b[n:]
		case 5:
			v, n, err := consumeVarint(b, "ModelProto.model_version")
			if err != nil {
				return nil, err
			}
			m.ModelVersion = int64(v)
			b = b[n:]
		case 7:
			sub, n, err := consumeBytes(b, "ModelProto.graph")
			if err != nil {
				return nil, err
			}
			m.Graph, err = unmarshalGraph(sub)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		case 8:
			sub, n, err := consumeBytes(b, "ModelProto.opset_import")
			if err != nil {
				return nil, err
			}
			opset, err := unmarshalOperatorSetId(sub)
			if err != nil {
				return nil, err
			}
			m.OpsetImport = append(m.OpsetImport, opset)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return m, nil
}

func unmarshalOperatorSetId(b []byte) (*OperatorSetIdProto, error) {
	o := &OperatorSetIdProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding OperatorSetIdProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b, "OperatorSetIdProto.domain")
			if err != nil {
				return nil, err
			}
			o.Domain = s
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b, "OperatorSetIdProto.version")
			if err != nil {
				return nil, err
			}
			o.Version = int64(v)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return o, nil
}

func unmarshalGraph(b []byte) (*GraphProto, error) {
	g := &GraphProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding GraphProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			sub, n, err := consumeBytes(b, "GraphProto.node")
			if err != nil {
				return nil, err
			}
			node, err := unmarshalNode(sub)
			if err != nil {
				return nil, err
			}
			g.Node = append(g.Node, node)
			b = b[n:]
		case 2:
			s, n, err := consumeString(b, "GraphProto.name")
			if err != nil {
				return nil, err
			}
			g.Name = s
			b = b[n:]
		case 5:
			sub, n, err := consumeBytes(b, "GraphProto.initializer")
			if err != nil {
				return nil, err
			}
			tensor, err := unmarshalTensor(sub)
			if err != nil {
				return nil, err
			}
			g.Initializer = append(g.Initializer, tensor)
			b = b[n:]
		case 11, 12, 13:
			sub, n, err := consumeBytes(b, "GraphProto.value_info")
			if err != nil {
				return nil, err
			}
			vi, err := unmarshalValueInfo(sub)
			if err != nil {
				return nil, err
			}
			switch num {
			case 11:
				g.Input = append(g.Input, vi)
			case 12:
				g.Output = append(g.Output, vi)
			case 13:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return g, nil
}

func unmarshalNode(b []byte) (*NodeProto, error) {
	node := &NodeProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding NodeProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b, "NodeProto.input")
			if err != nil {
				return nil, err
			}
			node.Input = append(node.Input, s)
			b = b[n:]
		case 2:
			s, n, err := consumeString(b, "NodeProto.output")
			if err != nil {
				return nil, err
			}
			node.Output = append(node.Output, s)
			b = b[n:]
		case 3:
			s, n, err := consumeString(b, "NodeProto.name")
			if err != nil {
				return nil, err
			}
			node.Name = s
			b = b[n:]
		case 4:
			s, n, err := consumeString(b, "NodeProto.op_type")
			if err != nil {
				return nil, err
			}
			node.OpType = s
			b = b[n:]
		case 5:
			sub, n, err := consumeBytes(b, "NodeProto.attribute")
			if err != nil {
				return nil, err
			}
			attr, err := unmarshalAttribute(sub)
			if err != nil {
				return nil, err
			}
			node.Attribute = append(node.Attribute, attr)
			b = b[n:]
		case 7:
			s, n, err := consumeString(b, "NodeProto.domain")
			if err != nil {
				return nil, err
			}
			node.Domain = s
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return node, nil
}

func unmarshalAttribute(b []byte) (*AttributeProto, error) {
	attr := &AttributeProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding AttributeProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b, "AttributeProto.name")
			if err != nil {
				return nil, err
			}
			attr.Name = s
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, errors.WithMessage(protowire.ParseError(n), "decoding AttributeProto.f")
			}
			attr.F = math.Float32frombits(v)
			b = b[n:]
		case 3:
			v, n, err := consumeVarint(b, "AttributeProto.i")
			if err != nil {
				return nil, err
			}
			attr.I = int64(v)
			b = b[n:]
		case 4:
			sub, n, err := consumeBytes(b, "AttributeProto.s")
			if err != nil {
				return nil, err
			}
			attr.S = append([]byte(nil), sub...)
			b = b[n:]
		case 5:
			sub, n, err := consumeBytes(b, "AttributeProto.t")
			if err != nil {
				return nil, err
			}
			attr.T, err = unmarshalTensor(sub)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		case 7:
			var err error
			b, err = consumeFloats(b, typ, &attr.Floats, "AttributeProto.floats")
			if err != nil {
				return nil, err
			}
		case 8:
			var err error
			b, err = consumeInts(b, typ, &attr.Ints, "AttributeProto.ints")
			if err != nil {
				return nil, err
			}
		case 9:
			sub, n, err := consumeBytes(b, "AttributeProto.strings")
			if err != nil {
				return nil, err
			}
			attr.Strings = append(attr.Strings, append([]byte(nil), sub...))
			b = b[n:]
		case 20:
			v, n, err := consumeVarint(b, "AttributeProto.type")
			if err != nil {
				return nil, err
			}
			attr.Type = AttributeProto_AttributeType(v)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return attr, nil
}

func unmarshalTensor(b []byte) (*TensorProto, error) {
	t := &TensorProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding TensorProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			var err error
			b, err = consumeInts(b, typ, &t.Dims, "TensorProto.dims")
			if err != nil {
				return nil, err
			}
		case 2:
			v, n, err := consumeVarint(b, "TensorProto.data_type")
			if err != nil {
				return nil, err
			}
			t.DataType = int32(v)
			b = b[n:]
		case 4:
			var err error
			b, err = consumeFloats(b, typ, &t.FloatData, "TensorProto.float_data")
			if err != nil {
				return nil, err
			}
		case 5:
			var ints []int64
			var err error
			b, err = consumeInts(b, typ, &ints, "TensorProto.int32_data")
			if err != nil {
				return nil, err
			}
			for _, v := range ints {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
		case 6:
			sub, n, err := consumeBytes(b, "TensorProto.string_data")
			if err != nil {
				return nil, err
			}
			t.StringData = append(t.StringData, append([]byte(nil), sub...))
			b = b[n:]
		case 7:
			var err error
			b, err = consumeInts(b, typ, &t.Int64Data, "TensorProto.int64_data")
			if err != nil {
				return nil, err
			}
		case 8:
			s, n, err := consumeString(b, "TensorProto.name")
			if err != nil {
				return nil, err
			}
			t.Name = s
			b = b[n:]
		case 9:
			sub, n, err := consumeBytes(b, "TensorProto.raw_data")
			if err != nil {
				return nil, err
			}
			t.RawData = append([]byte(nil), sub...)
			b = b[n:]
		case 10:
			var err error
			b, err = consumeDoubles(b, typ, &t.DoubleData, "TensorProto.double_data")
			if err != nil {
				return nil, err
			}
		case 11:
			var err error
			b, err = consumeUint64s(b, typ, &t.Uint64Data, "TensorProto.uint64_data")
			if err != nil {
				return nil, err
			}
		case 13:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			t.ExternalData = true
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return t, nil
}

func unmarshalValueInfo(b []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding ValueInfoProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b, "ValueInfoProto.name")
			if err != nil {
				return nil, err
			}
			vi.Name = s
			b = b[n:]
		case 2:
			sub, n, err := consumeBytes(b, "ValueInfoProto.type")
			if err != nil {
				return nil, err
			}
			vi.Type, err = unmarshalType(sub)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return vi, nil
}

func unmarshalType(b []byte) (*TypeProto, error) {
	tp := &TypeProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding TypeProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			sub, n, err := consumeBytes(b, "TypeProto.tensor_type")
			if err != nil {
				return nil, err
			}
			tp.TensorType, err = unmarshalTensorType(sub)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return tp, nil
}

func unmarshalTensorType(b []byte) (*TypeProto_Tensor, error) {
	tt := &TypeProto_Tensor{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding TypeProto.Tensor tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b, "TypeProto.Tensor.elem_type")
			if err != nil {
				return nil, err
			}
			tt.ElemType = int32(v)
			b = b[n:]
		case 2:
			sub, n, err := consumeBytes(b, "TypeProto.Tensor.shape")
			if err != nil {
				return nil, err
			}
			tt.Shape, err = unmarshalTensorShape(sub)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return tt, nil
}

func unmarshalTensorShape(b []byte) (*TensorShapeProto, error) {
	ts := &TensorShapeProto{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding TensorShapeProto tag")
		}
		b = b[n:]
		switch num {
		case 1:
			sub, n, err := consumeBytes(b, "TensorShapeProto.dim")
			if err != nil {
				return nil, err
			}
			dim, err := unmarshalDimension(sub)
			if err != nil {
				return nil, err
			}
			ts.Dim = append(ts.Dim, dim)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return ts, nil
}

func unmarshalDimension(b []byte) (*TensorShapeProto_Dimension, error) {
	d := &TensorShapeProto_Dimension{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "decoding Dimension tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b, "Dimension.dim_value")
			if err != nil {
				return nil, err
			}
			d.DimValue = int64(v)
			d.HasDimValue = true
			b = b[n:]
		case 2:
			s, n, err := consumeString(b, "Dimension.dim_param")
			if err != nil {
				return nil, err
			}
			d.DimParam = s
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return d, nil
}

// Low-level field consumers. Each returns the consumed byte count so the
// caller can advance, or an error naming the field.

func consumeVarint(b []byte, field string) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, errors.WithMessagef(protowire.ParseError(n), "decoding %s", field)
	}
	return v, n, nil
}

func consumeBytes(b []byte, field string) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, errors.WithMessagef(protowire.ParseError(n), "decoding %s", field)
	}
	return v, n, nil
}

func consumeString(b []byte, field string) (string, int, error) {
	v, n, err := consumeBytes(b, field)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

// consumeFloats handles a repeated float field in both packed and unpacked
// encodings and returns the remaining buffer.
func consumeFloats(b []byte, typ protowire.Type, out *[]float32, field string) ([]byte, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, errors.WithMessagef(protowire.ParseError(n), "decoding %s", field)
		}
		*out = append(*out, math.Float32frombits(v))
		return b[n:], nil
	}
	sub, n, err := consumeBytes(b, field)
	if err != nil {
		return nil, err
	}
	for len(sub) > 0 {
		v, m := protowire.ConsumeFixed32(sub)
		if m < 0 {
			return nil, errors.WithMessagef(protowire.ParseError(m), "decoding packed %s", field)
		}
		*out = append(*out, math.Float32frombits(v))
		sub = sub[m:]
	}
	return b[n:], nil
}

// consumeDoubles is the float64 analogue of consumeFloats.
func consumeDoubles(b []byte, typ protowire.Type, out *[]float64, field string) ([]byte, error) {
	if typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, errors.WithMessagef(protowire.ParseError(n), "decoding %s", field)
		}
		*out = append(*out, math.Float64frombits(v))
		return b[n:], nil
	}
	sub, n, err := consumeBytes(b, field)
	if err != nil {
		return nil, err
	}
	for len(sub) > 0 {
		v, m := protowire.ConsumeFixed64(sub)
		if m < 0 {
			return nil, errors.WithMessagef(protowire.ParseError(m), "decoding packed %s", field)
		}
		*out = append(*out, math.Float64frombits(v))
		sub = sub[m:]
	}
	return b[n:], nil
}

// consumeInts handles a repeated int64 field in both packed and unpacked
// varint encodings and returns the remaining buffer.
func consumeInts(b []byte, typ protowire.Type, out *[]int64, field string) ([]byte, error) {
	if typ == protowire.VarintType {
		v, n, err := consumeVarint(b, field)
		if err != nil {
			return nil, err
		}
		*out = append(*out, int64(v))
		return b[n:], nil
	}
	sub, n, err := consumeBytes(b, field)
	if err != nil {
		return nil, err
	}
	for len(sub) > 0 {
		v, m := protowire.ConsumeVarint(sub)
		if m < 0 {
			return nil, errors.WithMessagef(protowire.ParseError(m), "decoding packed %s", field)
		}
		*out = append(*out, int64(v))
		sub = sub[m:]
	}
	return b[n:], nil
}

// consumeUint64s is the unsigned analogue of consumeInts.
func consumeUint64s(b []byte, typ protowire.Type, out *[]uint64, field string) ([]byte, error) {
	var ints []int64
	rest, err := consumeInts(b, typ, &ints, field)
	if err != nil {
		return nil, err
	}
	for _, v := range ints {
		*out = append(*out, uint64(v))
	}
	return rest, nil
}

func skipField(b []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, errors.WithMessagef(protowire.ParseError(n), "skipping unknown field %d", num)
	}
	return n, nil
}
