package bnn

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// Shape is an ordered list of positive dimensions. Two layout conventions
// coexist: the source graph uses NCHW, the emitted artifact NHWC. Conversion
// happens only at declared boundaries (graph inputs and weight
// reinterpretation before packing).
type Shape []int

// Size returns the number of elements.
func (s Shape) Size() int {
	total := 1
	for _, dim := range s {
		total *= dim
	}
	return total
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, dim := range s {
		if dim != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// FTensor is a dense float32 tensor. Invariant: len(Data) == Shape.Size().
type FTensor struct {
	Data  []float32
	Shape Shape
}

// BTensor holds bit-packed bipolar weights as 64-bit words. Shape is kept in
// NHWC. When AlignHWCTo128 is set, each of the N filters occupies
// 2*ceil(HWC/128) words; otherwise len(Data)*64 == Shape.Size().
type BTensor struct {
	Data          []uint64
	Shape         Shape
	AlignHWCTo128 bool
}

// newFTensor builds a tensor, enforcing the data/shape size invariant.
func newFTensor(data []float32, shape Shape) *FTensor {
	if len(data) != shape.Size() {
		exceptions.Panicf("tensor shaped %s needs %d elements, got %d", shape, shape.Size(), len(data))
	}
	return &FTensor{Data: data, Shape: shape}
}

// tensorFromProto decodes a float initializer from its ONNX proto. FLOAT16
// and DOUBLE values are widened/narrowed to float32 on load.
func tensorFromProto(proto *protos.TensorProto) (*FTensor, error) {
	shape := make(Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		if dim <= 0 {
			return nil, errors.Errorf("tensor %q has non-positive dimension %d", proto.Name, dim)
		}
		shape[i] = int(dim)
	}
	if proto.ExternalData {
		return nil, errors.Errorf("tensor %q is stored as external data, which is not supported", proto.Name)
	}

	size := shape.Size()
	data := make([]float32, 0, size)
	switch protos.TensorProto_DataType(proto.DataType) {
	case protos.TensorProto_FLOAT:
		if proto.FloatData != nil {
			data = append(data, proto.FloatData...)
		} else {
			if len(proto.RawData) != 4*size {
				return nil, errors.Errorf("tensor %q shaped %s needs %d raw bytes, got %d",
					proto.Name, shape, 4*size, len(proto.RawData))
			}
			for i := 0; i < len(proto.RawData); i += 4 {
				bits := binary.LittleEndian.Uint32(proto.RawData[i:])
				data = append(data, math.Float32frombits(bits))
			}
		}
	case protos.TensorProto_FLOAT16:
		if len(proto.RawData) != 2*size {
			return nil, errors.Errorf("tensor %q shaped %s needs %d raw bytes, got %d",
				proto.Name, shape, 2*size, len(proto.RawData))
		}
		for i := 0; i < len(proto.RawData); i += 2 {
			bits := binary.LittleEndian.Uint16(proto.RawData[i:])
			data = append(data, float16.Frombits(bits).Float32())
		}
	case protos.TensorProto_DOUBLE:
		if proto.DoubleData != nil {
			for _, v := range proto.DoubleData {
				data = append(data, float32(v))
			}
		} else {
			if len(proto.RawData) != 8*size {
				return nil, errors.Errorf("tensor %q shaped %s needs %d raw bytes, got %d",
					proto.Name, shape, 8*size, len(proto.RawData))
			}
			for i := 0; i < len(proto.RawData); i += 8 {
				bits := binary.LittleEndian.Uint64(proto.RawData[i:])
				data = append(data, float32(math.Float64frombits(bits)))
			}
		}
	default:
		return nil, errors.Errorf("tensor %q has unsupported data type %s",
			proto.Name, protos.TensorProto_DataType(proto.DataType))
	}
	if len(data) != size {
		return nil, errors.Errorf("tensor %q shaped %s has size %d, but the model provided %d values",
			proto.Name, shape, size, len(data))
	}
	return &FTensor{Data: data, Shape: shape}, nil
}

// isFloatInitializer reports whether the proto holds a dtype the converter
// loads as float32.
func isFloatInitializer(proto *protos.TensorProto) bool {
	switch protos.TensorProto_DataType(proto.DataType) {
	case protos.TensorProto_FLOAT, protos.TensorProto_FLOAT16, protos.TensorProto_DOUBLE:
		return true
	default:
		return false
	}
}

// nchwToNHWC reinterprets a 4-D tensor from source to target layout.
func nchwToNHWC(t *FTensor) *FTensor {
	if len(t.Shape) != 4 {
		exceptions.Panicf("layout conversion needs a 4-D tensor, got shape %s", t.Shape)
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	out := make([]float32, len(t.Data))
	idx := 0
	for ni := 0; ni < n; ni++ {
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				for ci := 0; ci < c; ci++ {
					out[idx] = t.Data[((ni*c+ci)*h+hi)*w+wi]
					idx++
				}
			}
		}
	}
	return newFTensor(out, Shape{n, h, w, c})
}

// tensorStore owns all float and binary tensor buffers of one conversion:
// source-layout initializers, derived coefficients and materialized weights.
type tensorStore struct {
	floats   map[string]*FTensor
	binaries map[string]*BTensor
}

func newTensorStore() *tensorStore {
	return &tensorStore{
		floats:   make(map[string]*FTensor),
		binaries: make(map[string]*BTensor),
	}
}

func (s *tensorStore) putFloat(name string, t *FTensor) {
	s.floats[name] = t
}

func (s *tensorStore) putBinary(name string, t *BTensor) {
	s.binaries[name] = t
}

// getFloat returns the named float tensor or raises a fatal error.
func (s *tensorStore) getFloat(name string) *FTensor {
	t, found := s.floats[name]
	if !found {
		exceptions.Panicf("float tensor %q not found", name)
	}
	return t
}

func (s *tensorStore) hasFloat(name string) bool {
	_, found := s.floats[name]
	return found
}
