package flatbnn

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ModelBuilder collects layer, tensor and input records and serializes them
// with Finish. Records are write-once; the builder never reorders them, so
// serialization is deterministic.
type ModelBuilder struct {
	inputs  []*Input
	tensors []*Tensor
	layers  []*Layer
}

// NewModelBuilder returns an empty builder.
func NewModelBuilder() *ModelBuilder {
	return &ModelBuilder{}
}

// AddInput appends a graph input record.
func (b *ModelBuilder) AddInput(name string, shape []int) {
	b.inputs = append(b.inputs, &Input{Name: name, Shape: shape})
}

// AddFloatTensor appends a Float32 tensor record.
func (b *ModelBuilder) AddFloatTensor(name string, data []float32, shape []int) {
	b.tensors = append(b.tensors, &Tensor{
		Name:      name,
		DType:     Float32,
		Shape:     shape,
		FloatData: data,
	})
}

// AddBitTensor appends a Bit tensor record holding packed weights.
func (b *ModelBuilder) AddBitTensor(name string, data []uint64, shape []int, alignHWCTo128 bool) {
	b.tensors = append(b.tensors, &Tensor{
		Name:          name,
		DType:         Bit,
		Shape:         shape,
		BitData:       data,
		AlignHWCTo128: alignHWCTo128,
	})
}

// AddLayer appends a layer record.
func (b *ModelBuilder) AddLayer(layer *Layer) {
	b.layers = append(b.layers, layer)
}

// Inputs returns the input records appended so far.
func (b *ModelBuilder) Inputs() []*Input { return b.inputs }

// Tensors returns the tensor records appended so far.
func (b *ModelBuilder) Tensors() []*Tensor { return b.tensors }

// Layers returns the layer records appended so far.
func (b *ModelBuilder) Layers() []*Layer { return b.layers }

// Finish serializes all records into a model blob.
func (b *ModelBuilder) Finish() ([]byte, error) {
	w := &blobWriter{}
	w.raw([]byte(Magic))
	w.u32(LatestModelVersion)

	w.u32(uint32(len(b.inputs)))
	for _, input := range b.inputs {
		w.str(input.Name)
		w.dims(input.Shape)
	}

	w.u32(uint32(len(b.tensors)))
	for _, tensor := range b.tensors {
		if err := w.tensor(tensor); err != nil {
			return nil, err
		}
	}

	w.u32(uint32(len(b.layers)))
	for _, layer := range b.layers {
		if err := w.layer(layer); err != nil {
			return nil, err
		}
	}
	return w.buf.Bytes(), nil
}

// blobWriter appends little-endian scalars, strings and aligned payloads.
// Writes to a bytes.Buffer cannot fail, so only record-level validation
// returns errors.
type blobWriter struct {
	buf bytes.Buffer
}

func (w *blobWriter) raw(p []byte) {
	w.buf.Write(p)
}

func (w *blobWriter) u32(v uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	w.buf.Write(scratch[:])
}

func (w *blobWriter) u64(v uint64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], v)
	w.buf.Write(scratch[:])
}

func (w *blobWriter) i32(v int) {
	w.u32(uint32(int32(v)))
}

func (w *blobWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *blobWriter) dims(dims []int) {
	w.u32(uint32(len(dims)))
	for _, d := range dims {
		w.i32(d)
	}
}

// align pads the buffer with zero bytes up to the next multiple of
// DataAlignment.
func (w *blobWriter) align() {
	for w.buf.Len()%DataAlignment != 0 {
		w.buf.WriteByte(0)
	}
}

func (w *blobWriter) tensor(t *Tensor) error {
	w.str(t.Name)
	w.u32(uint32(t.DType))
	w.dims(t.Shape)
	var alignFlag uint32
	if t.AlignHWCTo128 {
		alignFlag = 1
	}
	w.u32(alignFlag)
	switch t.DType {
	case Float32:
		if t.BitData != nil {
			return errors.Errorf("Float32 tensor %q carries bit data", t.Name)
		}
		w.u32(uint32(len(t.FloatData)))
		w.align()
		for _, v := range t.FloatData {
			w.u32(math.Float32bits(v))
		}
	case Bit:
		if t.FloatData != nil {
			return errors.Errorf("Bit tensor %q carries float data", t.Name)
		}
		w.u32(uint32(len(t.BitData)))
		w.align()
		for _, v := range t.BitData {
			w.u64(v)
		}
	default:
		return errors.Errorf("tensor %q has unknown data type %d", t.Name, t.DType)
	}
	return nil
}

func (w *blobWriter) layer(l *Layer) error {
	w.u32(uint32(l.Type))
	switch l.Type {
	case LayerBinConv2D:
		p := l.BinConv2D
		if p == nil {
			return errors.New("BinConv2D layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Weight)
		w.str(p.Output)
		w.dims(p.Pads)
		w.dims(p.Strides)
		w.dims(p.Dilations)
	case LayerFpConv2D:
		p := l.FpConv2D
		if p == nil {
			return errors.New("FpConv2D layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Weight)
		w.str(p.Bias)
		w.str(p.Output)
		w.dims(p.Pads)
		w.dims(p.Strides)
		w.dims(p.Dilations)
	case LayerAvePool:
		p := l.AvePool
		if p == nil {
			return errors.New("AvePool layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Output)
		w.dims(p.Kernel)
		w.dims(p.Pads)
		w.dims(p.Strides)
	case LayerMaxPool:
		p := l.MaxPool
		if p == nil {
			return errors.New("MaxPool layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Output)
		w.dims(p.Kernel)
		w.dims(p.Pads)
		w.dims(p.Strides)
	case LayerRelu:
		p := l.Relu
		if p == nil {
			return errors.New("Relu layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Output)
	case LayerPRelu:
		p := l.PRelu
		if p == nil {
			return errors.New("PRelu layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Slope)
		w.str(p.Output)
	case LayerAdd:
		p := l.Add
		if p == nil {
			return errors.New("Add layer without parameters")
		}
		w.str(p.Input1)
		w.str(p.Input2)
		w.str(p.Output)
	case LayerConcat:
		p := l.Concat
		if p == nil {
			return errors.New("Concat layer without parameters")
		}
		w.u32(uint32(len(p.Inputs)))
		for _, name := range p.Inputs {
			w.str(name)
		}
		w.i32(p.Axis)
		w.str(p.Output)
	case LayerSoftmax:
		p := l.Softmax
		if p == nil {
			return errors.New("Softmax layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Output)
	case LayerFC:
		p := l.FC
		if p == nil {
			return errors.New("FC layer without parameters")
		}
		w.str(p.Input)
		w.str(p.Weight)
		w.str(p.Bias)
		w.str(p.Output)
	case LayerAffine:
		p := l.Affine
		if p == nil {
			return errors.New("Affine layer without parameters")
		}
		w.str(p.Input)
		w.str(p.A)
		w.str(p.B)
		w.str(p.Output)
	default:
		return errors.Errorf("unknown layer type %d", l.Type)
	}
	return nil
}
