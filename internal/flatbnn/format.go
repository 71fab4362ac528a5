// Package flatbnn defines the runtime-ready model artifact: typed layer and
// tensor records collected by a ModelBuilder and serialized into a single
// deterministic binary blob.
//
// File layout:
//
//	[magic "BNNM"] [version u32]
//	[input count u32]  [inputs...]
//	[tensor count u32] [tensors...]   (payloads 64-byte aligned)
//	[layer count u32]  [layers...]
//
// All scalars are little-endian. Strings are a u32 length followed by raw
// bytes. The writer is append-only, so equal record sequences serialize to
// byte-identical blobs.
package flatbnn

const (
	// LatestModelVersion is written into every emitted artifact and checked
	// by the runtime loader.
	LatestModelVersion uint32 = 1

	// Magic identifies a flatbnn model blob.
	Magic = "BNNM"

	// DataAlignment is the byte alignment of tensor payloads within the
	// blob, allowing the runtime to read them in place.
	DataAlignment = 64
)

// DataType is the element type of a serialized tensor.
type DataType uint32

const (
	Float32 DataType = 1
	Bit     DataType = 2
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Bit:
		return "Bit"
	default:
		return "DataType(?)"
	}
}

// LayerType tags the parameter variant carried by a Layer.
type LayerType uint32

const (
	LayerBinConv2D LayerType = iota + 1
	LayerFpConv2D
	LayerAvePool
	LayerMaxPool
	LayerRelu
	LayerPRelu
	LayerAdd
	LayerConcat
	LayerSoftmax
	LayerFC
	LayerAffine
)

func (t LayerType) String() string {
	switch t {
	case LayerBinConv2D:
		return "BinConv2D"
	case LayerFpConv2D:
		return "FpConv2D"
	case LayerAvePool:
		return "AvePool"
	case LayerMaxPool:
		return "MaxPool"
	case LayerRelu:
		return "Relu"
	case LayerPRelu:
		return "PRelu"
	case LayerAdd:
		return "Add"
	case LayerConcat:
		return "Concat"
	case LayerSoftmax:
		return "Softmax"
	case LayerFC:
		return "FC"
	case LayerAffine:
		return "Affine"
	default:
		return "LayerType(?)"
	}
}

// Input declares a graph input and its NHWC shape.
type Input struct {
	Name  string
	Shape []int
}

// Tensor is a serialized constant: float data for Float32, packed 64-bit
// words for Bit. AlignHWCTo128 records the packed layout of a Bit tensor
// whose channel count is not 64.
type Tensor struct {
	Name          string
	DType         DataType
	Shape         []int
	FloatData     []float32
	BitData       []uint64
	AlignHWCTo128 bool
}

// Layer is a tagged union: Type selects which parameter struct is set.
type Layer struct {
	Type      LayerType
	BinConv2D *BinConv2D
	FpConv2D  *FpConv2D
	AvePool   *AvePool
	MaxPool   *MaxPool
	Relu      *Relu
	PRelu     *PRelu
	Add       *Add
	Concat    *Concat
	Softmax   *Softmax
	FC        *FC
	Affine    *Affine
}

// BinConv2D is a binary-weight convolution.
type BinConv2D struct {
	Input     string
	Weight    string
	Output    string
	Pads      []int
	Strides   []int
	Dilations []int
}

// FpConv2D is a float convolution with an optional bias tensor.
type FpConv2D struct {
	Input     string
	Weight    string
	Bias      string
	Output    string
	Pads      []int
	Strides   []int
	Dilations []int
}

// AvePool is average pooling; kernel (-1,-1) selects the global form.
type AvePool struct {
	Input   string
	Output  string
	Kernel  []int
	Pads    []int
	Strides []int
}

// MaxPool is max pooling; kernel (-1,-1) selects the global form.
type MaxPool struct {
	Input   string
	Output  string
	Kernel  []int
	Pads    []int
	Strides []int
}

type Relu struct {
	Input  string
	Output string
}

// PRelu applies a per-channel slope held in a 1-D Float32 tensor.
type PRelu struct {
	Input  string
	Slope  string
	Output string
}

type Add struct {
	Input1 string
	Input2 string
	Output string
}

// Concat joins inputs along an axis given in the target (NHWC) layout.
type Concat struct {
	Inputs []string
	Axis   int
	Output string
}

type Softmax struct {
	Input  string
	Output string
}

// FC is a fully-connected layer with an optional bias tensor.
type FC struct {
	Input  string
	Weight string
	Bias   string
	Output string
}

// Affine is the per-channel y = a*x + b layer absorbing folded
// batch-normalization coefficients.
type Affine struct {
	Input  string
	A      string
	B      string
	Output string
}
