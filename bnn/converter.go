// Package bnn lowers an ONNX computation graph into a flatbnn model
// artifact for a binary-weight NN inference engine: it recognizes a fixed
// operator set, reinterprets layouts from NCHW to NHWC, bit-packs binary
// convolution weights and folds batch normalization into affine layers.
package bnn

import (
	"os"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dabnn-go/onnx2bnn/internal/flatbnn"
	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// Level selects how aggressively the optimizer recognizes binary
// convolutions.
type Level int

const (
	LevelStrict Level = iota
	LevelModerate
	LevelAggressive
)

func (l Level) String() string {
	switch l {
	case LevelStrict:
		return "strict"
	case LevelModerate:
		return "moderate"
	case LevelAggressive:
		return "aggressive"
	default:
		return "Level(?)"
	}
}

// ParseLevel decodes a level name as used by the CLI flag.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "strict":
		return LevelStrict, nil
	case "moderate":
		return LevelModerate, nil
	case "aggressive":
		return LevelAggressive, nil
	default:
		return LevelStrict, errors.Errorf("unknown optimization level %q", s)
	}
}

// Optimizer is the port to the external graph optimizer: it applies the
// named passes and returns the optimized model.
type Optimizer interface {
	Optimize(model *protos.ModelProto, passes []string) (*protos.ModelProto, error)
}

// nopOptimizer returns the model unchanged; used when no optimizer is
// injected (e.g. the graph was optimized upstream).
type nopOptimizer struct{}

func (nopOptimizer) Optimize(model *protos.ModelProto, _ []string) (*protos.ModelProto, error) {
	return model, nil
}

// ReadFile parses an ONNX model from disk.
func ReadFile(path string) (*protos.ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading ONNX model from %q", path)
	}
	model, err := protos.UnmarshalModel(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing ONNX model from %q", path)
	}
	return model, nil
}

// Converter drives one or more conversions with a fixed optimizer.
type Converter struct {
	optimizer Optimizer
}

// NewConverter returns a converter using the given optimizer port, or a
// pass-through port when optimizer is nil.
func NewConverter(optimizer Optimizer) *Converter {
	if optimizer == nil {
		optimizer = nopOptimizer{}
	}
	return &Converter{optimizer: optimizer}
}

// Convert lowers model into a flatbnn artifact written to filepath and
// returns the output names of the binary convolutions it emitted. Every
// name in expectedBinaryConvOutputs must be produced by a binary
// convolution, or the conversion fails. There is no partial output: on
// error nothing is written.
func (c *Converter) Convert(model *protos.ModelProto, filepath string, level Level, expectedBinaryConvOutputs []string) (binConvOutputs []string, err error) {
	conv := newConversion(c.optimizer, expectedBinaryConvOutputs)
	err = exceptions.TryCatch[error](func() {
		binConvOutputs = conv.run(model, filepath, level)
	})
	if err != nil {
		return nil, err
	}
	return binConvOutputs, nil
}

// Convert is the package-level convenience form of Converter.Convert for an
// already-optimized model.
func Convert(model *protos.ModelProto, filepath string, level Level, expectedBinaryConvOutputs []string) ([]string, error) {
	return NewConverter(nil).Convert(model, filepath, level, expectedBinaryConvOutputs)
}

// conversion is the mutable state of a single Convert call. All maps and
// record lists are mutated only by the driver walk, in graph order.
type conversion struct {
	optimizer Optimizer
	shaper    *Shaper
	tensors   *tensorStore
	builder   *flatbnn.ModelBuilder

	// nameMap splices transparent ops: a lookup through m returns the
	// mapped name or the name unchanged.
	nameMap map[string]string
	// known holds every initializer name, so trained-weight graph inputs
	// are not registered as runtime inputs.
	known map[string]bool
	// bnInputs holds the first input name of every BatchNormalization node,
	// for the binary-conv-precedes-BN check.
	bnInputs map[string]bool
	// binConvs maps a binary convolution's output name to its node, giving
	// the BN folder O(1) access to the fused conv.
	binConvs map[string]*protos.NodeProto

	expected       []string
	binConvOutputs []string
	hasReshape     bool
}

func newConversion(optimizer Optimizer, expected []string) *conversion {
	return &conversion{
		optimizer: optimizer,
		shaper:    newShaper(),
		tensors:   newTensorStore(),
		builder:   flatbnn.NewModelBuilder(),
		nameMap:   make(map[string]string),
		known:     make(map[string]bool),
		bnInputs:  make(map[string]bool),
		binConvs:  make(map[string]*protos.NodeProto),
		expected:  expected,
	}
}

// m resolves a tensor name through the splicing map.
func (c *conversion) m(name string) string {
	if mapped, found := c.nameMap[name]; found {
		return mapped
	}
	return name
}

func (c *conversion) run(model *protos.ModelProto, filepath string, level Level) []string {
	passes := []string{
		"eliminate_nop_pad",
		"extract_constant_to_initializer",
		"dabnn_bconv_strict",
	}
	if level >= LevelModerate {
		passes = append(passes, "dabnn_bconv_moderate")
	}
	if level == LevelAggressive {
		passes = append(passes, "dabnn_bconv_aggressive")
	}
	optimized, err := c.optimizer.Optimize(model, passes)
	if err != nil {
		panic(errors.WithMessage(err, "optimizing model"))
	}
	if optimized.Graph == nil {
		exceptions.Panicf("model has no graph")
	}
	graph := optimized.Graph

	for _, tensor := range graph.Initializer {
		if isFloatInitializer(tensor) {
			ft, err := tensorFromProto(tensor)
			if err != nil {
				panic(errors.WithMessage(err, "loading initializer"))
			}
			c.tensors.putFloat(tensor.Name, ft)
		}
		c.known[tensor.Name] = true
	}

	for _, input := range graph.Input {
		if c.known[input.Name] {
			continue
		}
		c.registerInput(input)
	}

	for _, node := range graph.Node {
		if node.OpType == "BatchNormalization" && len(node.Input) > 0 {
			c.bnInputs[node.Input[0]] = true
		}
	}

	for _, node := range graph.Node {
		if c.hasReshape {
			exceptions.Panicf("Reshape can only be the last layer, but %s follows one", nodeToString(node))
		}
		c.convertNode(node)
	}

	for _, expected := range c.expected {
		if !slices.Contains(c.binConvOutputs, expected) {
			exceptions.Panicf("%q is in the expected binary convolution list but the graph does not produce it as one", expected)
		}
	}

	blob, err := c.builder.Finish()
	if err != nil {
		panic(errors.WithMessage(err, "serializing model"))
	}
	klog.V(3).Infof("shapes:\n%s", c.shaper)
	if err := os.WriteFile(filepath, blob, 0o644); err != nil {
		panic(errors.WithMessagef(err, "writing model to %q", filepath))
	}
	return c.binConvOutputs
}

// registerInput reads a static (N,C,H,W) graph input shape and registers it
// as (N,H,W,C).
func (c *conversion) registerInput(input *protos.ValueInfoProto) {
	if input.Type == nil || input.Type.TensorType == nil || input.Type.TensorType.Shape == nil {
		exceptions.Panicf("graph input %q has no tensor shape", input.Name)
	}
	var shape Shape
	for _, dim := range input.Type.TensorType.Shape.Dim {
		if !dim.HasDimValue {
			exceptions.Panicf("graph input %q has no static dim_value", input.Name)
		}
		shape = append(shape, int(dim.DimValue))
	}
	if len(shape) != 4 {
		exceptions.Panicf("graph input %q must be 4-D (N,C,H,W), got %s", input.Name, shape)
	}
	nhwc := Shape{shape[0], shape[2], shape[3], shape[1]}
	c.shaper.Add(input.Name, nhwc)
	c.builder.AddInput(input.Name, nhwc)
}

// convertNode dispatches one node to its lowerer.
func (c *conversion) convertNode(node *protos.NodeProto) {
	klog.V(5).Infof("converting %s", nodeToString(node))
	switch node.OpType {
	case "Conv":
		c.convertConv(node)
	case "AveragePool", "MaxPool", "GlobalAveragePool", "GlobalMaxPool":
		c.convertPool(node)
	case "PRelu":
		c.convertPRelu(node)
	case "Relu":
		c.convertRelu(node)
	case "Add":
		c.convertAdd(node)
	case "Gemm":
		c.convertGemm(node)
	case "Softmax":
		c.convertSoftmax(node)
	case "Concat":
		c.convertConcat(node)
	case "Dropout":
		// Dropout is the identity at inference time; splice it away.
		c.nameMap[node.Output[0]] = c.m(node.Input[0])
	case "Reshape":
		// The runtime only tolerates a trailing reshape; it is dropped and
		// the walk verifies no further node follows.
		c.hasReshape = true
	case "BatchNormalization":
		c.convertBatchNormalization(node)
	default:
		exceptions.Panicf("unsupported operator %s", node.OpType)
	}
}
