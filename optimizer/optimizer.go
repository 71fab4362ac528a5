// Package optimizer implements the graph-optimizer port consumed by the
// converter: a registry of named passes applied in order to an ONNX model.
package optimizer

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dabnn-go/onnx2bnn/internal/protos"
)

// Pass rewrites a model in place.
type Pass func(model *protos.ModelProto) error

// Registry maps pass names to implementations.
type Registry struct {
	passes map[string]Pass
}

// New returns a registry with the built-in passes registered.
func New() *Registry {
	r := &Registry{passes: make(map[string]Pass)}
	r.Register("eliminate_nop_pad", eliminateNopPad)
	r.Register("extract_constant_to_initializer", extractConstantToInitializer)
	r.Register("dabnn_bconv_strict", markBinaryConvs(recognizeStrict))
	r.Register("dabnn_bconv_moderate", markBinaryConvs(recognizeModerate))
	r.Register("dabnn_bconv_aggressive", markBinaryConvs(recognizeAggressive))
	return r
}

// Register adds or replaces a named pass.
func (r *Registry) Register(name string, pass Pass) {
	r.passes[name] = pass
}

// Optimize applies the named passes in order and returns the model. An
// unknown pass name is an error.
func (r *Registry) Optimize(model *protos.ModelProto, passes []string) (*protos.ModelProto, error) {
	if model.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	for _, name := range passes {
		pass, found := r.passes[name]
		if !found {
			return nil, errors.Errorf("unknown optimizer pass %q", name)
		}
		if err := pass(model); err != nil {
			return nil, errors.WithMessagef(err, "running pass %q", name)
		}
	}
	return model, nil
}

// eliminateNopPad removes Pad nodes whose paddings are statically all zero,
// splicing consumers onto the pad's input. Pads feeding a graph output are
// left alone so output names stay stable.
func eliminateNopPad(model *protos.ModelProto) error {
	g := model.Graph
	initializers := initializerByName(g)
	graphOutputs := make(map[string]bool)
	for _, output := range g.Output {
		graphOutputs[output.Name] = true
	}

	renames := make(map[string]string)
	kept := g.Node[:0]
	for _, node := range g.Node {
		for i, input := range node.Input {
			if mapped, found := renames[input]; found {
				node.Input[i] = mapped
			}
		}
		if node.OpType != "Pad" || graphOutputs[node.Output[0]] {
			kept = append(kept, node)
			continue
		}
		pads, known := staticPads(node, initializers)
		if !known || !allZero(pads) {
			kept = append(kept, node)
			continue
		}
		klog.V(4).Infof("eliminating no-op Pad %q", node.Output[0])
		renames[node.Output[0]] = node.Input[0]
	}
	g.Node = kept
	return nil
}

// staticPads resolves a Pad node's paddings from its attribute or, for
// later opsets, from an initializer input.
func staticPads(node *protos.NodeProto, initializers map[string]*protos.TensorProto) ([]int64, bool) {
	for _, attr := range node.Attribute {
		if attr.Name == "pads" && attr.Type == protos.AttributeProto_INTS {
			return attr.Ints, true
		}
	}
	if len(node.Input) >= 2 {
		if t, found := initializers[node.Input[1]]; found {
			if t.Int64Data != nil {
				return t.Int64Data, true
			}
			if len(t.RawData) > 0 && len(t.RawData)%8 == 0 {
				pads := make([]int64, len(t.RawData)/8)
				for i := range pads {
					pads[i] = int64(binary.LittleEndian.Uint64(t.RawData[8*i:]))
				}
				return pads, true
			}
		}
	}
	return nil, false
}

func allZero(values []int64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

// extractConstantToInitializer moves the value of every Constant node into
// the graph initializer list, named after the node's output.
func extractConstantToInitializer(model *protos.ModelProto) error {
	g := model.Graph
	kept := g.Node[:0]
	for _, node := range g.Node {
		if node.OpType != "Constant" {
			kept = append(kept, node)
			continue
		}
		var value *protos.TensorProto
		for _, attr := range node.Attribute {
			if attr.Name == "value" && attr.Type == protos.AttributeProto_TENSOR {
				value = attr.T
			}
		}
		if value == nil {
			// Sparse or typed-scalar constants stay as nodes; the converter
			// rejects them later with a clear message.
			kept = append(kept, node)
			continue
		}
		value.Name = node.Output[0]
		g.Initializer = append(g.Initializer, value)
	}
	g.Node = kept
	return nil
}

// recognizer decides whether a Conv node is a binary convolution given its
// weight values and the graph context.
type recognizer func(weights []float32, ctx *graphContext, node *protos.NodeProto) bool

type graphContext struct {
	producers map[string]*protos.NodeProto
	bnInputs  map[string]bool
}

// markBinaryConvs tags recognized convolutions with the "dabnn" domain so
// the converter lowers them as BinConv2D.
func markBinaryConvs(recognize recognizer) Pass {
	return func(model *protos.ModelProto) error {
		g := model.Graph
		initializers := initializerByName(g)
		ctx := &graphContext{
			producers: make(map[string]*protos.NodeProto),
			bnInputs:  make(map[string]bool),
		}
		for _, node := range g.Node {
			for _, output := range node.Output {
				ctx.producers[output] = node
			}
			if node.OpType == "BatchNormalization" && len(node.Input) > 0 {
				ctx.bnInputs[node.Input[0]] = true
			}
		}
		for _, node := range g.Node {
			if node.OpType != "Conv" || node.Domain != "" || len(node.Input) < 2 {
				continue
			}
			// Binary convolutions feed a BatchNormalization that absorbs the
			// bipolar correction; without one the lowering would be wrong.
			if !ctx.bnInputs[node.Output[0]] {
				continue
			}
			weight, found := initializers[node.Input[1]]
			if !found {
				continue
			}
			values := floatValues(weight)
			if values == nil {
				continue
			}
			if recognize(values, ctx, node) {
				klog.V(4).Infof("recognized binary convolution %q", node.Output[0])
				node.Domain = "dabnn"
			}
		}
		return nil
	}
}

// recognizeStrict accepts only ±1 weights fed by a Sign activation.
func recognizeStrict(weights []float32, ctx *graphContext, node *protos.NodeProto) bool {
	if !allBipolar(weights) {
		return false
	}
	producer := ctx.producers[node.Input[0]]
	return producer != nil && producer.OpType == "Sign"
}

// recognizeModerate accepts ±1 weights regardless of the activation.
func recognizeModerate(weights []float32, _ *graphContext, _ *protos.NodeProto) bool {
	return allBipolar(weights)
}

// recognizeAggressive accepts any zero-free weights: the sign pattern alone
// is packed and the magnitude is assumed to be folded elsewhere.
func recognizeAggressive(weights []float32, _ *graphContext, _ *protos.NodeProto) bool {
	for _, v := range weights {
		if v == 0 {
			return false
		}
	}
	return true
}

func allBipolar(values []float32) bool {
	for _, v := range values {
		if v != 1 && v != -1 {
			return false
		}
	}
	return true
}

func initializerByName(g *protos.GraphProto) map[string]*protos.TensorProto {
	byName := make(map[string]*protos.TensorProto, len(g.Initializer))
	for _, t := range g.Initializer {
		byName[t.Name] = t
	}
	return byName
}

// floatValues returns a float initializer's values, or nil when the tensor
// is not float32.
func floatValues(t *protos.TensorProto) []float32 {
	if protos.TensorProto_DataType(t.DataType) != protos.TensorProto_FLOAT {
		return nil
	}
	if t.FloatData != nil {
		return t.FloatData
	}
	if len(t.RawData)%4 != 0 {
		return nil
	}
	values := make([]float32, len(t.RawData)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
	}
	return values
}
