package flatbnn

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func buildSampleModel() *ModelBuilder {
	b := NewModelBuilder()
	b.AddInput("x", []int{1, 4, 4, 3})
	b.AddFloatTensor("w_conv_w", []float32{1, -1, 0.5}, []int{3})
	b.AddBitTensor("bw_conv_w", []uint64{0x7FFFFFF, 0}, []int{1, 3, 3, 3}, true)
	b.AddLayer(&Layer{
		Type: LayerBinConv2D,
		BinConv2D: &BinConv2D{
			Input:     "x",
			Weight:    "bw_conv_w",
			Output:    "y",
			Pads:      []int{0, 0, 0, 0},
			Strides:   []int{1, 1},
			Dilations: []int{1, 1},
		},
	})
	b.AddLayer(&Layer{
		Type: LayerRelu,
		Relu: &Relu{Input: "y", Output: "z"},
	})
	return b
}

func TestBuilderFinish(t *testing.T) {
	blob, err := buildSampleModel().Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if string(blob[:4]) != Magic {
		t.Errorf("magic = %q, want %q", blob[:4], Magic)
	}
	version := binary.LittleEndian.Uint32(blob[4:8])
	if version != LatestModelVersion {
		t.Errorf("version = %d, want %d", version, LatestModelVersion)
	}
	inputCount := binary.LittleEndian.Uint32(blob[8:12])
	if inputCount != 1 {
		t.Errorf("input count = %d, want 1", inputCount)
	}
}

func TestBuilderDeterministic(t *testing.T) {
	blobA, err := buildSampleModel().Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	blobB, err := buildSampleModel().Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !bytes.Equal(blobA, blobB) {
		t.Errorf("equal record sequences must serialize identically")
	}
}

func TestBuilderPayloadAlignment(t *testing.T) {
	b := NewModelBuilder()
	data := []float32{1, 2, 3, 4, 5}
	b.AddFloatTensor("w", data, []int{5})
	blob, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	// Locate the payload: the only run holding the little-endian bits.
	want := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(want[4*i:], math.Float32bits(v))
	}
	idx := bytes.Index(blob, want)
	if idx < 0 {
		t.Fatalf("payload not found in blob")
	}
	if idx%DataAlignment != 0 {
		t.Errorf("payload offset %d is not %d-byte aligned", idx, DataAlignment)
	}
}

func TestBuilderRejectsMismatchedUnion(t *testing.T) {
	b := NewModelBuilder()
	b.AddLayer(&Layer{Type: LayerRelu})
	if _, err := b.Finish(); err == nil {
		t.Errorf("Finish() must reject a layer without parameters")
	}
}

func TestBuilderRejectsMixedTensorData(t *testing.T) {
	b := NewModelBuilder()
	b.tensors = append(b.tensors, &Tensor{
		Name:      "bad",
		DType:     Bit,
		Shape:     []int{1},
		FloatData: []float32{1},
	})
	if _, err := b.Finish(); err == nil {
		t.Errorf("Finish() must reject a Bit tensor with float data")
	}
}
