package bnn

import "github.com/gomlx/exceptions"

// Bipolar weight packing. Each float maps to one bit: positive → 1,
// non-positive → 0, packed LSB-first into 64-bit words. This convention must
// match the runtime unpacker.

// packWord packs bits values from vals into one word, LSB-first. Unused high
// bits are zero.
func packWord(vals []float32, bits int) uint64 {
	var word uint64
	for i := 0; i < bits; i++ {
		if vals[i] > 0 {
			word |= 1 << uint(i)
		}
	}
	return word
}

// bitpack converts an NHWC float weight tensor into its packed binary form.
//
// When C == 64 every 64 consecutive elements become one word with no
// padding. Otherwise each of the N filters is walked along its HWC axis in
// strides of 128 elements, emitting two words per stride (the tail bits of
// each word are zero), so every filter contributes 2*ceil(HWC/128) words and
// the runtime can load filters at 128-bit alignment.
func bitpack(ftensor *FTensor) *BTensor {
	if len(ftensor.Shape) != 4 {
		exceptions.Panicf("bitpack needs a 4-D NHWC tensor, got shape %s", ftensor.Shape)
	}
	n := ftensor.Shape[0]
	c := ftensor.Shape[3]
	total := ftensor.Shape.Size()
	hwc := total / n

	shape := append(Shape(nil), ftensor.Shape...)
	alignHWCTo128 := c != 64
	if !alignHWCTo128 {
		packed := make([]uint64, 0, total/64)
		for i := 0; i < total; i += 64 {
			packed = append(packed, packWord(ftensor.Data[i:], 64))
		}
		return &BTensor{Data: packed, Shape: shape, AlignHWCTo128: false}
	}

	packed := make([]uint64, 0, n*2*((hwc+127)/128))
	for filter := 0; filter < n; filter++ {
		base := filter * hwc
		for i := 0; i < hwc; i += 128 {
			eff := hwc - i
			if eff > 128 {
				eff = 128
			}
			packed = append(packed, packWord(ftensor.Data[base+i:], min(eff, 64)))
			if eff > 64 {
				packed = append(packed, packWord(ftensor.Data[base+i+64:], eff-64))
			} else {
				packed = append(packed, 0)
			}
		}
	}
	return &BTensor{Data: packed, Shape: shape, AlignHWCTo128: true}
}
