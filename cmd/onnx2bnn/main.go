// Command onnx2bnn lowers an ONNX model into a flatbnn artifact for the
// binary-weight inference engine.
//
// Usage:
//
//	onnx2bnn [flags] model.onnx model.dab
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/dabnn-go/onnx2bnn/bnn"
	"github.com/dabnn-go/onnx2bnn/optimizer"
)

func main() {
	klog.InitFlags(nil)
	levelFlag := flag.String("level", "strict", "binary convolution recognition level: strict, moderate or aggressive")
	binaryListFlag := flag.String("binary-list", "", "file listing tensor names that must be produced by binary convolutions, one per line")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <model.onnx> <output.dab>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := bnn.ParseLevel(*levelFlag)
	if err != nil {
		klog.Exitf("%v", err)
	}

	var expected []string
	if *binaryListFlag != "" {
		expected, err = readNameList(*binaryListFlag)
		if err != nil {
			klog.Exitf("reading binary list: %v", err)
		}
	}

	model, err := bnn.ReadFile(flag.Arg(0))
	if err != nil {
		klog.Exitf("%v", err)
	}

	converter := bnn.NewConverter(optimizer.New())
	binConvOutputs, err := converter.Convert(model, flag.Arg(1), level, expected)
	if err != nil {
		klog.Exitf("conversion failed: %v", err)
	}
	klog.Infof("wrote %s with %d binary convolution(s)", flag.Arg(1), len(binConvOutputs))
	for _, name := range binConvOutputs {
		fmt.Println(name)
	}
}

// readNameList reads one tensor name per line, skipping blanks.
func readNameList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}
