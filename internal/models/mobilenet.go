package models

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

const numClasses = 10

// mobileNet builds stem -> bottlenecks -> 1x1 head conv -> pool -> classifier.
func mobileNet(in *nn.Init, stemAct string, blocks []nn.InvertedResidualConfig, headCh int64, classifier ...nn.Layer) (*nn.Sequential, error) {
	layers := []nn.Layer{
		nn.NewConv1D(in, "features.stem", 3, blocks[0].In, 3, ops.Conv1DParams{Stride: 2, Padding: 1}),
		nn.MustActivation(stemAct),
	}

	for i, cfg := range blocks {
		ir, err := nn.NewInvertedResidual(in, blockName(i), cfg)
		if err != nil {
			return nil, err
		}

		layers = append(layers, ir)
	}

	last := blocks[len(blocks)-1].Out
	layers = append(layers,
		nn.NewConv1D(in, "features.head", last, headCh, 1, ops.Conv1DParams{}),
		nn.MustActivation(stemAct),
		nn.GlobalAvgPool{},
	)
	layers = append(layers, classifier...)

	return nn.NewSequential(layers...), nil
}

func blockName(i int) string {
	return fmt.Sprintf("features.%d", i+1)
}

func newMV2() (nn.Module, []*tensor.Tensor, error) {
	in := nn.NewInit(seedFor(MV2))

	body, err := mobileNet(in, ops.ActReLU6, []nn.InvertedResidualConfig{
		{In: 8, Out: 8, Expand: 2, Kernel: 3, Stride: 1, Activation: ops.ActReLU6},
		{In: 8, Out: 12, Expand: 2, Kernel: 3, Stride: 2, Activation: ops.ActReLU6},
		{In: 12, Out: 12, Expand: 2, Kernel: 3, Stride: 1, Activation: ops.ActReLU6},
	}, 32,
		nn.NewDropout(0.2),
		nn.NewLinear(in, "classifier", 32, numClasses),
	)
	if err != nil {
		return nil, nil, err
	}

	return newSingleInput(MV2, body), exampleInputs(MV2, []int64{1, 3, 32}), nil
}

func newMV3() (nn.Module, []*tensor.Tensor, error) {
	in := nn.NewInit(seedFor(MV3))

	body, err := mobileNet(in, ops.ActHardSwish, []nn.InvertedResidualConfig{
		{In: 8, Out: 8, Expand: 1, Kernel: 3, Stride: 1, Activation: ops.ActReLU, SE: true},
		{In: 8, Out: 12, Expand: 3, Kernel: 3, Stride: 2, Activation: ops.ActReLU},
		{In: 12, Out: 12, Expand: 3, Kernel: 5, Stride: 1, Activation: ops.ActHardSwish, SE: true},
	}, 24,
		nn.NewLinear(in, "classifier.0", 24, 32),
		nn.MustActivation(ops.ActHardSwish),
		nn.NewDropout(0.2),
		nn.NewLinear(in, "classifier.3", 32, numClasses),
	)
	if err != nil {
		return nil, nil, err
	}

	return newSingleInput(MV3, body), exampleInputs(MV3, []int64{1, 3, 32}), nil
}
