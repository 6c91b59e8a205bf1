package models

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// identity returns its input unchanged.
type identity struct {
	*nn.Base
}

func newIdentity() (nn.Module, []*tensor.Tensor, error) {
	ones, err := tensor.Ones([]int64{1, 3, 4, 4})
	if err != nil {
		return nil, nil, err
	}

	return &identity{Base: nn.NewBase(Identity.String(), seedFor(Identity))}, []*tensor.Tensor{ones}, nil
}

func (m *identity) Forward(_ *nn.Context, inputs []*tensor.Tensor) (value.Value, error) {
	if len(inputs) != 1 {
		return value.Value{}, fmt.Errorf("identity: want 1 input, got %d", len(inputs))
	}

	return value.Of(inputs[0]), nil
}

func (m *identity) Trace(_ *graph.Builder, inputs []graph.Ref) (graph.Output, error) {
	if len(inputs) != 1 {
		return graph.Output{}, fmt.Errorf("identity: want 1 input, got %d", len(inputs))
	}

	return graph.Single(inputs[0]), nil
}

func (m *identity) Parameters() []nn.Parameter { return nil }

func newLinear() (nn.Module, []*tensor.Tensor, error) {
	body := nn.NewLinear(nn.NewInit(seedFor(Linear)), "fc", 4, 3)
	return newSingleInput(Linear, body), exampleInputs(Linear, []int64{2, 4}), nil
}

func newMLP() (nn.Module, []*tensor.Tensor, error) {
	in := nn.NewInit(seedFor(MLP))
	body := nn.NewSequential(
		nn.NewLinear(in, "fc1", 8, 16),
		nn.MustActivation(ops.ActGELU),
		nn.NewDropout(0.5),
		nn.NewLinear(in, "fc2", 16, 4),
	)

	return newSingleInput(MLP, body), exampleInputs(MLP, []int64{2, 8}), nil
}
