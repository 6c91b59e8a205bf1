package models

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// singleInput adapts a layer to a one-input, one-tensor-output model.
type singleInput struct {
	*nn.Base
	body nn.Layer
}

func newSingleInput(id ID, body nn.Layer) *singleInput {
	return &singleInput{Base: nn.NewBase(id.String(), seedFor(id)), body: body}
}

func (m *singleInput) Forward(ctx *nn.Context, inputs []*tensor.Tensor) (value.Value, error) {
	if len(inputs) != 1 {
		return value.Value{}, fmt.Errorf("%s: want 1 input, got %d", m.Name(), len(inputs))
	}

	out, err := m.body.Forward(ctx, inputs[0])
	if err != nil {
		return value.Value{}, fmt.Errorf("%s: %w", m.Name(), err)
	}

	return value.Of(out), nil
}

func (m *singleInput) Trace(b *graph.Builder, inputs []graph.Ref) (graph.Output, error) {
	if len(inputs) != 1 {
		return graph.Output{}, fmt.Errorf("%s: want 1 input, got %d", m.Name(), len(inputs))
	}

	out, err := m.body.Trace(b, inputs[0])
	if err != nil {
		return graph.Output{}, fmt.Errorf("%s: %w", m.Name(), err)
	}

	return graph.Single(out), nil
}

func (m *singleInput) Parameters() []nn.Parameter {
	return m.body.Parameters()
}
