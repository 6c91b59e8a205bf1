package models

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

const (
	emformerDim     = 16
	emformerSegment = 8
	emformerMemory  = 4
)

// emformer processes one segment of a stream. The segment attends over the
// memory bank plus itself; the returned state is the memory bank for the
// next segment, with the oldest slot dropped and the segment summary
// appended. The lengths input is accepted for interface parity; segments are
// always full.
type emformer struct {
	*nn.Base
	ln1  *nn.LayerNorm
	attn *nn.Attention
	ln2  *nn.LayerNorm
	ffn  *nn.Sequential
}

func newEmformer() (nn.Module, []*tensor.Tensor, error) {
	in := nn.NewInit(seedFor(Emformer))

	m := &emformer{
		Base: nn.NewBase(Emformer.String(), seedFor(Emformer)),
		ln1:  nn.NewLayerNorm(in, "layer.ln_in", emformerDim),
		attn: nn.NewAttention(in, "layer.attention", emformerDim, false),
		ln2:  nn.NewLayerNorm(in, "layer.ln_ffn", emformerDim),
		ffn: nn.NewSequential(
			nn.NewLinear(in, "layer.ffn.0", emformerDim, 2*emformerDim),
			nn.MustActivation(ops.ActGELU),
			nn.NewDropout(0.1),
			nn.NewLinear(in, "layer.ffn.3", 2*emformerDim, emformerDim),
		),
	}

	inputs := exampleInputs(Emformer, []int64{1, emformerSegment, emformerDim}, []int64{1, emformerMemory, emformerDim})
	lengths := tensor.MustNew([]float32{emformerSegment}, []int64{1})

	return m, []*tensor.Tensor{inputs[0], lengths, inputs[1]}, nil
}

func (m *emformer) checkInputs(n int) error {
	if n != 3 {
		return fmt.Errorf("%s: want (segment, lengths, memory), got %d inputs", m.Name(), n)
	}

	return nil
}

func (m *emformer) Forward(ctx *nn.Context, inputs []*tensor.Tensor) (value.Value, error) {
	if err := m.checkInputs(len(inputs)); err != nil {
		return value.Value{}, err
	}

	segment, memory := inputs[0], inputs[2]

	ctx.Record(graph.OpConcat)

	kv, err := tensor.Concat([]*tensor.Tensor{memory, segment}, 1)
	if err != nil {
		return value.Value{}, err
	}

	q, err := m.ln1.Forward(ctx, segment)
	if err != nil {
		return value.Value{}, err
	}

	if kv, err = m.ln1.Forward(ctx, kv); err != nil {
		return value.Value{}, err
	}

	att, err := m.attn.Attend(ctx, q, kv)
	if err != nil {
		return value.Value{}, err
	}

	x, err := tensor.Add(segment, att)
	if err != nil {
		return value.Value{}, err
	}

	h, err := nn.NewSequential(m.ln2, m.ffn).Forward(ctx, x)
	if err != nil {
		return value.Value{}, err
	}

	if x, err = tensor.Add(x, h); err != nil {
		return value.Value{}, err
	}

	summary, err := tensor.Mean(x, 1, true)
	if err != nil {
		return value.Value{}, err
	}

	kept, err := memory.Narrow(1, 1, emformerMemory-1)
	if err != nil {
		return value.Value{}, err
	}

	state, err := tensor.Concat([]*tensor.Tensor{kept, summary}, 1)
	if err != nil {
		return value.Value{}, err
	}

	return value.Tensors(x, state), nil
}

func (m *emformer) Trace(b *graph.Builder, inputs []graph.Ref) (graph.Output, error) {
	if err := m.checkInputs(len(inputs)); err != nil {
		return graph.Output{}, err
	}

	segment, memory := inputs[0], inputs[2]

	kv, err := b.Op(graph.OpConcat, graph.Attrs{Ints: []int64{1}}, memory, segment)
	if err != nil {
		return graph.Output{}, err
	}

	q, err := m.ln1.Trace(b, segment)
	if err != nil {
		return graph.Output{}, err
	}

	if kv, err = m.ln1.Trace(b, kv); err != nil {
		return graph.Output{}, err
	}

	att, err := m.attn.TraceAttend(b, q, kv)
	if err != nil {
		return graph.Output{}, err
	}

	x, err := b.Op(graph.OpAdd, graph.Attrs{}, segment, att)
	if err != nil {
		return graph.Output{}, err
	}

	h, err := nn.NewSequential(m.ln2, m.ffn).Trace(b, x)
	if err != nil {
		return graph.Output{}, err
	}

	if x, err = b.Op(graph.OpAdd, graph.Attrs{}, x, h); err != nil {
		return graph.Output{}, err
	}

	summary, err := b.Op(graph.OpMean, graph.Attrs{Ints: []int64{1, 1}}, x)
	if err != nil {
		return graph.Output{}, err
	}

	kept, err := b.Op(graph.OpNarrow, graph.Attrs{Ints: []int64{1, 1, emformerMemory - 1}}, memory)
	if err != nil {
		return graph.Output{}, err
	}

	state, err := b.Op(graph.OpConcat, graph.Attrs{Ints: []int64{1}}, kept, summary)
	if err != nil {
		return graph.Output{}, err
	}

	return graph.Tuple(graph.Single(x), graph.Single(state)), nil
}

func (m *emformer) Parameters() []nn.Parameter {
	return nn.CollectParameters(m.ln1, m.attn, m.ln2, m.ffn)
}
