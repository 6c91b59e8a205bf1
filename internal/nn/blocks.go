package nn

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Attention is single-head scaled dot-product attention with input and
// output projections.
type Attention struct {
	Q, K, V, Out *Linear
	Causal       bool
}

func NewAttention(in *Init, name string, dim int64, causal bool) *Attention {
	return &Attention{
		Q:      NewLinear(in, name+".q", dim, dim),
		K:      NewLinear(in, name+".k", dim, dim),
		V:      NewLinear(in, name+".v", dim, dim),
		Out:    NewLinear(in, name+".out", dim, dim),
		Causal: causal,
	}
}

// Attend lets query positions attend over kv positions.
func (a *Attention) Attend(ctx *Context, query, kv *tensor.Tensor) (*tensor.Tensor, error) {
	q, err := a.Q.Forward(ctx, query)
	if err != nil {
		return nil, err
	}

	k, err := a.K.Forward(ctx, kv)
	if err != nil {
		return nil, err
	}

	v, err := a.V.Forward(ctx, kv)
	if err != nil {
		return nil, err
	}

	ctx.Record(graph.OpAttention)

	h, err := ops.Attention(q, k, v, a.Causal, 0)
	if err != nil {
		return nil, err
	}

	return a.Out.Forward(ctx, h)
}

func (a *Attention) TraceAttend(b *graph.Builder, query, kv graph.Ref) (graph.Ref, error) {
	q, err := a.Q.Trace(b, query)
	if err != nil {
		return 0, err
	}

	k, err := a.K.Trace(b, kv)
	if err != nil {
		return 0, err
	}

	v, err := a.V.Trace(b, kv)
	if err != nil {
		return 0, err
	}

	h, err := b.Op(graph.OpAttention, graph.Attrs{Flag: a.Causal, Ints: []int64{0}}, q, k, v)
	if err != nil {
		return 0, err
	}

	return a.Out.Trace(b, h)
}

func (a *Attention) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return a.Attend(ctx, x, x)
}

func (a *Attention) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	return a.TraceAttend(b, x, x)
}

func (a *Attention) Parameters() []Parameter {
	return CollectParameters(a.Q, a.K, a.V, a.Out)
}

// SqueezeExcite rescales channels of [batch, channels, length] by a gate
// computed from their mean.
type SqueezeExcite struct {
	Reduce, Expand *Conv1D
}

func NewSqueezeExcite(in *Init, name string, channels, squeezed int64) *SqueezeExcite {
	return &SqueezeExcite{
		Reduce: NewConv1D(in, name+".fc1", channels, squeezed, 1, ops.Conv1DParams{}),
		Expand: NewConv1D(in, name+".fc2", squeezed, channels, 1, ops.Conv1DParams{}),
	}
}

func (s *SqueezeExcite) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(graph.OpMean)

	g, err := tensor.Mean(x, 2, true)
	if err != nil {
		return nil, err
	}

	steps := []Layer{s.Reduce, MustActivation(ops.ActReLU), s.Expand, MustActivation(ops.ActHardSigmoid)}
	for _, l := range steps {
		if g, err = l.Forward(ctx, g); err != nil {
			return nil, err
		}
	}

	ctx.Record(graph.OpMul)

	return tensor.Mul(x, g)
}

func (s *SqueezeExcite) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	g, err := b.Op(graph.OpMean, graph.Attrs{Ints: []int64{2, 1}}, x)
	if err != nil {
		return 0, err
	}

	steps := []Layer{s.Reduce, MustActivation(ops.ActReLU), s.Expand, MustActivation(ops.ActHardSigmoid)}
	for _, l := range steps {
		if g, err = l.Trace(b, g); err != nil {
			return 0, err
		}
	}

	return b.Op(graph.OpMul, graph.Attrs{}, x, g)
}

func (s *SqueezeExcite) Parameters() []Parameter {
	return CollectParameters(s.Reduce, s.Expand)
}

// InvertedResidualConfig describes one MobileNet bottleneck block.
type InvertedResidualConfig struct {
	In, Out    int64
	Expand     int64
	Kernel     int64
	Stride     int64
	Activation string
	SE         bool
}

// InvertedResidual is expand (1x1) -> depthwise -> optional squeeze-excite
// -> project (1x1), with a skip connection when shapes allow it.
type InvertedResidual struct {
	steps    []Layer
	residual bool
}

func NewInvertedResidual(in *Init, name string, cfg InvertedResidualConfig) (*InvertedResidual, error) {
	if cfg.Expand < 1 || cfg.Kernel < 1 || cfg.Stride < 1 {
		return nil, fmt.Errorf("nn: invalid inverted residual config %+v", cfg)
	}

	act, err := NewActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}

	hidden := cfg.In * cfg.Expand

	var steps []Layer
	if cfg.Expand != 1 {
		steps = append(steps, NewConv1D(in, name+".expand", cfg.In, hidden, 1, ops.Conv1DParams{}), act)
	}

	steps = append(steps,
		NewConv1D(in, name+".dw", hidden, hidden, cfg.Kernel, ops.Conv1DParams{
			Stride:  cfg.Stride,
			Padding: cfg.Kernel / 2,
			Groups:  hidden,
		}),
		act,
	)

	if cfg.SE {
		steps = append(steps, NewSqueezeExcite(in, name+".se", hidden, max(hidden/4, 1)))
	}

	steps = append(steps, NewConv1D(in, name+".project", hidden, cfg.Out, 1, ops.Conv1DParams{}))

	return &InvertedResidual{
		steps:    steps,
		residual: cfg.Stride == 1 && cfg.In == cfg.Out,
	}, nil
}

func (r *InvertedResidual) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := NewSequential(r.steps...).Forward(ctx, x)
	if err != nil {
		return nil, err
	}

	if !r.residual {
		return h, nil
	}

	ctx.Record(graph.OpAdd)

	return tensor.Add(x, h)
}

func (r *InvertedResidual) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	h, err := NewSequential(r.steps...).Trace(b, x)
	if err != nil {
		return 0, err
	}

	if !r.residual {
		return h, nil
	}

	return b.Op(graph.OpAdd, graph.Attrs{}, x, h)
}

func (r *InvertedResidual) Parameters() []Parameter {
	return CollectParameters(r.steps...)
}

// EncoderBlock is a pre-norm transformer block:
// x + attn(ln1(x)) followed by x + mlp(ln2(x)).
type EncoderBlock struct {
	LN1  *LayerNorm
	Attn *Attention
	LN2  *LayerNorm
	MLP  *Sequential
}

func NewEncoderBlock(in *Init, name string, dim, hidden int64, causal bool) *EncoderBlock {
	return &EncoderBlock{
		LN1:  NewLayerNorm(in, name+".ln1", dim),
		Attn: NewAttention(in, name+".attn", dim, causal),
		LN2:  NewLayerNorm(in, name+".ln2", dim),
		MLP: NewSequential(
			NewLinear(in, name+".mlp.fc1", dim, hidden),
			MustActivation(ops.ActGELU),
			NewLinear(in, name+".mlp.fc2", hidden, dim),
		),
	}
}

func (e *EncoderBlock) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	for _, sub := range []Layer{NewSequential(e.LN1, e.Attn), NewSequential(e.LN2, e.MLP)} {
		h, err := sub.Forward(ctx, x)
		if err != nil {
			return nil, err
		}

		ctx.Record(graph.OpAdd)

		if x, err = tensor.Add(x, h); err != nil {
			return nil, err
		}
	}

	return x, nil
}

func (e *EncoderBlock) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	for _, sub := range []Layer{NewSequential(e.LN1, e.Attn), NewSequential(e.LN2, e.MLP)} {
		h, err := sub.Trace(b, x)
		if err != nil {
			return 0, err
		}

		if x, err = b.Op(graph.OpAdd, graph.Attrs{}, x, h); err != nil {
			return 0, err
		}
	}

	return x, nil
}

func (e *EncoderBlock) Parameters() []Parameter {
	return CollectParameters(e.LN1, e.Attn, e.LN2, e.MLP)
}
