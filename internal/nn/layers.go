package nn

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

func constants(b *graph.Builder, params ...*Parameter) ([]graph.Ref, error) {
	refs := make([]graph.Ref, 0, len(params))

	for _, p := range params {
		if p == nil {
			continue
		}

		r, err := b.Constant(p.Name, p.Value)
		if err != nil {
			return nil, err
		}

		refs = append(refs, r)
	}

	return refs, nil
}

func params(ps ...*Parameter) []Parameter {
	out := make([]Parameter, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, *p)
		}
	}

	return out
}

func valueOf(p *Parameter) *tensor.Tensor {
	if p == nil {
		return nil
	}

	return p.Value
}

// Linear applies y = x W^T + b over the last dimension.
type Linear struct {
	Weight Parameter
	Bias   *Parameter
}

func NewLinear(in *Init, name string, inFeatures, outFeatures int64) *Linear {
	return &Linear{
		Weight: Parameter{Name: name + ".weight", Value: in.FanIn([]int64{outFeatures, inFeatures}, inFeatures)},
		Bias:   &Parameter{Name: name + ".bias", Value: in.FanIn([]int64{outFeatures}, inFeatures)},
	}
}

func (l *Linear) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(graph.OpLinear)
	return tensor.Linear(x, l.Weight.Value, valueOf(l.Bias))
}

func (l *Linear) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	refs, err := constants(b, &l.Weight, l.Bias)
	if err != nil {
		return 0, err
	}

	return b.Op(graph.OpLinear, graph.Attrs{}, append([]graph.Ref{x}, refs...)...)
}

func (l *Linear) Parameters() []Parameter {
	return params(&l.Weight, l.Bias)
}

// Conv1D is a grouped 1-D convolution over [batch, channels, length].
type Conv1D struct {
	Weight Parameter
	Bias   *Parameter
	Params ops.Conv1DParams
}

func NewConv1D(in *Init, name string, inCh, outCh, kernel int64, p ops.Conv1DParams) *Conv1D {
	if p.Stride == 0 {
		p.Stride = 1
	}

	if p.Dilation == 0 {
		p.Dilation = 1
	}

	if p.Groups == 0 {
		p.Groups = 1
	}

	fanIn := inCh / p.Groups * kernel

	return &Conv1D{
		Weight: Parameter{Name: name + ".weight", Value: in.FanIn([]int64{outCh, inCh / p.Groups, kernel}, fanIn)},
		Bias:   &Parameter{Name: name + ".bias", Value: in.FanIn([]int64{outCh}, fanIn)},
		Params: p,
	}
}

func (c *Conv1D) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(graph.OpConv1D)
	return ops.Conv1D(x, c.Weight.Value, valueOf(c.Bias), c.Params)
}

func (c *Conv1D) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	refs, err := constants(b, &c.Weight, c.Bias)
	if err != nil {
		return 0, err
	}

	attrs := graph.Attrs{Ints: []int64{c.Params.Stride, c.Params.Padding, c.Params.Dilation, c.Params.Groups}}

	return b.Op(graph.OpConv1D, attrs, append([]graph.Ref{x}, refs...)...)
}

func (c *Conv1D) Parameters() []Parameter {
	return params(&c.Weight, c.Bias)
}

// LayerNorm normalizes the last dimension.
type LayerNorm struct {
	Weight Parameter
	Bias   Parameter
	Eps    float32
}

func NewLayerNorm(in *Init, name string, dim int64) *LayerNorm {
	w := in.Normal([]int64{dim}, 0.1)
	w = tensor.Map(w, func(v float32) float32 { return 1 + v })

	return &LayerNorm{
		Weight: Parameter{Name: name + ".weight", Value: w},
		Bias:   Parameter{Name: name + ".bias", Value: in.Normal([]int64{dim}, 0.1)},
		Eps:    1e-5,
	}
}

func (n *LayerNorm) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(graph.OpLayerNorm)
	return tensor.LayerNorm(x, n.Weight.Value, n.Bias.Value, n.Eps)
}

func (n *LayerNorm) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	refs, err := constants(b, &n.Weight, &n.Bias)
	if err != nil {
		return 0, err
	}

	return b.Op(graph.OpLayerNorm, graph.Attrs{Float: float64(n.Eps)}, append([]graph.Ref{x}, refs...)...)
}

func (n *LayerNorm) Parameters() []Parameter {
	return params(&n.Weight, &n.Bias)
}

// Activation applies a named element-wise activation.
type Activation struct {
	Name string
}

func NewActivation(name string) (*Activation, error) {
	if !ops.IsActivation(name) {
		return nil, fmt.Errorf("nn: unknown activation %q", name)
	}

	return &Activation{Name: name}, nil
}

// MustActivation is NewActivation for names known at compile time.
func MustActivation(name string) *Activation {
	a, err := NewActivation(name)
	if err != nil {
		panic(err)
	}

	return a
}

func (a *Activation) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(a.Name)
	return ops.Activate(a.Name, x)
}

func (a *Activation) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	return b.Op(graph.OpAct, graph.Attrs{Name: a.Name}, x)
}

func (a *Activation) Parameters() []Parameter { return nil }

// Dropout zeroes elements with probability P in training mode and scales
// survivors by 1/(1-P). In inference mode it is the identity.
type Dropout struct {
	P float64
}

func NewDropout(p float64) *Dropout {
	return &Dropout{P: p}
}

func (d *Dropout) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if !ctx.Training() || d.P <= 0 {
		return x, nil
	}

	ctx.Record(graph.OpDropout)

	if d.P >= 1 {
		return tensor.Zeros(x.Shape())
	}

	if ctx.rng == nil {
		return nil, fmt.Errorf("nn: dropout in training mode needs a seeded context")
	}

	keep := float32(1 / (1 - d.P))

	return tensor.Map(x, func(v float32) float32 {
		if ctx.rng.Float64() < d.P {
			return 0
		}

		return v * keep
	}), nil
}

func (d *Dropout) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	return b.Op(graph.OpDropout, graph.Attrs{Float: d.P}, x)
}

func (d *Dropout) Parameters() []Parameter { return nil }

// GlobalAvgPool averages over the last dimension and drops it.
type GlobalAvgPool struct{}

func (GlobalAvgPool) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx.Record(graph.OpMean)
	return tensor.Mean(x, -1, false)
}

func (GlobalAvgPool) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	return b.Op(graph.OpMean, graph.Attrs{Ints: []int64{-1, 0}}, x)
}

func (GlobalAvgPool) Parameters() []Parameter { return nil }

// Sequential chains layers.
type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Forward(ctx, x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	return x, nil
}

func (s *Sequential) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Trace(b, x)
		if err != nil {
			return 0, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	return x, nil
}

func (s *Sequential) Parameters() []Parameter {
	return CollectParameters(s.Layers...)
}
