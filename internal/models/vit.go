package models

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

const (
	vitDim    = 16
	vitPatch  = 8
	vitLength = 32
	vitDepth  = 2
)

// vitBody: patch projection, class token, position embedding, encoder
// blocks, final norm and a head on the class token.
type vitBody struct {
	patch  *nn.Conv1D
	cls    nn.Parameter
	pos    nn.Parameter
	blocks []nn.Layer
	norm   *nn.LayerNorm
	head   *nn.Linear
}

func newViTBody(in *nn.Init) *vitBody {
	tokens := int64(vitLength/vitPatch + 1)

	v := &vitBody{
		patch: nn.NewConv1D(in, "patch_embed", 3, vitDim, vitPatch, ops.Conv1DParams{Stride: vitPatch}),
		cls:   nn.Parameter{Name: "cls_token", Value: in.Normal([]int64{1, 1, vitDim}, 0.02)},
		pos:   nn.Parameter{Name: "pos_embed", Value: in.Normal([]int64{1, tokens, vitDim}, 0.02)},
		norm:  nn.NewLayerNorm(in, "norm", vitDim),
		head:  nn.NewLinear(in, "head", vitDim, numClasses),
	}

	for i := range vitDepth {
		v.blocks = append(v.blocks, nn.NewEncoderBlock(in, fmt.Sprintf("blocks.%d", i), vitDim, 2*vitDim, false))
	}

	return v
}

func (v *vitBody) Forward(ctx *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := v.patch.Forward(ctx, x)
	if err != nil {
		return nil, err
	}

	if h, err = h.Transpose(1, 2); err != nil {
		return nil, err
	}

	ctx.Record(graph.OpConcat)

	if h, err = tensor.Concat([]*tensor.Tensor{v.cls.Value, h}, 1); err != nil {
		return nil, err
	}

	if h, err = tensor.Add(h, v.pos.Value); err != nil {
		return nil, err
	}

	if h, err = nn.NewSequential(v.blocks...).Forward(ctx, h); err != nil {
		return nil, err
	}

	if h, err = v.norm.Forward(ctx, h); err != nil {
		return nil, err
	}

	if h, err = h.Narrow(1, 0, 1); err != nil {
		return nil, err
	}

	if h, err = h.Reshape([]int64{-1, vitDim}); err != nil {
		return nil, err
	}

	return v.head.Forward(ctx, h)
}

func (v *vitBody) Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error) {
	h, err := v.patch.Trace(b, x)
	if err != nil {
		return 0, err
	}

	cls, err := b.Constant(v.cls.Name, v.cls.Value)
	if err != nil {
		return 0, err
	}

	pos, err := b.Constant(v.pos.Name, v.pos.Value)
	if err != nil {
		return 0, err
	}

	if h, err = b.Op(graph.OpTranspose, graph.Attrs{Ints: []int64{1, 2}}, h); err != nil {
		return 0, err
	}

	if h, err = b.Op(graph.OpConcat, graph.Attrs{Ints: []int64{1}}, cls, h); err != nil {
		return 0, err
	}

	if h, err = b.Op(graph.OpAdd, graph.Attrs{}, h, pos); err != nil {
		return 0, err
	}

	if h, err = nn.NewSequential(v.blocks...).Trace(b, h); err != nil {
		return 0, err
	}

	if h, err = v.norm.Trace(b, h); err != nil {
		return 0, err
	}

	if h, err = b.Op(graph.OpNarrow, graph.Attrs{Ints: []int64{1, 0, 1}}, h); err != nil {
		return 0, err
	}

	if h, err = b.Op(graph.OpReshape, graph.Attrs{Ints: []int64{-1, vitDim}}, h); err != nil {
		return 0, err
	}

	return v.head.Trace(b, h)
}

func (v *vitBody) Parameters() []nn.Parameter {
	ps := append(v.patch.Parameters(), v.cls, v.pos)
	ps = append(ps, nn.CollectParameters(v.blocks...)...)

	return append(ps, nn.CollectParameters(v.norm, v.head)...)
}

func newViT() (nn.Module, []*tensor.Tensor, error) {
	body := newViTBody(nn.NewInit(seedFor(ViT)))
	return newSingleInput(ViT, body), exampleInputs(ViT, []int64{1, 3, vitLength}), nil
}
