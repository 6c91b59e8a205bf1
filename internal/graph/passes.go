package graph

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Rule rewrites one node into the builder. ins are the node's inputs already
// mapped into b. Returning ok=false copies the node unchanged.
type Rule func(b *Builder, n Node, ins []Ref) (r Ref, ok bool, err error)

// Pass transforms a whole graph.
type Pass struct {
	Name string
	Run  func(g *Graph, k *Kernels) (*Graph, error)
}

// RulePass wraps a node-level rule into a pass.
func RulePass(name string, rule Rule) Pass {
	return Pass{
		Name: name,
		Run: func(g *Graph, k *Kernels) (*Graph, error) {
			return Rewrite(g, k, rule)
		},
	}
}

// Rewrite rebuilds g node by node through rule. Graph inputs are fed with
// zero tensors of their recorded shapes, which is enough to re-derive every
// node shape.
func Rewrite(g *Graph, k *Kernels, rule Rule) (*Graph, error) {
	b := NewBuilder(k)
	remap := make([]Ref, len(g.Nodes))

	for _, n := range g.Nodes {
		ins := remapRefs(n.Inputs, remap)

		switch n.Op {
		case OpInput:
			zeros, err := tensor.Zeros(n.Shape)
			if err != nil {
				return nil, fmt.Errorf("graph: input %%%d: %w", n.ID, err)
			}

			remap[n.ID] = b.Input(zeros)

			continue
		case OpConst:
			r, err := b.Constant(n.Attrs.Name, g.Constants[n.Attrs.Name])
			if err != nil {
				return nil, err
			}

			remap[n.ID] = r

			continue
		}

		if rule != nil {
			r, ok, err := rule(b, n, ins)
			if err != nil {
				return nil, fmt.Errorf("graph: rewrite %s: %w", n, err)
			}

			if ok {
				remap[n.ID] = r
				continue
			}
		}

		r, err := b.Op(n.Op, n.Attrs, ins...)
		if err != nil {
			return nil, err
		}

		remap[n.ID] = r
	}

	return b.Finish(Output{Spec: g.Output.Spec, Refs: remapRefs(g.Output.Refs, remap)})
}

// RunPasses applies passes in order.
func RunPasses(g *Graph, k *Kernels, passes ...Pass) (*Graph, error) {
	if k == nil {
		k = NewKernels()
	}

	var err error
	for _, p := range passes {
		g, err = p.Run(g, k)
		if err != nil {
			return nil, fmt.Errorf("graph: pass %s: %w", p.Name, err)
		}
	}

	return g, nil
}

// EliminateIdentity forwards the input of identity and dropout nodes.
func EliminateIdentity() Pass {
	return RulePass("eliminate-identity", func(_ *Builder, n Node, ins []Ref) (Ref, bool, error) {
		if n.Op != OpIdentity && n.Op != OpDropout {
			return 0, false, nil
		}

		if len(ins) != 1 {
			return 0, false, fmt.Errorf("%s needs 1 input, got %d", n.Op, len(ins))
		}

		return ins[0], true, nil
	})
}

// Decompose lowers composite ops into the edge op set.
func Decompose() Pass {
	return RulePass("decompose", func(b *Builder, n Node, ins []Ref) (Ref, bool, error) {
		var (
			r   Ref
			err error
		)

		switch {
		case n.Op == OpLinear:
			r, err = decomposeLinear(b, ins)
		case n.Op == OpAct && (n.Attrs.Name == ops.ActHardSwish || n.Attrs.Name == ops.ActHardSigmoid):
			r, err = decomposeHard(b, n.Attrs.Name, ins)
		case n.Op == OpAttention:
			r, err = decomposeAttention(b, n.Attrs, ins)
		default:
			return 0, false, nil
		}

		return r, err == nil, err
	})
}

func decomposeLinear(b *Builder, ins []Ref) (Ref, error) {
	if len(ins) < 2 || len(ins) > 3 {
		return 0, fmt.Errorf("linear needs 2 or 3 inputs, got %d", len(ins))
	}

	wt, err := b.Op(OpTranspose, Attrs{Ints: []int64{0, 1}}, ins[1])
	if err != nil {
		return 0, err
	}

	y, err := b.Op(OpMatMul, Attrs{}, ins[0], wt)
	if err != nil {
		return 0, err
	}

	if len(ins) == 3 {
		return b.Op(OpAdd, Attrs{}, y, ins[2])
	}

	return y, nil
}

// hardsigmoid(x) = relu6(x+3)/6, hardswish(x) = x*hardsigmoid(x).
func decomposeHard(b *Builder, name string, ins []Ref) (Ref, error) {
	if len(ins) != 1 {
		return 0, fmt.Errorf("%s needs 1 input, got %d", name, len(ins))
	}

	shifted, err := b.Op(OpAddScalar, Attrs{Float: 3}, ins[0])
	if err != nil {
		return 0, err
	}

	clipped, err := b.Op(OpAct, Attrs{Name: ops.ActReLU6}, shifted)
	if err != nil {
		return 0, err
	}

	gate, err := b.Op(OpScale, Attrs{Float: 1.0 / 6}, clipped)
	if err != nil {
		return 0, err
	}

	if name == ops.ActHardSigmoid {
		return gate, nil
	}

	return b.Op(OpMul, Attrs{}, ins[0], gate)
}

func decomposeAttention(b *Builder, a Attrs, ins []Ref) (Ref, error) {
	if len(ins) != 3 {
		return 0, fmt.Errorf("attention needs 3 inputs, got %d", len(ins))
	}

	qShape, kShape := b.Shape(ins[0]), b.Shape(ins[1])
	if len(qShape) < 2 || len(kShape) < 2 {
		return 0, fmt.Errorf("attention needs rank >= 2 inputs, got %v and %v", qShape, kShape)
	}

	rank := int64(len(kShape))

	kt, err := b.Op(OpTranspose, Attrs{Ints: []int64{rank - 2, rank - 1}}, ins[1])
	if err != nil {
		return 0, err
	}

	scores, err := b.Op(OpMatMul, Attrs{}, ins[0], kt)
	if err != nil {
		return 0, err
	}

	scores, err = b.Op(OpScale, Attrs{Float: float64(ops.AttentionScale(qShape[len(qShape)-1]))}, scores)
	if err != nil {
		return 0, err
	}

	if a.Flag {
		scores, err = b.Op(OpCausalMask, Attrs{Ints: []int64{a.Int(0)}}, scores)
		if err != nil {
			return 0, err
		}
	}

	probs, err := b.Op(OpSoftmax, Attrs{Ints: []int64{-1}}, scores)
	if err != nil {
		return 0, err
	}

	return b.Op(OpMatMul, Attrs{}, probs, ins[2])
}

// FoldConstants replaces every node whose inputs are all constants with a
// precomputed constant.
func FoldConstants() Pass {
	return RulePass("fold-constants", func(b *Builder, n Node, ins []Ref) (Ref, bool, error) {
		if len(ins) == 0 {
			return 0, false, nil
		}

		for _, r := range ins {
			if _, ok := b.IsConst(r); !ok {
				return 0, false, nil
			}
		}

		r, err := b.Op(n.Op, n.Attrs, ins...)
		if err != nil {
			return 0, false, err
		}

		c, err := b.Constant(b.freshName(fmt.Sprintf("folded.%d", n.ID)), b.Example(r))
		if err != nil {
			return 0, false, err
		}

		return c, true, nil
	})
}

// EliminateDeadCode drops nodes that do not reach the output.
func EliminateDeadCode() Pass {
	return RulePass("dead-code", nil)
}

// EdgePasses is the default lowering pipeline from a captured graph to the
// edge op set.
func EdgePasses() []Pass {
	return []Pass{
		EliminateIdentity(),
		Decompose(),
		FoldConstants(),
		EliminateDeadCode(),
	}
}
