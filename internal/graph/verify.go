package graph

import (
	"fmt"
	"slices"

	"github.com/example/go-aotcheck/internal/runtime/ops"
)

// EdgeOps are the ops a lowered graph may contain.
var EdgeOps = []string{
	OpInput, OpConst,
	OpConv1D, OpLayerNorm, OpAct,
	OpAdd, OpSub, OpMul, OpScale, OpAddScalar, OpMatMul,
	OpTranspose, OpReshape, OpConcat, OpNarrow,
	OpMean, OpSoftmax, OpCausalMask,
}

var edgeActivations = []string{
	ops.ActReLU, ops.ActReLU6, ops.ActGELU, ops.ActSigmoid, ops.ActSiLU, ops.ActTanh,
}

// VerifyEdge checks that g only uses edge ops and that every reference is
// well formed.
func VerifyEdge(g *Graph) error {
	if err := Validate(g); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		if !slices.Contains(EdgeOps, n.Op) {
			return fmt.Errorf("%w: %s is not an edge op", ErrUnsupportedOp, n)
		}

		if n.Op == OpAct && !slices.Contains(edgeActivations, n.Attrs.Name) {
			return fmt.Errorf("%w: activation %q is not an edge op", ErrUnsupportedOp, n.Attrs.Name)
		}
	}

	return nil
}

// Validate checks graph structure: topological order, known constants and
// a consistent output.
func Validate(g *Graph) error {
	if g == nil {
		return fmt.Errorf("graph: nil graph")
	}

	for i, n := range g.Nodes {
		if n.ID != Ref(i) {
			return fmt.Errorf("graph: node %d has id %%%d", i, n.ID)
		}

		for _, in := range n.Inputs {
			if in < 0 || in >= n.ID {
				return fmt.Errorf("graph: %s reads %%%d out of order", n, in)
			}
		}

		if n.Op == OpConst {
			if _, ok := g.Constants[n.Attrs.Name]; !ok {
				return fmt.Errorf("graph: constant %q has no data", n.Attrs.Name)
			}
		}
	}

	for i, r := range g.Inputs {
		n, err := g.Node(r)
		if err != nil {
			return err
		}

		if n.Op != OpInput || n.Attrs.Int(0) != int64(i) {
			return fmt.Errorf("graph: input %d refers to %s", i, n)
		}
	}

	if g.Output.Spec.NumLeaves() != len(g.Output.Refs) {
		return fmt.Errorf("graph: output spec %s does not match %d refs", g.Output.Spec, len(g.Output.Refs))
	}

	for _, r := range g.Output.Refs {
		if _, err := g.Node(r); err != nil {
			return err
		}
	}

	return nil
}
