// Package graph holds the intermediate representation produced by capturing
// a model: a topologically ordered list of nodes over named constants.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// Ref identifies a node inside one graph.
type Ref int

// Core op names. OpInput and OpConst are leaves; every other op is
// evaluated by a kernel.
const (
	OpInput      = "input"
	OpConst      = "const"
	OpLinear     = "linear"
	OpConv1D     = "conv1d"
	OpLayerNorm  = "layer_norm"
	OpAct        = "act"
	OpAdd        = "add"
	OpSub        = "sub"
	OpMul        = "mul"
	OpScale      = "scale"
	OpAddScalar  = "add_scalar"
	OpMatMul     = "matmul"
	OpTranspose  = "transpose"
	OpReshape    = "reshape"
	OpConcat     = "concat"
	OpNarrow     = "narrow"
	OpMean       = "mean"
	OpSoftmax    = "softmax"
	OpAttention  = "attention"
	OpCausalMask = "causal_mask"
	OpDropout    = "dropout"
	OpIdentity   = "identity"
)

var ErrUnsupportedOp = errors.New("graph: unsupported op")

// Attrs are the static parameters of a node. Each op documents which fields
// it reads.
type Attrs struct {
	Ints  []int64 `json:"ints,omitempty"`
	Float float64 `json:"float,omitempty"`
	Name  string  `json:"name,omitempty"`
	Flag  bool    `json:"flag,omitempty"`
}

func (a Attrs) Int(i int) int64 {
	if i < len(a.Ints) {
		return a.Ints[i]
	}

	return 0
}

type Node struct {
	ID     Ref
	Op     string
	Inputs []Ref
	Attrs  Attrs
	Shape  []int64
}

func (n Node) String() string {
	ins := make([]string, len(n.Inputs))
	for i, r := range n.Inputs {
		ins[i] = fmt.Sprintf("%%%d", r)
	}

	label := n.Op
	switch n.Op {
	case OpAct, OpConst:
		label += "[" + n.Attrs.Name + "]"
	}

	return fmt.Sprintf("%%%d = %s(%s) %v", n.ID, label, strings.Join(ins, ", "), n.Shape)
}

// Output is the result structure of a graph: a tree shape plus the node
// behind each leaf in depth-first order.
type Output struct {
	Spec value.TreeSpec
	Refs []Ref
}

// Single is an output made of one tensor.
func Single(r Ref) Output {
	return Output{Spec: value.Leaf(), Refs: []Ref{r}}
}

// Tuple nests outputs into an ordered sequence.
func Tuple(outs ...Output) Output {
	specs := make([]value.TreeSpec, len(outs))

	var refs []Ref
	for i, o := range outs {
		specs[i] = o.Spec
		refs = append(refs, o.Refs...)
	}

	return Output{Spec: value.Node(specs...), Refs: refs}
}

// Graph is a captured or lowered program.
type Graph struct {
	Nodes     []Node
	Inputs    []Ref
	Constants map[string]*tensor.Tensor
	Output    Output
}

// OpCounts returns how often each op occurs, for logging and tests.
func (g *Graph) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.Op]++
	}

	return counts
}

// Node returns the node with the given ref.
func (g *Graph) Node(r Ref) (Node, error) {
	if int(r) < 0 || int(r) >= len(g.Nodes) {
		return Node{}, fmt.Errorf("graph: ref %%%d out of range (%d nodes)", r, len(g.Nodes))
	}

	return g.Nodes[r], nil
}

func (g *Graph) String() string {
	var sb strings.Builder
	for _, n := range g.Nodes {
		sb.WriteString(n.String())
		sb.WriteByte('\n')
	}

	fmt.Fprintf(&sb, "return %s %v\n", g.Output.Spec, g.Output.Refs)

	return sb.String()
}
