package graph

import (
	"errors"
	"fmt"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Builder appends nodes to a graph while propagating example values through
// every node, so each node's shape is known and invalid ops fail at build
// time instead of at execution time.
type Builder struct {
	nodes   []Node
	inputs  []Ref
	consts  map[string]*tensor.Tensor
	byConst map[string]Ref
	vals    []*tensor.Tensor
	kernels *Kernels
}

// NewBuilder returns an empty builder evaluating nodes with k. A nil k uses
// NewKernels().
func NewBuilder(k *Kernels) *Builder {
	if k == nil {
		k = NewKernels()
	}

	return &Builder{
		consts:  make(map[string]*tensor.Tensor),
		byConst: make(map[string]Ref),
		kernels: k,
	}
}

func (b *Builder) add(n Node, v *tensor.Tensor) Ref {
	n.ID = Ref(len(b.nodes))
	n.Shape = v.Shape()
	b.nodes = append(b.nodes, n)
	b.vals = append(b.vals, v)

	return n.ID
}

// Input declares the next positional graph input with an example value.
func (b *Builder) Input(example *tensor.Tensor) Ref {
	r := b.add(Node{Op: OpInput, Attrs: Attrs{Ints: []int64{int64(len(b.inputs))}}}, example)
	b.inputs = append(b.inputs, r)

	return r
}

// Constant registers a named constant. Registering the same name twice
// returns the existing node.
func (b *Builder) Constant(name string, t *tensor.Tensor) (Ref, error) {
	if name == "" {
		return 0, errors.New("graph: constant name must not be empty")
	}

	if t == nil {
		return 0, fmt.Errorf("graph: constant %q is nil", name)
	}

	if r, ok := b.byConst[name]; ok {
		if !tensor.SameShape(b.consts[name], t) {
			return 0, fmt.Errorf("graph: constant %q redeclared with shape %v, was %v", name, t.Shape(), b.consts[name].Shape())
		}

		return r, nil
	}

	b.consts[name] = t
	r := b.add(Node{Op: OpConst, Attrs: Attrs{Name: name}}, t)
	b.byConst[name] = r

	return r, nil
}

func (b *Builder) freshName(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := b.byConst[name]; !taken {
			return name
		}

		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// Op appends a node and evaluates it on the example values of its inputs.
func (b *Builder) Op(op string, attrs Attrs, inputs ...Ref) (Ref, error) {
	args := make([]*tensor.Tensor, len(inputs))

	for i, r := range inputs {
		if int(r) < 0 || int(r) >= len(b.vals) {
			return 0, fmt.Errorf("graph: %s input %d refers to unknown node %%%d", op, i, r)
		}

		args[i] = b.vals[r]
	}

	v, err := b.kernels.Eval(op, attrs, args)
	if err != nil {
		return 0, err
	}

	return b.add(Node{Op: op, Inputs: append([]Ref(nil), inputs...), Attrs: attrs}, v), nil
}

// Shape returns the shape of a node.
func (b *Builder) Shape(r Ref) []int64 {
	if int(r) < 0 || int(r) >= len(b.nodes) {
		return nil
	}

	return append([]int64(nil), b.nodes[r].Shape...)
}

// Example returns the example value propagated to r.
func (b *Builder) Example(r Ref) *tensor.Tensor {
	if int(r) < 0 || int(r) >= len(b.vals) {
		return nil
	}

	return b.vals[r]
}

// IsConst reports whether r is a constant node and returns its name.
func (b *Builder) IsConst(r Ref) (string, bool) {
	if int(r) < 0 || int(r) >= len(b.nodes) || b.nodes[r].Op != OpConst {
		return "", false
	}

	return b.nodes[r].Attrs.Name, true
}

// Finish seals the graph with out as its result. Nodes that do not
// contribute to out are dropped; inputs are always kept.
func (b *Builder) Finish(out Output) (*Graph, error) {
	if len(out.Refs) == 0 {
		return nil, errors.New("graph: output has no tensors")
	}

	if out.Spec.NumLeaves() != len(out.Refs) {
		return nil, fmt.Errorf("graph: output spec %s does not match %d refs", out.Spec, len(out.Refs))
	}

	live := make([]bool, len(b.nodes))
	for _, r := range b.inputs {
		live[r] = true
	}

	stack := append([]Ref(nil), out.Refs...)
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if int(r) < 0 || int(r) >= len(b.nodes) {
			return nil, fmt.Errorf("graph: output refers to unknown node %%%d", r)
		}

		if live[r] && b.nodes[r].Op != OpInput {
			continue
		}

		live[r] = true
		stack = append(stack, b.nodes[r].Inputs...)
	}

	remap := make([]Ref, len(b.nodes))
	g := &Graph{Constants: make(map[string]*tensor.Tensor)}

	for _, n := range b.nodes {
		if !live[n.ID] {
			continue
		}

		old := n.ID
		n.ID = Ref(len(g.Nodes))
		n.Inputs = remapRefs(n.Inputs, remap)
		remap[old] = n.ID

		switch n.Op {
		case OpInput:
			g.Inputs = append(g.Inputs, n.ID)
		case OpConst:
			g.Constants[n.Attrs.Name] = b.consts[n.Attrs.Name]
		}

		g.Nodes = append(g.Nodes, n)
	}

	g.Output = Output{Spec: out.Spec, Refs: remapRefs(out.Refs, remap)}

	return g, nil
}

func remapRefs(refs []Ref, remap []Ref) []Ref {
	out := make([]Ref, len(refs))
	for i, r := range refs {
		out[i] = remap[r]
	}

	return out
}
