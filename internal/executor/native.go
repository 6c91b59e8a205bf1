package executor

import (
	"context"
	"fmt"
	"slices"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Native interprets graph programs instruction by instruction.
type Native struct {
	kernels *graph.Kernels
}

// NewNative returns an interpreter using k, or graph.NewKernels() when k is
// nil.
func NewNative(k *graph.Kernels) *Native {
	if k == nil {
		k = graph.NewKernels()
	}

	return &Native{kernels: k}
}

func (n *Native) Load(buf []byte) (*Handle, error) {
	p, err := program.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("executor: load: %w", err)
	}

	return n.load(p)
}

func (n *Native) load(p *program.Program) (*Handle, error) {
	if p.Format != program.FormatGraph {
		return nil, fmt.Errorf("%w: native interpreter cannot run %q programs", ErrUnsupportedFormat, p.Format)
	}

	for _, m := range p.Methods {
		for i, ins := range m.Instructions {
			if !n.kernels.Has(ins.Op) {
				return nil, fmt.Errorf("executor: load: method %q instruction %d: %w: %s", m.Name, i, graph.ErrUnsupportedOp, ins.Op)
			}
		}
	}

	return &Handle{program: p, backend: &interpreter{program: p, kernels: n.kernels}}, nil
}

type interpreter struct {
	program *program.Program
	kernels *graph.Kernels
}

func (it *interpreter) run(ctx context.Context, m *program.Method, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	slots := make([]*tensor.Tensor, m.NumSlots)

	for _, c := range m.Constants {
		slots[c.Slot] = it.program.Constants[c.Name]
	}

	for i, in := range inputs {
		if want := m.InputShapes[i]; !slices.Equal(in.Shape(), want) {
			return nil, fmt.Errorf("%w: input %d has shape %v, program was exported for %v", ErrInputMismatch, i, in.Shape(), want)
		}

		slots[m.InputSlots[i]] = in
	}

	args := make([]*tensor.Tensor, 0, 4)

	for i, ins := range m.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		args = args[:0]
		for _, s := range ins.Inputs {
			args = append(args, slots[s])
		}

		out, err := it.kernels.Eval(ins.Op, ins.Attrs, args)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}

		slots[ins.Output] = out
	}

	outs := make([]*tensor.Tensor, len(m.OutputSlots))
	for i, s := range m.OutputSlots {
		if slots[s] == nil {
			return nil, fmt.Errorf("output %d (slot %d) was never written", i, s)
		}

		outs[i] = slots[s].Clone()
	}

	return outs, nil
}

func (it *interpreter) close() error { return nil }
