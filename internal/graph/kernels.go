package graph

import (
	"fmt"
	"sort"

	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Kernel evaluates one node given its input tensors.
type Kernel func(attrs Attrs, inputs []*tensor.Tensor) (*tensor.Tensor, error)

// Kernels maps op names to kernels.
type Kernels struct {
	handlers map[string]Kernel
}

// NewKernels returns a registry with every core op registered.
func NewKernels() *Kernels {
	k := &Kernels{handlers: make(map[string]Kernel)}

	k.registerMath()
	k.registerShape()
	k.registerNN()

	return k
}

// Register adds or replaces the kernel for op.
func (k *Kernels) Register(op string, fn Kernel) {
	k.handlers[op] = fn
}

func (k *Kernels) Has(op string) bool {
	_, ok := k.handlers[op]
	return ok
}

// Ops lists registered op names in sorted order.
func (k *Kernels) Ops() []string {
	out := make([]string, 0, len(k.handlers))
	for op := range k.handlers {
		out = append(out, op)
	}

	sort.Strings(out)

	return out
}

// Eval runs the kernel registered for op.
func (k *Kernels) Eval(op string, attrs Attrs, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	fn, ok := k.handlers[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
	}

	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("graph: %s input %d is nil", op, i)
		}
	}

	out, err := fn(attrs, inputs)
	if err != nil {
		return nil, fmt.Errorf("graph: %s: %w", op, err)
	}

	return out, nil
}

func arity(inputs []*tensor.Tensor, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		if lo == hi {
			return fmt.Errorf("want %d inputs, got %d", lo, len(inputs))
		}

		return fmt.Errorf("want %d..%d inputs, got %d", lo, hi, len(inputs))
	}

	return nil
}

func optional(inputs []*tensor.Tensor, i int) *tensor.Tensor {
	if i < len(inputs) {
		return inputs[i]
	}

	return nil
}

func binary(fn func(a, b *tensor.Tensor) (*tensor.Tensor, error)) Kernel {
	return func(_ Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 2, 2); err != nil {
			return nil, err
		}

		return fn(in[0], in[1])
	}
}

func unary(fn func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error)) Kernel {
	return func(a Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 1, 1); err != nil {
			return nil, err
		}

		return fn(a, in[0])
	}
}

func (k *Kernels) registerMath() {
	k.Register(OpAdd, binary(tensor.Add))
	k.Register(OpSub, binary(tensor.Sub))
	k.Register(OpMul, binary(tensor.Mul))
	k.Register(OpMatMul, binary(tensor.MatMul))
	k.Register(OpScale, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Scale(x, float32(a.Float)), nil
	}))
	k.Register(OpAddScalar, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		c := float32(a.Float)
		return tensor.Map(x, func(v float32) float32 { return v + c }), nil
	}))
	k.Register(OpAct, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return ops.Activate(a.Name, x)
	}))
	k.Register(OpMean, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Mean(x, int(a.Int(0)), a.Int(1) != 0)
	}))
	k.Register(OpIdentity, unary(func(_ Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return x, nil
	}))
	// Graph-level dropout always runs with inference semantics.
	k.Register(OpDropout, unary(func(_ Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return x, nil
	}))
}

func (k *Kernels) registerShape() {
	k.Register(OpTranspose, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return x.Transpose(int(a.Int(0)), int(a.Int(1)))
	}))
	k.Register(OpReshape, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return x.Reshape(a.Ints)
	}))
	k.Register(OpNarrow, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return x.Narrow(int(a.Int(0)), a.Int(1), a.Int(2))
	}))
	k.Register(OpConcat, func(a Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Concat(in, int(a.Int(0)))
	})
}

func (k *Kernels) registerNN() {
	k.Register(OpLinear, func(_ Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 2, 3); err != nil {
			return nil, err
		}

		return tensor.Linear(in[0], in[1], optional(in, 2))
	})
	k.Register(OpConv1D, func(a Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 2, 3); err != nil {
			return nil, err
		}

		return ops.Conv1D(in[0], in[1], optional(in, 2), ops.Conv1DParams{
			Stride:   a.Int(0),
			Padding:  a.Int(1),
			Dilation: a.Int(2),
			Groups:   a.Int(3),
		})
	})
	k.Register(OpLayerNorm, func(a Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 1, 3); err != nil {
			return nil, err
		}

		return tensor.LayerNorm(in[0], optional(in, 1), optional(in, 2), float32(a.Float))
	})
	k.Register(OpSoftmax, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Softmax(x, int(a.Int(0)))
	}))
	k.Register(OpCausalMask, unary(func(a Attrs, x *tensor.Tensor) (*tensor.Tensor, error) {
		return ops.CausalMask(x, a.Int(0))
	}))
	k.Register(OpAttention, func(a Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		if err := arity(in, 3, 3); err != nil {
			return nil, err
		}

		return ops.Attention(in[0], in[1], in[2], a.Flag, a.Int(0))
	})
}
