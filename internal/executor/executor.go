// Package executor loads program buffers and runs their methods. Results
// always come back as an ordered collection whose first item is the
// method's output tree.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

var (
	ErrUnknownMethod     = errors.New("executor: unknown method")
	ErrUnsupportedFormat = errors.New("executor: unsupported program format")
	ErrInputMismatch     = errors.New("executor: input mismatch")
)

// Loader turns a program buffer into a runnable handle.
type Loader interface {
	Load(buf []byte) (*Handle, error)
}

// backend executes one method on flat inputs and returns its flat outputs
// in output-tree order.
type backend interface {
	run(ctx context.Context, m *program.Method, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	close() error
}

// Handle is a loaded program.
type Handle struct {
	program *program.Program
	backend backend
}

// MethodNames lists the program's methods.
func (h *Handle) MethodNames() []string {
	return h.program.MethodNames()
}

// Format reports which backend runs the program.
func (h *Handle) Format() program.Format {
	return h.program.Format
}

// RunMethod runs the named method. The returned slice has exactly one item:
// the method's output, a tensor or a nested sequence.
func (h *Handle) RunMethod(ctx context.Context, name string, inputs []*tensor.Tensor) ([]value.Value, error) {
	m, ok := h.program.Method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownMethod, name, h.program.MethodNames())
	}

	if len(inputs) != m.NumInputs() {
		return nil, fmt.Errorf("%w: method %q takes %d inputs, got %d", ErrInputMismatch, name, m.NumInputs(), len(inputs))
	}

	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: method %q input %d is nil", ErrInputMismatch, name, i)
		}
	}

	leaves, err := h.backend.run(ctx, m, inputs)
	if err != nil {
		return nil, fmt.Errorf("executor: run %q: %w", name, err)
	}

	out, err := m.Output.Unflatten(leaves)
	if err != nil {
		return nil, fmt.Errorf("executor: run %q: %w", name, err)
	}

	return []value.Value{out}, nil
}

// Close releases backend resources. Safe to call more than once.
func (h *Handle) Close() error {
	if h.backend == nil {
		return nil
	}

	err := h.backend.close()
	h.backend = nil

	return err
}

// Multi dispatches on the program format. A nil ONNX loader rejects ONNX
// programs.
type Multi struct {
	Native *Native
	ONNX   *ONNX
}

// NewMulti returns a loader for graph programs and, when onnx is non-nil,
// ONNX programs.
func NewMulti(onnx *ONNX) *Multi {
	return &Multi{Native: NewNative(nil), ONNX: onnx}
}

func (l *Multi) Load(buf []byte) (*Handle, error) {
	p, err := program.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("executor: load: %w", err)
	}

	switch {
	case p.Format == program.FormatGraph && l.Native != nil:
		return l.Native.load(p)
	case p.Format == program.FormatONNX && l.ONNX != nil:
		return l.ONNX.load(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.Format)
	}
}

// LoadFromBuffer loads a graph program with the default native kernels.
func LoadFromBuffer(buf []byte) (*Handle, error) {
	return NewNative(nil).Load(buf)
}
