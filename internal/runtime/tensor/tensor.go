// Package tensor implements the dense float32 tensor shared by eager model
// execution and the compiled-program interpreter.
package tensor

import (
	"errors"
	"fmt"
)

// Tensor is a dense, row-major float32 tensor. A rank-0 tensor holds one
// scalar value.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor from data and shape. Both slices are copied.
func New(data []float32, shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// MustNew is New for fixtures whose shape is known to be valid.
func MustNew(data []float32, shape []int64) *Tensor {
	t, err := New(data, shape)
	if err != nil {
		panic(err)
	}

	return t
}

// wrap takes ownership of data and shape without copying or validating.
func wrap(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	return wrap(make([]float32, total), append([]int64(nil), shape...)), nil
}

// Full creates a tensor filled with value.
func Full(shape []int64, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

// Ones creates a tensor filled with 1.
func Ones(shape []int64) (*Tensor, error) {
	return Full(shape, 1)
}

// Scalar creates a rank-0 tensor.
func Scalar(v float32) *Tensor {
	return wrap([]float32{v}, []int64{})
}

func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Data returns a copy of the underlying values.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying data slice.
// Callers must treat it as read-only.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// Dim returns the size of dimension d; negative d counts from the end.
func (t *Tensor) Dim(d int) (int64, error) {
	if t == nil {
		return 0, errors.New("tensor: dim on nil tensor")
	}

	d, err := normalizeDim(d, len(t.shape))
	if err != nil {
		return 0, fmt.Errorf("tensor: %w", err)
	}

	return t.shape[d], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return wrap(append([]float32(nil), t.data...), append([]int64(nil), t.shape...))
}

// Reshape returns a copy of t with a new shape. One dimension may be -1 and
// is inferred from the element count.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	resolved, err := inferShape(shape, len(t.data))
	if err != nil {
		return nil, fmt.Errorf("tensor: cannot reshape %v: %w", t.shape, err)
	}

	return wrap(append([]float32(nil), t.data...), resolved), nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}

	return equalShape(a.shape, b.shape)
}

func (t *Tensor) String() string {
	if t == nil {
		return "tensor(nil)"
	}

	const preview = 6
	if len(t.data) <= preview {
		return fmt.Sprintf("tensor(shape=%v, data=%v)", t.shape, t.data)
	}

	return fmt.Sprintf("tensor(shape=%v, data=%v...)", t.shape, t.data[:preview])
}

func inferShape(shape []int64, count int) ([]int64, error) {
	out := append([]int64(nil), shape...)
	infer := -1
	known := int64(1)

	for i, d := range out {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("shape %v has more than one inferred dimension", shape)
			}

			infer = i
		case d < 0:
			return nil, fmt.Errorf("shape %v has negative dimension at %d", shape, i)
		default:
			known *= d
		}
	}

	if infer >= 0 {
		if known == 0 || int64(count)%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension of %v for %d elements", shape, count)
		}

		out[infer] = int64(count) / known
		known *= out[infer]
	}

	if known != int64(count) {
		return nil, fmt.Errorf("shape %v holds %d elements, have %d", shape, known, count)
	}

	return out, nil
}
