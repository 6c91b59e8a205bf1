// Package value models model outputs: either a single tensor or an ordered,
// possibly nested, sequence of values.
package value

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

var (
	ErrNotTensor = errors.New("value: not a tensor")
	ErrIndex     = errors.New("value: index out of range")
)

// Value is a tensor leaf or an ordered sequence. The zero Value is an empty
// sequence.
type Value struct {
	leaf  *tensor.Tensor
	items []Value
}

// Of wraps a tensor as a leaf.
func Of(t *tensor.Tensor) Value {
	return Value{leaf: t}
}

// Seq builds an ordered sequence.
func Seq(items ...Value) Value {
	return Value{items: append([]Value{}, items...)}
}

// Tensors wraps each tensor as a leaf of one sequence.
func Tensors(ts ...*tensor.Tensor) Value {
	items := make([]Value, len(ts))
	for i, t := range ts {
		items[i] = Of(t)
	}

	return Value{items: items}
}

func (v Value) IsTensor() bool {
	return v.leaf != nil
}

// Len returns the number of items of a sequence and 0 for a leaf.
func (v Value) Len() int {
	return len(v.items)
}

// At returns item i of a sequence.
func (v Value) At(i int) (Value, error) {
	if v.IsTensor() {
		return Value{}, fmt.Errorf("%w: cannot index tensor %v with [%d]", ErrIndex, v.leaf.Shape(), i)
	}

	if i < 0 || i >= len(v.items) {
		return Value{}, fmt.Errorf("%w: [%d] of sequence with %d items", ErrIndex, i, len(v.items))
	}

	return v.items[i], nil
}

// Index follows path through nested sequences.
func (v Value) Index(path ...int) (Value, error) {
	cur := v
	for depth, i := range path {
		next, err := cur.At(i)
		if err != nil {
			return Value{}, fmt.Errorf("path %v at depth %d: %w", path, depth, err)
		}

		cur = next
	}

	return cur, nil
}

// Tensor returns the leaf tensor.
func (v Value) Tensor() (*tensor.Tensor, error) {
	if !v.IsTensor() {
		return nil, fmt.Errorf("%w: sequence with %d items", ErrNotTensor, len(v.items))
	}

	return v.leaf, nil
}

// Items returns a copy of the sequence items.
func (v Value) Items() []Value {
	return append([]Value(nil), v.items...)
}

// Flatten returns leaves in depth-first order.
func (v Value) Flatten() []*tensor.Tensor {
	if v.IsTensor() {
		return []*tensor.Tensor{v.leaf}
	}

	var out []*tensor.Tensor
	for _, it := range v.items {
		out = append(out, it.Flatten()...)
	}

	return out
}

// Spec returns the structure of v.
func (v Value) Spec() TreeSpec {
	if v.IsTensor() {
		return Leaf()
	}

	children := make([]TreeSpec, len(v.items))
	for i, it := range v.items {
		children[i] = it.Spec()
	}

	return Node(children...)
}

// String renders the structure with leaf shapes, e.g. ([1 4], ([2], [2])).
func (v Value) String() string {
	if v.IsTensor() {
		return fmt.Sprint(v.leaf.Shape())
	}

	parts := make([]string, len(v.items))
	for i, it := range v.items {
		parts[i] = it.String()
	}

	return "(" + strings.Join(parts, ", ") + ")"
}
