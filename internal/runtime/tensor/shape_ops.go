package tensor

import (
	"errors"
	"fmt"
)

// Narrow returns length entries of dim starting at start.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	size := t.shape[dim]
	if start < 0 || length < 0 || start+length > size {
		return nil, fmt.Errorf("tensor: narrow: range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, size)
	}

	outer, inner := splitAround(t.shape, dim)
	outShape := append([]int64(nil), t.shape...)
	outShape[dim] = length

	out := make([]float32, 0, outer*length*inner)
	for o := range outer {
		base := (o*size + start) * inner
		out = append(out, t.data[base:base+length*inner]...)
	}

	return wrap(out, outShape), nil
}

// Transpose swaps dim1 and dim2.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]

	srcStrides := computeStrides(t.shape)
	// Strides of the source seen through the output coordinate system.
	viewStrides := append([]int64(nil), srcStrides...)
	viewStrides[d1], viewStrides[d2] = srcStrides[d2], srcStrides[d1]

	outStrides := computeStrides(outShape)
	coord := make([]int64, rank)
	out := make([]float32, len(t.data))

	for i := range out {
		linearToCoord(int64(i), outShape, outStrides, coord)
		out[i] = t.data[coordToLinear(coord, viewStrides)]
	}

	return wrap(out, outShape), nil
}

// Concat concatenates tensors along dim. All other dimensions must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("tensor: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	dim, err := normalizeDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: concat: %w", err)
	}

	outShape := append([]int64(nil), first.shape...)
	outShape[dim] = 0

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor: concat tensor %d is nil", i)
		}

		if len(t.shape) != rank {
			return nil, fmt.Errorf("tensor: concat tensor %d rank %d does not match rank %d", i, len(t.shape), rank)
		}

		for d := range rank {
			if d != dim && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("tensor: concat tensor %d shape %v does not match %v on dim %d", i, t.shape, first.shape, d)
			}
		}

		outShape[dim] += t.shape[dim]
	}

	outer, inner := splitAround(outShape, dim)
	out := make([]float32, 0, outer*outShape[dim]*inner)

	for o := range outer {
		for _, t := range tensors {
			span := t.shape[dim] * inner
			base := o * span
			out = append(out, t.data[base:base+span]...)
		}
	}

	return wrap(out, outShape), nil
}
