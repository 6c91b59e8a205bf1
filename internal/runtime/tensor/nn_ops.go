package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Softmax applies softmax along dim.
func Softmax(x *Tensor, dim int) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: softmax on nil tensor")
	}

	dim, err := normalizeDim(dim, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: softmax: %w", err)
	}

	axis := x.shape[dim]
	if axis <= 0 {
		return nil, fmt.Errorf("tensor: softmax axis dimension must be > 0, got %d", axis)
	}

	outer, inner := splitAround(x.shape, dim)
	out := x.Clone()

	for o := range outer {
		for in := range inner {
			base := o*axis*inner + in
			maxV := float32(math.Inf(-1))

			for k := range axis {
				maxV = max(maxV, out.data[base+k*inner])
			}

			var sum float64

			for k := range axis {
				i := base + k*inner
				e := math.Exp(float64(out.data[i] - maxV))
				out.data[i] = float32(e)
				sum += e
			}

			if sum == 0 {
				return nil, errors.New("tensor: softmax encountered zero normalization sum")
			}

			inv := float32(1.0 / sum)
			for k := range axis {
				out.data[base+k*inner] *= inv
			}
		}
	}

	return out, nil
}

// LayerNorm normalizes the last dimension and applies optional weight/bias.
func LayerNorm(x, weight, bias *Tensor, eps float32) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: layernorm input is nil")
	}

	if x.Rank() < 1 {
		return nil, errors.New("tensor: layernorm requires rank >= 1")
	}

	if eps <= 0 {
		return nil, errors.New("tensor: layernorm eps must be > 0")
	}

	d := x.shape[len(x.shape)-1]
	if d <= 0 {
		return nil, errors.New("tensor: layernorm last dimension must be > 0")
	}

	for name, p := range map[string]*Tensor{"weight": weight, "bias": bias} {
		if p != nil && (p.Rank() != 1 || p.shape[0] != d) {
			return nil, fmt.Errorf("tensor: layernorm %s shape %v does not match last dimension %d", name, p.shape, d)
		}
	}

	out := x.Clone()
	dd := int(d)

	for start := 0; start < len(out.data); start += dd {
		row := out.data[start : start+dd]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}

		mean /= float64(dd)

		var variance float64
		for _, v := range row {
			delta := float64(v) - mean
			variance += delta * delta
		}

		variance /= float64(dd)
		invStd := 1.0 / math.Sqrt(variance+float64(eps))

		for i, v := range row {
			n := float32((float64(v) - mean) * invStd)
			if weight != nil {
				n *= weight.data[i]
			}

			if bias != nil {
				n += bias.data[i]
			}

			row[i] = n
		}
	}

	return out, nil
}

// MatMul performs batched matrix multiplication with broadcasting over batch
// dimensions.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("tensor: matmul requires non-nil inputs")
	}

	if a.Rank() < 2 || b.Rank() < 2 {
		return nil, fmt.Errorf("tensor: matmul requires rank >= 2, got %d and %d", a.Rank(), b.Rank())
	}

	aRank, bRank := len(a.shape), len(b.shape)
	m, k := a.shape[aRank-2], a.shape[aRank-1]
	n := b.shape[bRank-1]

	if b.shape[bRank-2] != k {
		return nil, fmt.Errorf("tensor: matmul mismatch: A shape %v and B shape %v", a.shape, b.shape)
	}

	batchShape, err := broadcastShape(a.shape[:aRank-2], b.shape[:bRank-2])
	if err != nil {
		return nil, fmt.Errorf("tensor: matmul batch broadcast: %w", err)
	}

	batches, err := shapeElemCount(batchShape)
	if err != nil {
		return nil, err
	}

	aBatch := broadcastStrides(a.shape[:aRank-2], len(batchShape))
	bBatch := broadcastStrides(b.shape[:bRank-2], len(batchShape))
	batchStrides := computeStrides(batchShape)
	coord := make([]int64, len(batchShape))

	out := make([]float32, int64(batches)*m*n)
	col := make([]float32, k)

	for bi := range int64(batches) {
		linearToCoord(bi, batchShape, batchStrides, coord)
		aOff := coordToLinear(coord, aBatch) * m * k
		bOff := coordToLinear(coord, bBatch) * k * n
		oOff := bi * m * n

		for j := range n {
			for kk := range k {
				col[kk] = b.data[bOff+kk*n+j]
			}

			for i := range m {
				out[oOff+i*n+j] = dot(a.data[aOff+i*k:aOff+(i+1)*k], col)
			}
		}
	}

	outShape := append(batchShape, m, n)

	return wrap(out, outShape), nil
}

// Linear applies y = x * W^T + b where weight shape is [out, in].
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x == nil || weight == nil {
		return nil, errors.New("tensor: linear requires non-nil x and weight")
	}

	if x.Rank() < 1 {
		return nil, errors.New("tensor: linear requires x rank >= 1")
	}

	if weight.Rank() != 2 {
		return nil, fmt.Errorf("tensor: linear weight must be rank 2, got %d", weight.Rank())
	}

	in := int(x.shape[x.Rank()-1])
	outDim := int(weight.shape[0])

	if int(weight.shape[1]) != in {
		return nil, fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil && (bias.Rank() != 1 || int(bias.shape[0]) != outDim) {
		return nil, fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.shape, outDim)
	}

	rows := len(x.data) / in
	out := make([]float32, rows*outDim)

	for r := range rows {
		xRow := x.data[r*in : (r+1)*in]
		for o := range outDim {
			sum := dot(xRow, weight.data[o*in:(o+1)*in])
			if bias != nil {
				sum += bias.data[o]
			}

			out[r*outDim+o] = sum
		}
	}

	outShape := append([]int64(nil), x.shape...)
	outShape[len(outShape)-1] = int64(outDim)

	return wrap(out, outShape), nil
}

// Mean averages over dim. When keepDim is false the dimension is removed.
func Mean(x *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: mean on nil tensor")
	}

	dim, err := normalizeDim(dim, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: mean: %w", err)
	}

	axis := x.shape[dim]
	if axis == 0 {
		return nil, fmt.Errorf("tensor: mean over empty dim %d", dim)
	}

	outer, inner := splitAround(x.shape, dim)
	out := make([]float32, outer*inner)

	for o := range outer {
		for in := range inner {
			var sum float64
			for k := range axis {
				sum += float64(x.data[(o*axis+k)*inner+in])
			}

			out[o*inner+in] = float32(sum / float64(axis))
		}
	}

	outShape := append([]int64(nil), x.shape...)
	if keepDim {
		outShape[dim] = 1
	} else {
		outShape = append(outShape[:dim], outShape[dim+1:]...)
	}

	return wrap(out, outShape), nil
}
