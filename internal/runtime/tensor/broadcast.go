package tensor

import "fmt"

// Add performs element-wise addition with NumPy-style broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return broadcastBinary(a, b, func(x, y float32) float32 { return x + y }, "add")
}

// Sub performs element-wise subtraction with NumPy-style broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return broadcastBinary(a, b, func(x, y float32) float32 { return x - y }, "sub")
}

// Mul performs element-wise multiplication with NumPy-style broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return broadcastBinary(a, b, func(x, y float32) float32 { return x * y }, "mul")
}

// Map applies fn to every element and returns a new tensor.
func Map(x *Tensor, fn func(float32) float32) *Tensor {
	if x == nil {
		return nil
	}

	out := make([]float32, len(x.data))
	for i, v := range x.data {
		out[i] = fn(v)
	}

	return wrap(out, append([]int64(nil), x.shape...))
}

// Scale multiplies every element by s.
func Scale(x *Tensor, s float32) *Tensor {
	return Map(x, func(v float32) float32 { return v * s })
}

// Neg flips the sign of every element.
func Neg(x *Tensor) *Tensor {
	return Map(x, func(v float32) float32 { return -v })
}

func broadcastBinary(a, b *Tensor, fn func(x, y float32) float32, opName string) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("tensor: %s requires non-nil inputs", opName)
	}

	if equalShape(a.shape, b.shape) {
		out := make([]float32, len(a.data))
		for i := range out {
			out[i] = fn(a.data[i], b.data[i])
		}

		return wrap(out, append([]int64(nil), a.shape...)), nil
	}

	outShape, err := broadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("tensor: %s: %w", opName, err)
	}

	aStrides := broadcastStrides(a.shape, len(outShape))
	bStrides := broadcastStrides(b.shape, len(outShape))
	outStrides := computeStrides(outShape)
	coord := make([]int64, len(outShape))

	total, err := shapeElemCount(outShape)
	if err != nil {
		return nil, err
	}

	out := make([]float32, total)
	for i := range out {
		linearToCoord(int64(i), outShape, outStrides, coord)
		out[i] = fn(a.data[coordToLinear(coord, aStrides)], b.data[coordToLinear(coord, bStrides)])
	}

	return wrap(out, outShape), nil
}

func broadcastShape(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)

	for i := range rank {
		ad, bd := dimFromRight(a, rank-1-i), dimFromRight(b, rank-1-i)

		switch {
		case ad == bd || ad == 1:
			out[i] = bd
		case bd == 1:
			out[i] = ad
		default:
			return nil, fmt.Errorf("cannot broadcast shapes %v and %v", a, b)
		}
	}

	return out, nil
}

func dimFromRight(shape []int64, k int) int64 {
	if k >= len(shape) {
		return 1
	}

	return shape[len(shape)-1-k]
}

// broadcastStrides returns strides of shape left-padded to rank, with zero
// strides on broadcast dimensions.
func broadcastStrides(shape []int64, rank int) []int64 {
	own := computeStrides(shape)
	out := make([]int64, rank)
	pad := rank - len(shape)

	for i, d := range shape {
		if d != 1 {
			out[pad+i] = own[i]
		}
	}

	return out
}
