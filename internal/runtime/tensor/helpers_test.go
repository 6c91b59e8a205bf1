package tensor

import "math"

func equalI64(a, b []int64) bool {
	return equalShape(a, b)
}

func equalF32(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}

	return true
}

func mustNew(data []float32, shape ...int64) *Tensor {
	return MustNew(data, shape)
}
