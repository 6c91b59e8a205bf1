package tensor

import "math"

// IsClose reports whether |a-b| <= atol + rtol*|b|. NaN is never close to
// anything; equal infinities are close.
func IsClose(a, b float32, rtol, atol float64) bool {
	x, y := float64(a), float64(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}

	if x == y {
		return true
	}

	if math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}

	return math.Abs(x-y) <= atol+rtol*math.Abs(y)
}

// AllClose reports whether a and b have the same shape and every element
// pair satisfies IsClose with b as the reference.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if a == nil || b == nil || !equalShape(a.shape, b.shape) {
		return false
	}

	for i := range a.data {
		if !IsClose(a.data[i], b.data[i], rtol, atol) {
			return false
		}
	}

	return true
}
