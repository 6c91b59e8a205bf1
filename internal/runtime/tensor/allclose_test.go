package tensor

import (
	"math"
	"testing"
)

func TestIsClose(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		a, b float32
		want bool
	}{
		{"equal", 1, 1, true},
		{"within atol", 0, 9e-6, true},
		{"relative slack", 1000, 1000.009, true},
		{"outside", 0, 2e-5, false},
		{"nan", nan, nan, false},
		{"same infinity", inf, inf, true},
		{"opposite infinity", inf, -inf, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClose(tt.a, tt.b, 1e-5, 1e-5); got != tt.want {
				t.Fatalf("IsClose(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAllCloseRequiresMatchingShape(t *testing.T) {
	t.Parallel()

	a := mustNew([]float32{1, 2, 3, 4}, 2, 2)
	b := mustNew([]float32{1, 2, 3, 4}, 4)

	if AllClose(a, b, 1e-5, 1e-5) {
		t.Fatal("AllClose accepted tensors with different shapes")
	}

	if !AllClose(a, a.Clone(), 0, 0) {
		t.Fatal("AllClose rejected identical tensors")
	}
}
