package ops

import (
	"math"
	"strings"
	"testing"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

func mustTensorT(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return x
}

func TestCausalMask(t *testing.T) {
	t.Parallel()

	s := mustTensorT(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, []int64{1, 3, 3})

	out, err := CausalMask(s, 0)
	if err != nil {
		t.Fatalf("causal mask: %v", err)
	}

	got := out.Data()
	for _, i := range []int{1, 2, 5} {
		if !math.IsInf(float64(got[i]), -1) {
			t.Fatalf("index %d not masked: %v", i, got)
		}
	}

	if got[0] != 1 || got[4] != 5 || got[8] != 9 {
		t.Fatalf("causal mask changed non-masked values: %v", got)
	}
}

func TestAttentionCausal(t *testing.T) {
	t.Parallel()

	q := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2, 1})
	k := mustTensorT(t, []float32{0, 10}, []int64{1, 1, 2, 1})
	v := mustTensorT(t, []float32{1, 5}, []int64{1, 1, 2, 1})

	out, err := Attention(q, k, v, true, 0)
	if err != nil {
		t.Fatalf("attention: %v", err)
	}

	got := out.Data()
	if math.Abs(float64(got[0]-1)) > 1e-4 {
		t.Fatalf("query0 output = %f, want near 1.0 (future token masked)", got[0])
	}

	if got[1] < 4.0 {
		t.Fatalf("query1 output = %f, want > 4.0", got[1])
	}
}

func TestAttentionRejectsDepthMismatch(t *testing.T) {
	t.Parallel()

	q := mustTensorT(t, []float32{1, 2}, []int64{1, 2})
	k := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 3})

	_, err := Attention(q, k, k, false, 0)
	if err == nil || !strings.Contains(err.Error(), "depth mismatch") {
		t.Fatalf("err = %v, want depth mismatch", err)
	}
}

func TestConv1DPaddingAndGroups(t *testing.T) {
	t.Parallel()

	in := mustTensorT(t, []float32{1, 2, 3, 10, 20, 30}, []int64{1, 2, 3})
	// Depthwise: one [1, 3] kernel per channel.
	kernel := mustTensorT(t, []float32{1, 1, 1, 0, 1, 0}, []int64{2, 1, 3})
	bias := mustTensorT(t, []float32{0, 0.5}, []int64{2})

	out, err := Conv1D(in, kernel, bias, Conv1DParams{Padding: 1, Groups: 2})
	if err != nil {
		t.Fatalf("conv1d: %v", err)
	}

	want := []float32{3, 6, 5, 10.5, 20.5, 30.5}
	got := out.Data()

	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("conv1d = %v, want %v", got, want)
		}
	}
}

func TestConv1DStride(t *testing.T) {
	t.Parallel()

	in := mustTensorT(t, []float32{1, 2, 3, 4, 5}, []int64{1, 1, 5})
	kernel := mustTensorT(t, []float32{1, -1}, []int64{1, 1, 2})

	out, err := Conv1D(in, kernel, nil, Conv1DParams{Stride: 2})
	if err != nil {
		t.Fatalf("conv1d: %v", err)
	}

	if got := out.Shape(); len(got) != 3 || got[2] != 2 {
		t.Fatalf("shape = %v, want [1 1 2]", got)
	}

	if got := out.Data(); got[0] != -1 || got[1] != -1 {
		t.Fatalf("conv1d = %v", got)
	}
}

func TestActivations(t *testing.T) {
	t.Parallel()

	x := mustTensorT(t, []float32{-4, -1, 0, 1, 7}, []int64{5})

	tests := []struct {
		name string
		want []float32
	}{
		{ActReLU, []float32{0, 0, 0, 1, 7}},
		{ActReLU6, []float32{0, 0, 0, 1, 6}},
		{ActHardSwish, []float32{0, -1.0 / 3, 0, 4.0 / 6, 7}},
		{ActHardSigmoid, []float32{0, 2.0 / 6, 0.5, 4.0 / 6, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Activate(tt.name, x)
			if err != nil {
				t.Fatalf("activate: %v", err)
			}

			got := out.Data()
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Fatalf("%s = %v, want %v", tt.name, got, tt.want)
				}
			}
		})
	}

	if _, err := Activate("swishy", x); err == nil {
		t.Fatal("expected unknown activation error")
	}
}

func TestCompareReportsWorstError(t *testing.T) {
	t.Parallel()

	want := mustTensorT(t, []float32{1, 2, 4}, []int64{3})
	got := mustTensorT(t, []float32{1, 2.5, 4}, []int64{3})

	r, err := Compare(got, want, DefaultTolerance())
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	if r.Pass {
		t.Fatal("report passed despite 0.5 drift")
	}

	if r.FirstViolation != 1 || r.Violations != 1 {
		t.Fatalf("violation bookkeeping wrong: %+v", r)
	}

	if math.Abs(r.MaxAbsErr-0.5) > 1e-9 || math.Abs(r.MaxRelErr-0.25) > 1e-9 {
		t.Fatalf("max errors = %v/%v", r.MaxAbsErr, r.MaxRelErr)
	}
}

func TestCompareShapeMismatch(t *testing.T) {
	t.Parallel()

	a := mustTensorT(t, []float32{1, 2}, []int64{2})
	b := mustTensorT(t, []float32{1, 2}, []int64{1, 2})

	r, err := Compare(a, b, DefaultTolerance())
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	if r.ShapeMatch || r.Pass {
		t.Fatalf("expected shape mismatch, got %+v", r)
	}

	if !strings.Contains(r.String(), "shape mismatch") {
		t.Fatalf("report string = %q", r.String())
	}
}

func TestToleranceValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultTolerance().Validate(); err != nil {
		t.Fatalf("default tolerance invalid: %v", err)
	}

	if err := (Tolerance{Abs: -1}).Validate(); err == nil {
		t.Fatal("expected negative tolerance error")
	}
}
