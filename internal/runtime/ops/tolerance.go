package ops

import (
	"fmt"
	"math"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Tolerance defines acceptable numeric drift between a reference execution
// and a compiled one, applied as |a-b| <= Abs + Rel*|b|.
type Tolerance struct {
	Abs float64
	Rel float64
}

// DefaultTolerance is the closeness bound used when a check does not
// override it.
func DefaultTolerance() Tolerance {
	return Tolerance{Abs: 1e-5, Rel: 1e-5}
}

func (t Tolerance) Validate() error {
	if t.Abs < 0 || t.Rel < 0 || math.IsNaN(t.Abs) || math.IsNaN(t.Rel) {
		return fmt.Errorf("ops: tolerance must be non-negative, got abs=%g rel=%g", t.Abs, t.Rel)
	}

	return nil
}

func (t Tolerance) String() string {
	return fmt.Sprintf("rtol=%g atol=%g", t.Rel, t.Abs)
}

// Report describes how far a compiled tensor is from its reference.
type Report struct {
	ShapeMatch bool
	GotShape   []int64
	WantShape  []int64
	MaxAbsErr  float64
	MaxRelErr  float64
	// Violations counts elements outside tolerance; FirstViolation is -1
	// when there are none.
	Violations     int
	FirstViolation int
	Tolerance      Tolerance
	Pass           bool
}

func (r Report) String() string {
	if !r.ShapeMatch {
		return fmt.Sprintf("shape mismatch: got %v want %v", r.GotShape, r.WantShape)
	}

	return fmt.Sprintf("max_abs=%.3g max_rel=%.3g violations=%d (%s)", r.MaxAbsErr, r.MaxRelErr, r.Violations, r.Tolerance)
}

// Compare checks every element of got against want under tol. want plays
// the role of b in the closeness bound.
func Compare(got, want *tensor.Tensor, tol Tolerance) (Report, error) {
	r := Report{Tolerance: tol, FirstViolation: -1}
	if got == nil || want == nil {
		return r, fmt.Errorf("ops: compare requires non-nil tensors")
	}

	r.GotShape = got.Shape()
	r.WantShape = want.Shape()

	if !tensor.SameShape(got, want) {
		return r, nil
	}

	r.ShapeMatch = true
	gd, wd := got.RawData(), want.RawData()

	for i := range gd {
		a, b := float64(gd[i]), float64(wd[i])
		absErr := math.Abs(a - b)

		switch {
		case a == b:
			absErr = 0
		case math.IsNaN(absErr):
			absErr = math.Inf(1)
		}

		r.MaxAbsErr = max(r.MaxAbsErr, absErr)
		if den := math.Abs(b); den > 0 {
			r.MaxRelErr = max(r.MaxRelErr, absErr/den)
		}

		if !tensor.IsClose(gd[i], wd[i], tol.Rel, tol.Abs) {
			if r.Violations == 0 {
				r.FirstViolation = i
			}

			r.Violations++
		}
	}

	r.Pass = r.Violations == 0

	return r, nil
}
