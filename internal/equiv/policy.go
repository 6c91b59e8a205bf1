package equiv

import (
	"fmt"
	"strings"

	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// Report is the outcome of applying a policy. A structural failure (the
// outputs do not have the shape the policy expects) sets Reason and leaves
// Tensor empty.
type Report struct {
	Policy string
	Pass   bool
	Reason string
	Tensor ops.Report
}

func (r Report) String() string {
	status := "FAIL"
	if r.Pass {
		status = "PASS"
	}

	if r.Reason != "" {
		return fmt.Sprintf("%s %s: %s", status, r.Policy, r.Reason)
	}

	return fmt.Sprintf("%s %s: %s", status, r.Policy, r.Tensor)
}

// Policy decides whether a compiled output matches the eager one. compiled
// is the ordered collection returned by RunMethod.
type Policy interface {
	Name() string
	Compare(eager value.Value, compiled []value.Value, tol ops.Tolerance) (Report, error)
}

// PolicyFunc adapts a function into a Policy.
type PolicyFunc func(eager value.Value, compiled []value.Value, tol ops.Tolerance) (Report, error)

func (f PolicyFunc) Name() string { return "func" }

func (f PolicyFunc) Compare(eager value.Value, compiled []value.Value, tol ops.Tolerance) (Report, error) {
	return f(eager, compiled, tol)
}

// pathPolicy compares the eager tensor at eagerPath with the compiled tensor
// at compiledPath. Both paths must end on a tensor.
type pathPolicy struct {
	name         string
	eagerPath    []int
	compiledPath []int
}

// FlatTensor compares a single eager tensor with compiled[0].
func FlatTensor() Policy {
	return pathPolicy{name: "validate_tensor_allclose", compiledPath: []int{0}}
}

// OneLevelNested compares eager[0] with compiled[0][0], for models whose
// forward returns a (primary, auxiliary...) sequence.
func OneLevelNested() Policy {
	return pathPolicy{name: "validate_nested_allclose", eagerPath: []int{0}, compiledPath: []int{0, 0}}
}

// TwoLevelNested compares eager[0][0] with compiled[0][0][0].
func TwoLevelNested() Policy {
	return pathPolicy{name: "validate_two_level_nested_allclose", eagerPath: []int{0, 0}, compiledPath: []int{0, 0, 0}}
}

func (p pathPolicy) Name() string { return p.name }

func (p pathPolicy) Compare(eager value.Value, compiled []value.Value, tol ops.Tolerance) (Report, error) {
	r := Report{Policy: p.name}

	want, reason := tensorAt(eager, "eager", p.eagerPath)
	if reason != "" {
		r.Reason = reason
		return r, nil
	}

	got, reason := tensorAt(value.Seq(compiled...), "compiled", p.compiledPath)
	if reason != "" {
		r.Reason = reason
		return r, nil
	}

	return compareTensors(p.name, want, got, tol)
}

// compareTensors applies |eager-compiled| <= atol + rtol*|compiled|.
func compareTensors(policy string, eager, compiled *tensor.Tensor, tol ops.Tolerance) (Report, error) {
	tr, err := ops.Compare(eager, compiled, tol)
	if err != nil {
		return Report{}, err
	}

	r := Report{Policy: policy, Pass: tr.Pass, Tensor: tr}
	if !tr.ShapeMatch {
		r.Reason = fmt.Sprintf("shape mismatch: eager %v, compiled %v", tr.GotShape, tr.WantShape)
	}

	return r, nil
}

func tensorAt(v value.Value, label string, path []int) (*tensor.Tensor, string) {
	where := label + pathString(path)

	at, err := v.Index(path...)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", where, err)
	}

	t, err := at.Tensor()
	if err != nil {
		return nil, fmt.Sprintf("%s is %s, not a tensor: %v", where, at, err)
	}

	return t, ""
}

func pathString(path []int) string {
	var sb strings.Builder
	for _, i := range path {
		fmt.Fprintf(&sb, "[%d]", i)
	}

	return sb.String()
}
