package equivtest

import (
	"fmt"
	"testing"

	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// fatalTracker records Fatalf instead of stopping the test.
type fatalTracker struct {
	testing.TB
	failed bool
	msg    string
}

func (f *fatalTracker) Helper() {}

func (f *fatalTracker) Fatalf(format string, args ...any) {
	f.failed = true
	f.msg = fmt.Sprintf(format, args...)
}

func TestAssertEquivalentPasses(t *testing.T) {
	t.Parallel()

	m, inputs, err := models.NewRegistry().Get(models.Emformer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	m.Eval()

	res := AssertEquivalent(t, equiv.NewChecker(nil, nil, nil), m, inputs, equiv.OneLevelNested())
	if !res.Report.Pass {
		t.Fatalf("expected pass, got %v", res.Report)
	}
}

func TestAssertEquivalentFailsOnMismatch(t *testing.T) {
	t.Parallel()

	m, inputs, err := models.NewRegistry().Get(models.Linear)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	m.Eval()

	shifted := equiv.PolicyFunc(func(eager value.Value, compiled []value.Value, tol ops.Tolerance) (equiv.Report, error) {
		out, err := eager.Tensor()
		if err != nil {
			return equiv.Report{}, err
		}

		return equiv.FlatTensor().Compare(value.Of(tensor.Map(out, func(x float32) float32 { return x + 1 })), compiled, tol)
	})

	tracker := &fatalTracker{TB: t}
	AssertEquivalent(tracker, equiv.NewChecker(nil, nil, nil), m, inputs, shifted)

	if !tracker.failed {
		t.Fatal("expected Fatalf for a shifted output")
	}

	if tracker.msg == "" {
		t.Fatal("expected a failure message")
	}
}

func TestAssertEquivalentFailsOnTrainingModel(t *testing.T) {
	t.Parallel()

	m, inputs, err := models.NewRegistry().Get(models.Linear)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	tracker := &fatalTracker{TB: t}
	AssertEquivalent(tracker, equiv.NewChecker(nil, nil, nil), m, inputs, equiv.FlatTensor())

	if !tracker.failed {
		t.Fatal("expected Fatalf for a model in training mode")
	}
}
