package equiv

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/example/go-aotcheck/internal/executor"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalModel(t *testing.T, id models.ID) (nn.Module, []*tensor.Tensor) {
	t.Helper()

	m, inputs, err := models.NewRegistry().Get(id)
	require.NoError(t, err)
	m.Eval()

	return m, inputs
}

type countingCompiler struct {
	calls int
	err   error
	next  export.Compiler
}

func (c *countingCompiler) Compile(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, opts export.Options) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}

	return c.next.Compile(ctx, m, inputs, opts)
}

type failingLoader struct{ err error }

func (l failingLoader) Load([]byte) (*executor.Handle, error) { return nil, l.err }

func TestDefaultCasesPass(t *testing.T) {
	t.Parallel()

	reg := models.NewRegistry()
	checker := NewChecker(nil, nil, nil)

	for _, tc := range DefaultCases() {
		t.Run(tc.Model.String(), func(t *testing.T) {
			t.Parallel()
			require.NoError(t, RunCase(context.Background(), reg, checker, tc))
		})
	}
}

func TestEveryRegisteredModelPassesWithItsFamilyPolicy(t *testing.T) {
	t.Parallel()

	reg := models.NewRegistry()
	checker := NewChecker(nil, nil, nil)

	for _, id := range reg.IDs() {
		tc, err := CaseFor(reg, id)
		require.NoError(t, err)
		require.NoError(t, RunCase(context.Background(), reg, checker, tc), id.String())
	}
}

func TestDefaultCasesMatchFamilies(t *testing.T) {
	t.Parallel()

	reg := models.NewRegistry()

	for _, tc := range DefaultCases() {
		want, err := CaseFor(reg, tc.Model)
		require.NoError(t, err)
		assert.Equal(t, want.Policy.Name(), tc.Policy.Name(), tc.Model.String())
	}

	emformer, err := CaseFor(reg, models.Emformer)
	require.NoError(t, err)
	assert.Equal(t, OneLevelNested().Name(), emformer.Policy.Name())

	_, err = PolicyFor(models.Family(42))
	require.Error(t, err)
}

func TestCheckIsIdempotent(t *testing.T) {
	t.Parallel()

	m, inputs := evalModel(t, models.ViT)
	m.Tape().StartRecording()
	before := m.Tape().NumOps()

	checker := NewChecker(nil, nil, nil)

	first, err := checker.Check(context.Background(), m, inputs, FlatTensor())
	require.NoError(t, err)
	second, err := checker.Check(context.Background(), m, inputs, FlatTensor())
	require.NoError(t, err)

	assert.True(t, first.Report.Pass)
	assert.True(t, second.Report.Pass)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Report.Tensor.MaxAbsErr, second.Report.Tensor.MaxAbsErr)

	a, err := first.Eager.Tensor()
	require.NoError(t, err)
	b, err := second.Eager.Tensor()
	require.NoError(t, err)
	assert.Equal(t, a.Data(), b.Data())

	assert.True(t, m.Tape().IsRecording(), "recording state must be restored")
	assert.Equal(t, before, m.Tape().NumOps(), "eager runs must not record")
}

func TestIdentityIsExact(t *testing.T) {
	t.Parallel()

	m, inputs := evalModel(t, models.Identity)

	res, err := NewChecker(nil, nil, nil).Check(context.Background(), m, inputs, FlatTensor())
	require.NoError(t, err)
	require.True(t, res.Report.Pass, res.Report.String())
	assert.Zero(t, res.Report.Tensor.MaxAbsErr)
	assert.Equal(t, -1, res.Report.Tensor.FirstViolation)
}

func TestSignInvertedOutputFails(t *testing.T) {
	t.Parallel()

	m, inputs := evalModel(t, models.MV3)

	negated := PolicyFunc(func(eager value.Value, compiled []value.Value, tol ops.Tolerance) (Report, error) {
		out, err := eager.Tensor()
		if err != nil {
			return Report{}, err
		}

		return FlatTensor().Compare(value.Of(tensor.Neg(out)), compiled, tol)
	})

	checker := NewChecker(nil, nil, nil)

	res, err := checker.Check(context.Background(), m, inputs, negated)
	require.NoError(t, err)
	assert.False(t, res.Report.Pass)
	assert.Positive(t, res.Report.Tensor.Violations)

	err = checker.AssertEquivalent(context.Background(), m, inputs, negated)
	require.ErrorIs(t, err, ErrNotEquivalent)
}

func TestWrongUnwrapDepthFailsStructurally(t *testing.T) {
	t.Parallel()

	checker := NewChecker(nil, nil, nil)

	cases := []struct {
		model  models.ID
		policy Policy
		reason string
	}{
		{models.Emformer, FlatTensor(), "eager is"},
		{models.Emformer, TwoLevelNested(), "eager[0][0]"},
		{models.MV3, OneLevelNested(), "eager[0]"},
		{models.ViT, TwoLevelNested(), "eager[0][0]"},
	}

	for _, tc := range cases {
		t.Run(tc.model.String()+"/"+tc.policy.Name(), func(t *testing.T) {
			t.Parallel()

			m, inputs := evalModel(t, tc.model)

			res, err := checker.Check(context.Background(), m, inputs, tc.policy)
			require.NoError(t, err)
			assert.False(t, res.Report.Pass)
			assert.Contains(t, res.Report.Reason, tc.reason)
			assert.Zero(t, res.Report.Tensor.Violations)
		})
	}
}

func TestPolicyDetectsCompiledDepth(t *testing.T) {
	t.Parallel()

	x := tensor.MustNew([]float32{1, 2}, []int64{2})

	// compiled[0] is a sequence, not the tensor FlatTensor expects.
	r, err := FlatTensor().Compare(value.Of(x), []value.Value{value.Tensors(x)}, ops.DefaultTolerance())
	require.NoError(t, err)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Reason, "compiled[0]")

	r, err = OneLevelNested().Compare(value.Tensors(x), []value.Value{value.Of(x)}, ops.DefaultTolerance())
	require.NoError(t, err)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Reason, "compiled[0][0]")

	r, err = FlatTensor().Compare(value.Of(x), nil, ops.DefaultTolerance())
	require.NoError(t, err)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Reason, "compiled[0]")

	y := tensor.MustNew([]float32{1, 2}, []int64{1, 2})
	r, err = FlatTensor().Compare(value.Of(x), []value.Value{value.Of(y)}, ops.DefaultTolerance())
	require.NoError(t, err)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Reason, "shape mismatch")
}

func TestToleranceBoundary(t *testing.T) {
	t.Parallel()

	tol := ops.DefaultTolerance()
	compare := func(eager, compiled float32) Report {
		t.Helper()

		r, err := FlatTensor().Compare(
			value.Of(tensor.Scalar(eager)),
			[]value.Value{value.Of(tensor.Scalar(compiled))},
			tol,
		)
		require.NoError(t, err)

		return r
	}

	// |a-b| == atol with b == 0.
	assert.True(t, compare(1e-5, 0).Pass)
	assert.True(t, compare(-1e-5, 0).Pass)
	// atol + rtol*|b| with b == 1 is 2e-5.
	assert.True(t, compare(1+1.5e-5, 1).Pass)
	assert.False(t, compare(1+2.5e-5, 1).Pass)
	assert.False(t, compare(2e-5, 0).Pass)

	nan := float32(0)
	nan /= nan
	assert.False(t, compare(nan, nan).Pass)

	// A looser per-check tolerance moves the boundary.
	r, err := FlatTensor().Compare(
		value.Of(tensor.Scalar(2e-5)),
		[]value.Value{value.Of(tensor.Scalar(0))},
		ops.Tolerance{Abs: 1e-4, Rel: 0},
	)
	require.NoError(t, err)
	assert.True(t, r.Pass)
}

func TestCaseToleranceOverride(t *testing.T) {
	t.Parallel()

	strict := ops.Tolerance{}
	tc := Case{Model: models.Identity, Policy: FlatTensor(), Tolerance: &strict}

	require.NoError(t, RunCase(context.Background(), models.NewRegistry(), NewChecker(nil, nil, nil), tc))

	bad := ops.Tolerance{Abs: -1}
	tc.Tolerance = &bad
	require.Error(t, RunCase(context.Background(), models.NewRegistry(), NewChecker(nil, nil, nil), tc))
}

func TestCheckRequiresInferenceModeBeforeExport(t *testing.T) {
	t.Parallel()

	m, inputs, err := models.NewRegistry().Get(models.MV2)
	require.NoError(t, err)

	compiler := &countingCompiler{next: export.NewPipeline(nil)}
	checker := NewChecker(compiler, nil, nil)

	_, err = checker.Check(context.Background(), m, inputs, FlatTensor())
	require.ErrorIs(t, err, ErrNotInferenceMode)
	assert.Zero(t, compiler.calls)

	m.Eval()
	_, err = checker.Check(context.Background(), m, inputs, FlatTensor())
	require.NoError(t, err)
	assert.Equal(t, 1, compiler.calls)
}

func TestCheckReportsFailingStage(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m, inputs := evalModel(t, models.Linear)

	cases := []struct {
		name    string
		checker *Checker
		stage   Stage
	}{
		{"export", NewChecker(&countingCompiler{err: boom}, nil, nil), StageExport},
		{"load", NewChecker(nil, failingLoader{err: boom}, nil), StageLoad},
	}

	for _, tc := range cases {
		_, err := tc.checker.Check(context.Background(), m, inputs, FlatTensor())

		var se *StageError
		require.ErrorAs(t, err, &se, tc.name)
		assert.Equal(t, tc.stage, se.Stage)
		require.ErrorIs(t, err, boom)
	}

	failing := PolicyFunc(func(value.Value, []value.Value, ops.Tolerance) (Report, error) {
		return Report{}, boom
	})

	_, err := NewChecker(nil, nil, nil).Check(context.Background(), m, inputs, failing)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageCompare, se.Stage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewChecker(nil, nil, nil).Check(ctx, m, inputs, FlatTensor())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCheckRejectsBadArguments(t *testing.T) {
	t.Parallel()

	m, inputs := evalModel(t, models.Linear)
	checker := NewChecker(nil, nil, nil)

	_, err := checker.Check(context.Background(), nil, inputs, FlatTensor())
	require.Error(t, err)

	_, err = checker.Check(context.Background(), m, inputs, nil)
	require.Error(t, err)

	_, err = checker.Check(context.Background(), m, inputs, FlatTensor(), WithTolerance(ops.Tolerance{Rel: -1}))
	require.Error(t, err)
}

func TestCheckLogsEveryStage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m, inputs := evalModel(t, models.Emformer)

	res, err := NewChecker(nil, nil, logger).Check(context.Background(), m, inputs, OneLevelNested())
	require.NoError(t, err)
	require.True(t, res.Report.Pass, res.Report.String())

	out := buf.String()
	for _, s := range []Stage{StageExport, StageLoad, StageEager, StageCompiled, StageCompare} {
		assert.Contains(t, out, `"stage":"`+string(s)+`"`)
		assert.Contains(t, res.Durations, s)
	}

	assert.Contains(t, out, `"policy":"validate_nested_allclose"`)
	assert.Contains(t, out, `"model":"emformer"`)
	assert.Contains(t, out, `"check_id":"`+res.ID.String()+`"`)
}
