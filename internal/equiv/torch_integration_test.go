package equiv

import (
	"context"
	"testing"

	"github.com/example/go-aotcheck/internal/config"
	"github.com/example/go-aotcheck/internal/executor"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestTorchModelsMatchONNXRuntime(t *testing.T) {
	if testing.Short() {
		t.Skip("torch export is slow")
	}

	py := testutil.RequirePython(t)
	lib := testutil.RequireONNXRuntime(t)

	python, err := export.NewPython(py, "")
	require.NoError(t, err)

	onnx, err := executor.NewONNX(config.RuntimeConfig{ORTLibraryPath: lib})
	require.NoError(t, err)

	checker := NewChecker(export.NewPythonCompiler(python), executor.NewMulti(onnx), nil)

	for _, tc := range DefaultCases() {
		t.Run(tc.Model.String(), func(t *testing.T) {
			ctx := context.Background()

			m := export.NewTorchModel(tc.Model.String(), python)
			m.Eval()

			inputs, err := m.ExampleInputs(ctx)
			require.NoError(t, err)

			require.NoError(t, checker.AssertEquivalent(ctx, m, inputs, tc.Policy, tc.options()...))
		})
	}
}
