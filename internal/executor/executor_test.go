package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-aotcheck/internal/config"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiled(t *testing.T, id models.ID) (nn.Module, []*tensor.Tensor, []byte) {
	t.Helper()

	m, inputs, err := models.NewRegistry().Get(id)
	require.NoError(t, err)
	m.Eval()

	buf, err := export.NewPipeline(nil).Compile(context.Background(), m, inputs, export.DefaultOptions())
	require.NoError(t, err)

	return m, inputs, buf
}

func leaves(t *testing.T, v value.Value) []*tensor.Tensor {
	t.Helper()

	out := v.Flatten()
	require.NotEmpty(t, out)

	return out
}

func TestRunMethodMatchesEager(t *testing.T) {
	t.Parallel()

	for _, id := range models.IDs() {
		t.Run(id.String(), func(t *testing.T) {
			t.Parallel()

			m, inputs, buf := compiled(t, id)

			h, err := LoadFromBuffer(buf)
			require.NoError(t, err)
			defer h.Close()

			got, err := h.RunMethod(context.Background(), program.MethodForward, inputs)
			require.NoError(t, err)
			require.Len(t, got, 1)

			want, err := nn.Call(m, inputs)
			require.NoError(t, err)
			assert.Equal(t, want.Spec(), got[0].Spec())

			w, g := leaves(t, want), leaves(t, got[0])
			for i := range w {
				assert.True(t, tensor.AllClose(g[i], w[i], 1e-5, 1e-5), "leaf %d", i)
			}
		})
	}
}

func TestRunMethodWrapsNestedOutputAtIndexZero(t *testing.T) {
	t.Parallel()

	_, inputs, buf := compiled(t, models.Emformer)

	h, err := LoadFromBuffer(buf)
	require.NoError(t, err)

	got, err := h.RunMethod(context.Background(), program.MethodForward, inputs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Len())

	out, err := got[0].Index(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 8, 16}, out.Flatten()[0].Shape())
}

func TestRunMethodErrors(t *testing.T) {
	t.Parallel()

	_, inputs, buf := compiled(t, models.Linear)

	h, err := LoadFromBuffer(buf)
	require.NoError(t, err)

	_, err = h.RunMethod(context.Background(), "backward", inputs)
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = h.RunMethod(context.Background(), program.MethodForward, nil)
	require.ErrorIs(t, err, ErrInputMismatch)

	_, err = h.RunMethod(context.Background(), program.MethodForward, []*tensor.Tensor{nil})
	require.ErrorIs(t, err, ErrInputMismatch)

	wrong := tensor.MustNew(make([]float32, 12), []int64{3, 4})
	_, err = h.RunMethod(context.Background(), program.MethodForward, []*tensor.Tensor{wrong})
	require.ErrorIs(t, err, ErrInputMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.RunMethod(ctx, program.MethodForward, inputs)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIdentityOutputDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	_, inputs, buf := compiled(t, models.Identity)

	h, err := LoadFromBuffer(buf)
	require.NoError(t, err)

	got, err := h.RunMethod(context.Background(), program.MethodForward, inputs)
	require.NoError(t, err)

	out, err := got[0].Tensor()
	require.NoError(t, err)
	assert.NotSame(t, inputs[0], out)
	assert.Equal(t, inputs[0].Data(), out.Data())
}

func TestLoadRejectsBadBuffers(t *testing.T) {
	t.Parallel()

	_, err := LoadFromBuffer([]byte("not a program"))
	require.ErrorIs(t, err, program.ErrBadMagic)

	onnx, err := program.Encode(&program.Program{
		Version: program.Version,
		Format:  program.FormatONNX,
		Payload: []byte("onnx"),
		Methods: []program.Method{{
			Name:        program.MethodForward,
			Output:      value.Leaf(),
			InputNames:  []string{"input.0"},
			OutputNames: []string{"output.0"},
		}},
	})
	require.NoError(t, err)

	_, err = LoadFromBuffer(onnx)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewMulti(nil).Load(onnx)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, graphBuf := compiled(t, models.Identity)
	_, err = (&ONNX{}).Load(graphBuf)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNativeChecksKernelsAtLoad(t *testing.T) {
	t.Parallel()

	p := &program.Program{
		Version: program.Version,
		Format:  program.FormatGraph,
		Methods: []program.Method{{
			Name:         program.MethodForward,
			InputSlots:   []int{0},
			InputShapes:  [][]int64{{2}},
			Output:       value.Leaf(),
			OutputSlots:  []int{1},
			NumSlots:     2,
			Instructions: []program.Instruction{{Op: "negate", Inputs: []int{0}, Output: 1}},
		}},
	}

	buf, err := program.Encode(p)
	require.NoError(t, err)

	_, err = LoadFromBuffer(buf)
	require.ErrorIs(t, err, graph.ErrUnsupportedOp)

	k := graph.NewKernels()
	k.Register("negate", func(_ graph.Attrs, in []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Neg(in[0]), nil
	})

	h, err := NewMulti(nil).Load(buf)
	require.ErrorIs(t, err, graph.ErrUnsupportedOp)
	assert.Nil(t, h)

	h, err = NewNative(k).Load(buf)
	require.NoError(t, err)

	got, err := h.RunMethod(context.Background(), program.MethodForward, []*tensor.Tensor{tensor.MustNew([]float32{1, -2}, []int64{2})})
	require.NoError(t, err)

	out, err := got[0].Tensor()
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 2}, out.Data())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestDetectORT(t *testing.T) {
	t.Parallel()

	lib := filepath.Join(t.TempDir(), "libonnxruntime.so.1.20.1")
	require.NoError(t, os.WriteFile(lib, []byte("fake"), 0o644))

	info, err := DetectORT(config.RuntimeConfig{ORTLibraryPath: lib})
	require.NoError(t, err)
	assert.Equal(t, lib, info.LibraryPath)
	assert.Equal(t, "1.20.1", info.Version)

	info, err = DetectORT(config.RuntimeConfig{ORTLibraryPath: lib, ORTVersion: "1.22.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.22.0", info.Version)

	_, err = DetectORT(config.RuntimeConfig{ORTLibraryPath: filepath.Join(t.TempDir(), "missing.so")})
	require.Error(t, err)

	_, err = NewONNX(config.RuntimeConfig{ORTLibraryPath: filepath.Join(t.TempDir(), "missing.so")})
	require.Error(t, err)
}
