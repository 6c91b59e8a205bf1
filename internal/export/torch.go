package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/safetensors"
	"github.com/example/go-aotcheck/internal/value"
)

const (
	inputPrefix  = "input"
	outputPrefix = "output"
	treeKey      = "tree"
)

// exportManifest is written by the helper next to the exported model.
type exportManifest struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Tree    string   `json:"tree"`
}

// TorchModel is a torch model living in the helper script. Its eager
// forward runs the model in python and reads the outputs back.
type TorchModel struct {
	*nn.Base
	python *Python
}

func NewTorchModel(name string, py *Python) *TorchModel {
	return &TorchModel{Base: nn.NewBase(name, 0), python: py}
}

// ExampleInputs asks the helper for the model's example inputs.
func (m *TorchModel) ExampleInputs(ctx context.Context) ([]*tensor.Tensor, error) {
	dir, err := os.MkdirTemp("", "aotcheck-inputs-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "inputs.safetensors")
	if err := m.python.run(ctx, "inputs", "--model", m.Name(), "--out", out); err != nil {
		return nil, err
	}

	ts, _, err := readSequence(out, inputPrefix)
	if err != nil {
		return nil, fmt.Errorf("read %s example inputs: %w", m.Name(), err)
	}

	return ts, nil
}

// Forward runs the model eagerly in python under torch.no_grad. The model
// mode is forwarded so dropout behaves the same on both sides.
func (m *TorchModel) Forward(ctx *nn.Context, inputs []*tensor.Tensor) (value.Value, error) {
	ctx.Record("torch." + m.Name())

	dir, err := os.MkdirTemp("", "aotcheck-eager-*")
	if err != nil {
		return value.Value{}, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "inputs.safetensors")
	if err := safetensors.WriteFile(in, safetensors.SequenceTensors(inputPrefix, inputs), nil); err != nil {
		return value.Value{}, fmt.Errorf("write %s inputs: %w", m.Name(), err)
	}

	out := filepath.Join(dir, "outputs.safetensors")
	args := []string{"eager", "--model", m.Name(), "--inputs", in, "--out", out}

	if ctx.Training() {
		args = append(args, "--train")
	}

	if err := m.python.run(context.Background(), args...); err != nil {
		return value.Value{}, err
	}

	ts, meta, err := readSequence(out, outputPrefix)
	if err != nil {
		return value.Value{}, fmt.Errorf("read %s outputs: %w", m.Name(), err)
	}

	spec, err := value.ParseTreeSpec(meta[treeKey])
	if err != nil {
		return value.Value{}, fmt.Errorf("%s output tree: %w", m.Name(), err)
	}

	return spec.Unflatten(ts)
}

// Trace always fails: torch models are captured by the helper.
func (m *TorchModel) Trace(_ *graph.Builder, _ []graph.Ref) (graph.Output, error) {
	return graph.Output{}, fmt.Errorf("%w: %s is a torch model, use the python compiler", ErrNotTraceable, m.Name())
}

func (m *TorchModel) Parameters() []nn.Parameter { return nil }

// PythonCompiler exports torch models to ONNX through the helper script and
// wraps the ONNX bytes in a program container.
type PythonCompiler struct {
	python *Python
}

func NewPythonCompiler(py *Python) *PythonCompiler {
	return &PythonCompiler{python: py}
}

func (c *PythonCompiler) Compile(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, opts Options) ([]byte, error) {
	tm, ok := m.(*TorchModel)
	if !ok {
		return nil, fmt.Errorf("%w: python compiler needs a torch model, got %T", ErrNotTraceable, m)
	}

	if !opts.Capture.AllowTraining {
		if err := nn.RequireInference(tm); err != nil {
			return nil, fmt.Errorf("export: capture: %w", err)
		}
	}

	dir, err := os.MkdirTemp("", "aotcheck-export-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "inputs.safetensors")
	if err := safetensors.WriteFile(in, safetensors.SequenceTensors(inputPrefix, inputs), nil); err != nil {
		return nil, fmt.Errorf("write %s inputs: %w", tm.Name(), err)
	}

	if err := c.python.run(ctx, "export", "--model", tm.Name(), "--inputs", in, "--out-dir", dir); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, "export.json"))
	if err != nil {
		return nil, fmt.Errorf("read export manifest: %w", err)
	}

	var manifest exportManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode export manifest: %w", err)
	}

	spec, err := value.ParseTreeSpec(manifest.Tree)
	if err != nil {
		return nil, fmt.Errorf("export manifest tree: %w", err)
	}

	payload, err := os.ReadFile(filepath.Join(dir, "model.onnx"))
	if err != nil {
		return nil, fmt.Errorf("read exported model: %w", err)
	}

	shapes := make([][]int64, len(inputs))
	for i, t := range inputs {
		shapes[i] = t.Shape()
	}

	return program.Encode(&program.Program{
		Version: program.Version,
		Format:  program.FormatONNX,
		Payload: payload,
		Methods: []program.Method{{
			Name:        program.MethodForward,
			InputShapes: shapes,
			Output:      spec,
			InputNames:  manifest.Inputs,
			OutputNames: manifest.Outputs,
		}},
	})
}

func readSequence(path, prefix string) ([]*tensor.Tensor, map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	m, meta, err := safetensors.DecodeMap(raw)
	if err != nil {
		return nil, nil, err
	}

	ts, err := safetensors.Sequence(m, prefix)
	if err != nil {
		return nil, nil, err
	}

	return ts, meta, nil
}
