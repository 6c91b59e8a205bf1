package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-aotcheck/internal/config"
	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/executor"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// torchModels are the models the export helper script knows about.
var torchModels = map[models.ID]bool{
	models.MV3:      true,
	models.MV2:      true,
	models.Emformer: true,
	models.ViT:      true,
}

// backend bundles what a command needs to build, compile and load models.
type backend struct {
	name     string
	registry *models.Registry
	source   equiv.Source
	compiler export.Compiler
	loader   executor.Loader
}

func newBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	reg := models.NewRegistry()

	switch cfg.Check.Backend {
	case config.BackendNative:
		return &backend{
			name:     config.BackendNative,
			registry: reg,
			source:   reg,
			compiler: export.NewPipeline(logger),
			loader:   executor.NewMulti(nil),
		}, nil
	case config.BackendTorch:
		py, err := export.NewPython(cfg.Python.Bin, cfg.Python.Script)
		if err != nil {
			return nil, err
		}

		onnx, err := executor.NewONNX(cfg.Runtime)
		if err != nil {
			return nil, fmt.Errorf("%w\nhint: set --ort-lib or ORT_LIBRARY_PATH", err)
		}

		return &backend{
			name:     config.BackendTorch,
			registry: reg,
			source:   torchSource{ctx: ctx, python: py},
			compiler: export.NewPythonCompiler(py),
			loader:   executor.NewMulti(onnx),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Check.Backend)
	}
}

func (b *backend) checker(logger *slog.Logger) *equiv.Checker {
	return equiv.NewChecker(b.compiler, b.loader, logger)
}

// torchSource builds models that run eagerly in the python helper.
type torchSource struct {
	ctx    context.Context
	python *export.Python
}

func (s torchSource) Get(id models.ID) (nn.Module, []*tensor.Tensor, error) {
	if !torchModels[id] {
		return nil, nil, fmt.Errorf("%w: %s has no torch counterpart", models.ErrUnknownModel, id)
	}

	m := export.NewTorchModel(id.String(), s.python)

	inputs, err := m.ExampleInputs(s.ctx)
	if err != nil {
		return nil, nil, err
	}

	return m, inputs, nil
}
