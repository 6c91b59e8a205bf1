// Package export turns an eager model into a compiled program buffer. The
// native path runs in three stages: Capture traces the model into a graph,
// ToEdge lowers it to the restricted edge op set, and ToExecutorch plans it
// into a program whose Buffer is the artifact.
package export

import (
	"errors"
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

var ErrNotTraceable = errors.New("export: model cannot be traced")

// CaptureConfig controls graph capture.
type CaptureConfig struct {
	// AllowTraining permits capturing a model left in training mode.
	// Dropout is captured as a no-op either way.
	AllowTraining bool
	// Kernels evaluates nodes during capture. Nil uses graph.NewKernels().
	Kernels *graph.Kernels
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{}
}

// EdgeConfig controls lowering to the edge dialect.
type EdgeConfig struct {
	// Passes run in order before verification.
	Passes []graph.Pass
}

func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{Passes: graph.EdgePasses()}
}

// Captured is a traced model graph.
type Captured struct {
	name    string
	graph   *graph.Graph
	kernels *graph.Kernels
}

// Capture traces m on the example inputs. Every node is evaluated on the
// examples while tracing, so shape errors surface here.
func Capture(m nn.Module, inputs []*tensor.Tensor, cfg CaptureConfig) (*Captured, error) {
	if m == nil {
		return nil, errors.New("export: capture of nil model")
	}

	if !cfg.AllowTraining {
		if err := nn.RequireInference(m); err != nil {
			return nil, fmt.Errorf("export: capture: %w", err)
		}
	}

	if len(inputs) == 0 {
		return nil, fmt.Errorf("export: capture %s: no example inputs", m.Name())
	}

	kernels := cfg.Kernels
	if kernels == nil {
		kernels = graph.NewKernels()
	}

	b := graph.NewBuilder(kernels)
	refs := make([]graph.Ref, len(inputs))

	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("export: capture %s: input %d is nil", m.Name(), i)
		}

		refs[i] = b.Input(in)
	}

	out, err := m.Trace(b, refs)
	if err != nil {
		return nil, fmt.Errorf("export: capture %s: %w", m.Name(), err)
	}

	g, err := b.Finish(out)
	if err != nil {
		return nil, fmt.Errorf("export: capture %s: %w", m.Name(), err)
	}

	if err := graph.Validate(g); err != nil {
		return nil, fmt.Errorf("export: capture %s: %w", m.Name(), err)
	}

	return &Captured{name: m.Name(), graph: g, kernels: kernels}, nil
}

// Graph returns the captured graph. Callers must not modify it.
func (c *Captured) Graph() *graph.Graph {
	return c.graph
}

// ToEdge lowers the captured graph and verifies that only edge ops remain.
func (c *Captured) ToEdge(cfg EdgeConfig) (*EdgeProgram, error) {
	g, err := graph.RunPasses(c.graph, c.kernels, cfg.Passes...)
	if err != nil {
		return nil, fmt.Errorf("export: to_edge %s: %w", c.name, err)
	}

	if err := graph.VerifyEdge(g); err != nil {
		return nil, fmt.Errorf("export: to_edge %s: %w", c.name, err)
	}

	return &EdgeProgram{name: c.name, graph: g}, nil
}

// EdgeProgram is a graph restricted to edge ops.
type EdgeProgram struct {
	name  string
	graph *graph.Graph
}

func (e *EdgeProgram) Graph() *graph.Graph {
	return e.graph
}

// ToExecutorch plans the edge graph into a program with a single forward
// method.
func (e *EdgeProgram) ToExecutorch() (*ExecutorchProgram, error) {
	p, err := program.FromGraph(e.graph, program.MethodForward)
	if err != nil {
		return nil, fmt.Errorf("export: to_executorch %s: %w", e.name, err)
	}

	return &ExecutorchProgram{program: p}, nil
}

// ExecutorchProgram is a planned program ready for serialization.
type ExecutorchProgram struct {
	program *program.Program
}

func (p *ExecutorchProgram) Program() *program.Program {
	return p.program
}

// Buffer serializes the program.
func (p *ExecutorchProgram) Buffer() ([]byte, error) {
	return program.Encode(p.program)
}
