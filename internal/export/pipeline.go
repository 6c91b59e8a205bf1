package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Compiler turns a model and its example inputs into a program buffer.
type Compiler interface {
	Compile(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, opts Options) ([]byte, error)
}

// Options are passed through to every stage of a compiler.
type Options struct {
	Capture CaptureConfig
	Edge    EdgeConfig
}

func DefaultOptions() Options {
	return Options{Capture: DefaultCaptureConfig(), Edge: DefaultEdgeConfig()}
}

// Pipeline is the native Compiler.
type Pipeline struct {
	logger *slog.Logger
}

// NewPipeline returns a pipeline logging to logger, or slog.Default() when
// logger is nil.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{logger: logger}
}

// Compile runs Capture, ToEdge and ToExecutorch and returns the buffer.
func (p *Pipeline) Compile(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	captured, err := Capture(m, inputs, opts.Capture)
	if err != nil {
		return nil, err
	}

	edge, err := captured.ToEdge(opts.Edge)
	if err != nil {
		return nil, err
	}

	et, err := edge.ToExecutorch()
	if err != nil {
		return nil, err
	}

	buf, err := et.Buffer()
	if err != nil {
		return nil, err
	}

	method, _ := et.Program().Method(program.MethodForward)
	p.logger.Debug("native export complete",
		"model", m.Name(),
		"captured_nodes", len(captured.Graph().Nodes),
		"edge_nodes", len(edge.Graph().Nodes),
		"instructions", len(method.Instructions),
		"slots", method.NumSlots,
		"bytes", len(buf),
		"ms", time.Since(start).Milliseconds(),
	)

	return buf, nil
}
