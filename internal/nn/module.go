// Package nn implements the eager model building blocks: layers that run
// directly on tensors and can also trace themselves into a graph.
package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// Mode is the train/inference flag of a model.
type Mode int

const (
	ModeTraining Mode = iota
	ModeInference
)

func (m Mode) String() string {
	if m == ModeInference {
		return "inference"
	}

	return "training"
}

var ErrNotInferenceMode = errors.New("nn: model is not in inference mode")

// RequireInference fails with ErrNotInferenceMode unless m is in inference
// mode.
func RequireInference(m Module) error {
	if m.Mode() != ModeInference {
		return fmt.Errorf("%w: %s is in %s mode", ErrNotInferenceMode, m.Name(), m.Mode())
	}

	return nil
}

// Parameter is a named weight. Names are unique within one model and are
// used as graph constant names.
type Parameter struct {
	Name  string
	Value *tensor.Tensor
}

// Module is a complete model: it takes a fixed-arity tuple of inputs and
// returns a tensor or a nested sequence of tensors.
type Module interface {
	Name() string
	Mode() Mode
	Train()
	Eval()
	Tape() *Tape
	Context() *Context
	Forward(ctx *Context, inputs []*tensor.Tensor) (value.Value, error)
	Trace(b *graph.Builder, inputs []graph.Ref) (graph.Output, error)
	Parameters() []Parameter
}

// Layer is a single-tensor building block.
type Layer interface {
	Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error)
	Trace(b *graph.Builder, x graph.Ref) (graph.Ref, error)
	Parameters() []Parameter
}

// Context carries per-call execution state into layers.
type Context struct {
	mode Mode
	tape *Tape
	rng  *rand.Rand
}

// NewContext builds a context. tape and rng may be nil.
func NewContext(mode Mode, tape *Tape, rng *rand.Rand) *Context {
	return &Context{mode: mode, tape: tape, rng: rng}
}

func (c *Context) Training() bool {
	return c != nil && c.mode == ModeTraining
}

// Record notes an executed op on the tape when gradient recording is on.
func (c *Context) Record(op string) {
	if c != nil && c.tape != nil {
		c.tape.Record(op)
	}
}

// Base holds the state every model shares: its name, mode flag, tape and
// dropout RNG. Models embed it.
type Base struct {
	name string
	mode Mode
	tape *Tape
	rng  *rand.Rand
}

// NewBase returns a model base in training mode with gradient recording on.
func NewBase(name string, seed uint64) *Base {
	tape := NewTape()
	tape.StartRecording()

	return &Base{
		name: name,
		mode: ModeTraining,
		tape: tape,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Mode() Mode { return b.mode }

func (b *Base) Train() { b.mode = ModeTraining }

func (b *Base) Eval() { b.mode = ModeInference }

func (b *Base) Tape() *Tape { return b.tape }

// Context returns a fresh context bound to the model's current state.
func (b *Base) Context() *Context {
	return NewContext(b.mode, b.tape, b.rng)
}

// Call runs m eagerly with its own context.
func Call(m Module, inputs []*tensor.Tensor) (value.Value, error) {
	return m.Forward(m.Context(), inputs)
}

// CollectParameters concatenates the parameters of layers, skipping nils.
func CollectParameters(layers ...Layer) []Parameter {
	var out []Parameter

	for _, l := range layers {
		if l == nil {
			continue
		}

		out = append(out, l.Parameters()...)
	}

	return out
}
