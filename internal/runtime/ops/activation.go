package ops

import (
	"fmt"
	"math"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Activation names shared by eager layers, graph ops and the interpreter.
const (
	ActReLU        = "relu"
	ActReLU6       = "relu6"
	ActHardSwish   = "hardswish"
	ActHardSigmoid = "hardsigmoid"
	ActGELU        = "gelu"
	ActSigmoid     = "sigmoid"
	ActSiLU        = "silu"
	ActTanh        = "tanh"
)

var activations = map[string]func(float32) float32{
	ActReLU:        relu,
	ActReLU6:       relu6,
	ActHardSwish:   hardSwish,
	ActHardSigmoid: hardSigmoid,
	ActGELU:        gelu,
	ActSigmoid:     sigmoid,
	ActSiLU:        silu,
	ActTanh:        func(x float32) float32 { return float32(math.Tanh(float64(x))) },
}

// Activate applies the named element-wise activation.
func Activate(name string, x *tensor.Tensor) (*tensor.Tensor, error) {
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("ops: unknown activation %q", name)
	}

	return tensor.Map(x, fn), nil
}

// IsActivation reports whether name is a known activation.
func IsActivation(name string) bool {
	_, ok := activations[name]
	return ok
}

func relu(x float32) float32 {
	return max(x, 0)
}

func relu6(x float32) float32 {
	return min(max(x, 0), 6)
}

func hardSigmoid(x float32) float32 {
	return relu6(x+3) / 6
}

func hardSwish(x float32) float32 {
	return x * relu6(x+3) / 6
}

// gelu uses the tanh approximation.
func gelu(x float32) float32 {
	const c = 0.044715

	v := float64(x)
	inner := math.Sqrt(2/math.Pi) * (v + c*v*v*v)

	return float32(0.5 * v * (1 + math.Tanh(inner)))
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func silu(x float32) float32 {
	return x * sigmoid(x)
}
