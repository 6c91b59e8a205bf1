package nn

import (
	"math"
	"math/rand/v2"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Init draws deterministic weights from a seeded generator.
type Init struct {
	rng *rand.Rand
}

func NewInit(seed uint64) *Init {
	return &Init{rng: rand.New(rand.NewPCG(seed, seed+1))}
}

// Uniform returns a tensor with values in [-bound, bound).
func (in *Init) Uniform(shape []int64, bound float64) *tensor.Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = float32((in.rng.Float64()*2 - 1) * bound)
	}

	return tensor.MustNew(data, shape)
}

// FanIn returns a uniform tensor scaled like the usual 1/sqrt(fan_in)
// initialization.
func (in *Init) FanIn(shape []int64, fanIn int64) *tensor.Tensor {
	return in.Uniform(shape, 1/math.Sqrt(float64(max(fanIn, 1))))
}

// Normal returns a tensor of normally distributed values.
func (in *Init) Normal(shape []int64, std float64) *tensor.Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = float32(in.rng.NormFloat64() * std)
	}

	return tensor.MustNew(data, shape)
}

// Constant returns a tensor filled with v.
func Constant(shape []int64, v float32) *tensor.Tensor {
	t, err := tensor.Full(shape, v)
	if err != nil {
		panic(err)
	}

	return t
}
