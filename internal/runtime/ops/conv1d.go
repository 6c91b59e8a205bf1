package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Conv1DParams holds the geometry of a 1-D convolution.
type Conv1DParams struct {
	Stride   int64
	Padding  int64
	Dilation int64
	Groups   int64
}

func (p Conv1DParams) withDefaults() Conv1DParams {
	if p.Stride == 0 {
		p.Stride = 1
	}

	if p.Dilation == 0 {
		p.Dilation = 1
	}

	if p.Groups == 0 {
		p.Groups = 1
	}

	return p
}

// Conv1D performs a deterministic CPU Conv1d.
// input: [batch, in_channels, length]
// kernel: [out_channels, in_channels/groups, kernel_size]
func Conv1D(input, kernel, bias *tensor.Tensor, p Conv1DParams) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: conv1d requires non-nil input/kernel")
	}

	p = p.withDefaults()
	if p.Stride < 0 || p.Dilation < 0 || p.Groups < 0 || p.Padding < 0 {
		return nil, fmt.Errorf("ops: conv1d invalid params %+v", p)
	}

	inShape, kShape := input.Shape(), kernel.Shape()
	if len(inShape) != 3 || len(kShape) != 3 {
		return nil, fmt.Errorf("ops: conv1d expects input/kernel rank 3, got %v and %v", inShape, kShape)
	}

	batch, inCh, length := inShape[0], inShape[1], inShape[2]
	outCh, kInCh, kSize := kShape[0], kShape[1], kShape[2]

	if inCh%p.Groups != 0 || outCh%p.Groups != 0 {
		return nil, fmt.Errorf("ops: conv1d channels not divisible by groups (%d, %d, groups=%d)", inCh, outCh, p.Groups)
	}

	if kInCh != inCh/p.Groups {
		return nil, fmt.Errorf("ops: conv1d kernel in_channels/groups mismatch: got %d want %d", kInCh, inCh/p.Groups)
	}

	if bias != nil {
		if bShape := bias.Shape(); len(bShape) != 1 || bShape[0] != outCh {
			return nil, fmt.Errorf("ops: conv1d bias shape %v does not match out_channels %d", bShape, outCh)
		}
	}

	outLen := (length+2*p.Padding-p.Dilation*(kSize-1)-1)/p.Stride + 1
	if outLen <= 0 {
		return nil, fmt.Errorf("ops: conv1d produced non-positive output length %d", outLen)
	}

	in, kd, bd := input.RawData(), kernel.RawData(), bias.RawData()
	out := make([]float32, batch*outCh*outLen)
	outPerGroup := outCh / p.Groups

	for b := range batch {
		for oc := range outCh {
			inStart := (oc / outPerGroup) * kInCh

			for ox := range outLen {
				var sum float32
				if bd != nil {
					sum = bd[oc]
				}

				for ic := range kInCh {
					inRow := in[(b*inCh+inStart+ic)*length:][:length]
					kRow := kd[(oc*kInCh+ic)*kSize:][:kSize]

					for kx := range kSize {
						pos := ox*p.Stride - p.Padding + kx*p.Dilation
						if pos >= 0 && pos < length {
							sum += inRow[pos] * kRow[kx]
						}
					}
				}

				out[(b*outCh+oc)*outLen+ox] = sum
			}
		}
	}

	return tensor.New(out, []int64{batch, outCh, outLen})
}
