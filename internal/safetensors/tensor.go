// Package safetensors reads and writes the safetensors container used for
// program constants and for exchanging tensors with the python exporter.
package safetensors

import (
	"fmt"
	"sort"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Tensor is one named float32 tensor.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// FromMap converts named runtime tensors, sorted by name.
func FromMap(m map[string]*tensor.Tensor) []Tensor {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]Tensor, 0, len(names))
	for _, name := range names {
		out = append(out, Tensor{Name: name, Shape: m[name].Shape(), Data: m[name].RawData()})
	}

	return out
}

// Runtime converts t to a runtime tensor.
func (t *Tensor) Runtime() (*tensor.Tensor, error) {
	rt, err := tensor.New(t.Data, t.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", t.Name, err)
	}

	return rt, nil
}

// DecodeMap decodes a payload into runtime tensors keyed by name.
func DecodeMap(data []byte) (map[string]*tensor.Tensor, map[string]string, error) {
	store, err := OpenStoreFromBytes(data)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	all, err := store.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]*tensor.Tensor, len(all))
	for name, t := range all {
		rt, err := t.Runtime()
		if err != nil {
			return nil, nil, err
		}

		out[name] = rt
	}

	return out, store.Metadata(), nil
}

// Sequence returns the tensors prefix.0, prefix.1, ... in index order.
func Sequence(m map[string]*tensor.Tensor, prefix string) ([]*tensor.Tensor, error) {
	var out []*tensor.Tensor

	for i := 0; ; i++ {
		t, ok := m[fmt.Sprintf("%s.%d", prefix, i)]
		if !ok {
			break
		}

		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors with prefix %q", prefix)
	}

	return out, nil
}

// SequenceTensors names ts as prefix.0, prefix.1, ...
func SequenceTensors(prefix string, ts []*tensor.Tensor) []Tensor {
	out := make([]Tensor, len(ts))
	for i, t := range ts {
		out[i] = Tensor{Name: fmt.Sprintf("%s.%d", prefix, i), Shape: t.Shape(), Data: t.RawData()}
	}

	return out
}
