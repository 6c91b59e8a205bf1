// Package models is the model source: a registration table from typed model
// identifiers to factories returning a fresh model and its example inputs.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

var ErrUnknownModel = errors.New("models: unknown model")

// ID identifies a registered model.
type ID int

const (
	MV3 ID = iota + 1
	MV2
	Emformer
	ViT
	Identity
	Linear
	MLP
)

var idNames = map[ID]string{
	MV3:      "mv3",
	MV2:      "mv2",
	Emformer: "emformer",
	ViT:      "vit",
	Identity: "identity",
	Linear:   "linear",
	MLP:      "mlp",
}

func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}

	return fmt.Sprintf("model(%d)", int(id))
}

// ParseID maps a model name to its ID.
func ParseID(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, n := range idNames {
		if n == name {
			return id, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// IDs lists the built-in model IDs in declaration order.
func IDs() []ID {
	return []ID{MV3, MV2, Emformer, ViT, Identity, Linear, MLP}
}

// Family groups models by the structure of their forward output.
type Family int

const (
	// FamilyFlat models return a single tensor.
	FamilyFlat Family = iota
	// FamilyNested models return an ordered (primary, auxiliary...) tuple.
	FamilyNested
)

func (f Family) String() string {
	if f == FamilyNested {
		return "nested"
	}

	return "flat"
}

// Factory builds a fresh model in training mode together with example
// inputs. Repeated calls must return identical weights and inputs.
type Factory func() (nn.Module, []*tensor.Tensor, error)

type Entry struct {
	Family      Family
	Description string
	New         Factory
}

// Registry is a model registration table. Each registry is independent;
// there is no process-wide instance.
type Registry struct {
	entries map[ID]Entry
}

// NewRegistry returns a registry holding every built-in model.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[ID]Entry)}

	for id, e := range builtins() {
		r.entries[id] = e
	}

	return r
}

// Register adds or replaces the entry for id.
func (r *Registry) Register(id ID, e Entry) error {
	if e.New == nil {
		return fmt.Errorf("models: %s has no factory", id)
	}

	r.entries[id] = e

	return nil
}

// Get constructs a fresh model and its example inputs.
func (r *Registry) Get(id ID) (nn.Module, []*tensor.Tensor, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	m, inputs, err := e.New()
	if err != nil {
		return nil, nil, fmt.Errorf("models: build %s: %w", id, err)
	}

	return m, inputs, nil
}

// GetByName is Get for a textual model name.
func (r *Registry) GetByName(name string) (nn.Module, []*tensor.Tensor, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, nil, err
	}

	return r.Get(id)
}

func (r *Registry) Entry(id ID) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	return e, nil
}

// IDs lists registered IDs in ascending order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func builtins() map[ID]Entry {
	return map[ID]Entry{
		MV3:      {Family: FamilyFlat, Description: "MobileNetV3-style classifier", New: newMV3},
		MV2:      {Family: FamilyFlat, Description: "MobileNetV2-style classifier", New: newMV2},
		Emformer: {Family: FamilyNested, Description: "streaming encoder returning (output, memory)", New: newEmformer},
		ViT:      {Family: FamilyFlat, Description: "vision transformer classifier", New: newViT},
		Identity: {Family: FamilyFlat, Description: "forward(x) = x", New: newIdentity},
		Linear:   {Family: FamilyFlat, Description: "single linear layer", New: newLinear},
		MLP:      {Family: FamilyFlat, Description: "two-layer GELU MLP with dropout", New: newMLP},
	}
}

// seedFor gives every model its own fixed weight seed.
func seedFor(id ID) uint64 {
	return 0x5eed0000 + uint64(id)
}

// exampleInputs draws inputs from a seed distinct from the weight seed.
func exampleInputs(id ID, shapes ...[]int64) []*tensor.Tensor {
	in := nn.NewInit(seedFor(id) ^ 0xface)

	out := make([]*tensor.Tensor, len(shapes))
	for i, s := range shapes {
		out[i] = in.Uniform(s, 1)
	}

	return out
}
