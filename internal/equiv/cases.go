package equiv

import (
	"context"
	"fmt"

	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// Case pairs a registered model with the policy used to judge it. A nil
// Tolerance means the default bound.
type Case struct {
	Model     models.ID
	Policy    Policy
	Tolerance *ops.Tolerance
}

func (c Case) options() []Option {
	if c.Tolerance == nil {
		return nil
	}

	return []Option{WithTolerance(*c.Tolerance)}
}

// PolicyFor maps a model family to its policy. There is no structural
// guessing: every family has exactly one policy.
func PolicyFor(f models.Family) (Policy, error) {
	switch f {
	case models.FamilyFlat:
		return FlatTensor(), nil
	case models.FamilyNested:
		return OneLevelNested(), nil
	default:
		return nil, fmt.Errorf("equiv: no policy for family %s", f)
	}
}

// DefaultCases returns the four reference checks.
func DefaultCases() []Case {
	return []Case{
		{Model: models.MV3, Policy: FlatTensor()},
		{Model: models.MV2, Policy: FlatTensor()},
		{Model: models.Emformer, Policy: OneLevelNested()},
		{Model: models.ViT, Policy: FlatTensor()},
	}
}

// CaseFor builds a case for any registered model using its family policy.
func CaseFor(reg *models.Registry, id models.ID) (Case, error) {
	e, err := reg.Entry(id)
	if err != nil {
		return Case{}, err
	}

	p, err := PolicyFor(e.Family)
	if err != nil {
		return Case{}, err
	}

	return Case{Model: id, Policy: p}, nil
}

// Source builds a fresh model and its example inputs. *models.Registry is
// the native source.
type Source interface {
	Get(id models.ID) (nn.Module, []*tensor.Tensor, error)
}

// RunCase builds a fresh model from src, switches it to inference mode and
// asserts equivalence.
func RunCase(ctx context.Context, src Source, c *Checker, tc Case) error {
	m, inputs, err := src.Get(tc.Model)
	if err != nil {
		return err
	}

	m.Eval()

	return c.AssertEquivalent(ctx, m, inputs, tc.Policy, tc.options()...)
}
