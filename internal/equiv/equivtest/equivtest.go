// Package equivtest adapts equiv checks to Go tests.
package equivtest

import (
	"context"
	"testing"

	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// AssertEquivalent fails tb unless the compiled program reproduces m's eager
// output on inputs under policy.
func AssertEquivalent(tb testing.TB, c *equiv.Checker, m nn.Module, inputs []*tensor.Tensor, policy equiv.Policy, opts ...equiv.Option) equiv.Result {
	tb.Helper()

	res, err := c.Check(context.Background(), m, inputs, policy, opts...)
	if err != nil {
		tb.Fatalf("check %s: %v", m.Name(), err)
		return res
	}

	if !res.Report.Pass {
		tb.Fatalf("%s: %v", m.Name(), res.Report)
	}

	return res
}
