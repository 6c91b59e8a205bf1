// Package equiv checks that a model's eager output matches the output of its
// compiled program. A check exports the model, loads the program buffer,
// runs the model eagerly with recording disabled, runs the compiled
// "forward" method on the same inputs and hands both results to a policy.
package equiv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-aotcheck/internal/executor"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/nn"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

var (
	ErrNotEquivalent    = errors.New("equiv: eager and compiled outputs differ")
	ErrNotInferenceMode = nn.ErrNotInferenceMode
)

// Stage names a step of a check.
type Stage string

const (
	StageExport   Stage = "export"
	StageLoad     Stage = "load"
	StageEager    Stage = "eager"
	StageCompiled Stage = "compiled"
	StageCompare  Stage = "compare"
)

// StageError reports which step of a check failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("equiv: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result carries everything a check produced. Report.Pass is the verdict.
type Result struct {
	// ID tags the check's log records.
	ID        uuid.UUID
	Model     string
	Report    Report
	Eager     value.Value
	Compiled  []value.Value
	Durations map[Stage]time.Duration
}

type options struct {
	tol    ops.Tolerance
	export export.Options
	method string
}

// Option customizes a single check.
type Option func(*options)

// WithTolerance overrides the default rtol=atol=1e-5 bound.
func WithTolerance(tol ops.Tolerance) Option {
	return func(o *options) { o.tol = tol }
}

// WithExportOptions replaces the capture and edge configuration.
func WithExportOptions(eo export.Options) Option {
	return func(o *options) { o.export = eo }
}

// Checker runs equivalence checks. The zero value is not usable; use
// NewChecker.
type Checker struct {
	compiler export.Compiler
	loader   executor.Loader
	logger   *slog.Logger
}

// NewChecker wires a compiler and loader. Nil arguments fall back to the
// native pipeline, the native interpreter and slog.Default().
func NewChecker(compiler export.Compiler, loader executor.Loader, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}

	if compiler == nil {
		compiler = export.NewPipeline(logger)
	}

	if loader == nil {
		loader = executor.NewMulti(nil)
	}

	return &Checker{compiler: compiler, loader: loader, logger: logger}
}

// Check runs one comparison. A failing policy is not an error: it returns a
// Result whose Report.Pass is false. Errors are reserved for steps that
// could not run, and are *StageError values except for the up-front
// argument checks.
func (c *Checker) Check(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, policy Policy, opts ...Option) (Result, error) {
	o := options{
		tol:    ops.DefaultTolerance(),
		export: export.DefaultOptions(),
		method: program.MethodForward,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if m == nil {
		return Result{}, errors.New("equiv: nil model")
	}

	if policy == nil {
		return Result{}, errors.New("equiv: nil policy")
	}

	if err := o.tol.Validate(); err != nil {
		return Result{}, fmt.Errorf("equiv: %w", err)
	}

	if err := nn.RequireInference(m); err != nil {
		return Result{}, fmt.Errorf("equiv: %w", err)
	}

	res := Result{ID: uuid.New(), Model: m.Name(), Durations: make(map[Stage]time.Duration, 5)}
	log := c.logger.With("check_id", res.ID.String(), "model", m.Name(), "policy", policy.Name())

	stage := func(s Stage, fn func() error) error {
		start := time.Now()
		err := fn()
		res.Durations[s] = time.Since(start)

		if err != nil {
			log.Debug("stage failed", "stage", string(s), "error", err)
			return &StageError{Stage: s, Err: err}
		}

		log.Debug("stage complete", "stage", string(s), "ms", res.Durations[s].Milliseconds())

		return nil
	}

	var buf []byte
	if err := stage(StageExport, func() (err error) {
		buf, err = c.compiler.Compile(ctx, m, inputs, o.export)
		return err
	}); err != nil {
		return res, err
	}

	var h *executor.Handle
	if err := stage(StageLoad, func() (err error) {
		h, err = c.loader.Load(buf)
		return err
	}); err != nil {
		return res, err
	}
	defer h.Close()

	if err := stage(StageEager, func() error {
		return nn.NoGrad(m, func() (err error) {
			res.Eager, err = m.Forward(m.Context(), inputs)
			return err
		})
	}); err != nil {
		return res, err
	}

	if err := stage(StageCompiled, func() (err error) {
		res.Compiled, err = h.RunMethod(ctx, o.method, inputs)
		return err
	}); err != nil {
		return res, err
	}

	if err := stage(StageCompare, func() (err error) {
		res.Report, err = policy.Compare(res.Eager, res.Compiled, o.tol)
		return err
	}); err != nil {
		return res, err
	}

	log.Info("check complete", "pass", res.Report.Pass, "report", res.Report.String())

	return res, nil
}

// AssertEquivalent runs Check and turns a failing report into an error
// wrapping ErrNotEquivalent.
func (c *Checker) AssertEquivalent(ctx context.Context, m nn.Module, inputs []*tensor.Tensor, policy Policy, opts ...Option) error {
	res, err := c.Check(ctx, m, inputs, policy, opts...)
	if err != nil {
		return err
	}

	if !res.Report.Pass {
		return fmt.Errorf("%w: %s: %s", ErrNotEquivalent, res.Model, res.Report)
	}

	return nil
}
