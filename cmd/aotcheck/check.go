package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/runtime/ops"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "check [model...]",
		Short: "Export models, run the compiled programs and compare with eager output",
		Long: "Export models, run the compiled programs and compare with eager output.\n\n" +
			"Without arguments the reference set (mv3, mv2, emformer, vit) is checked.\n" +
			"The torch backend requires Python tooling (torch, torchvision, torchaudio, onnx) and ONNX Runtime.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()

			b, err := newBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			cases, err := selectCases(b.registry, args, all)
			if err != nil {
				return err
			}

			tol := ops.Tolerance{Abs: cfg.Check.ATol, Rel: cfg.Check.RTol}
			checker := b.checker(logger)
			out := cmd.OutOrStdout()

			failed := 0

			for _, tc := range cases {
				tc.Tolerance = &tol

				if err := equiv.RunCase(cmd.Context(), b.source, checker, tc); err != nil {
					failed++
					_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", tc.Model, err)

					continue
				}

				_, _ = fmt.Fprintf(out, "PASS %s\n", tc.Model)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed (backend %s, %s)", failed, len(cases), b.name, tol)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Check every registered model")

	return cmd
}

func selectCases(reg *models.Registry, names []string, all bool) ([]equiv.Case, error) {
	if all && len(names) > 0 {
		return nil, errors.New("--all cannot be combined with model names")
	}

	if !all && len(names) == 0 {
		return equiv.DefaultCases(), nil
	}

	var ids []models.ID
	if all {
		ids = reg.IDs()
	} else {
		for _, name := range names {
			id, err := models.ParseID(name)
			if err != nil {
				return nil, err
			}

			ids = append(ids, id)
		}
	}

	cases := make([]equiv.Case, 0, len(ids))

	for _, id := range ids {
		tc, err := equiv.CaseFor(reg, id)
		if err != nil {
			return nil, err
		}

		cases = append(cases, tc)
	}

	return cases, nil
}
