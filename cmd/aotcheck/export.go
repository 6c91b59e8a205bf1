package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-aotcheck/internal/export"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var modelName string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a model and write its program buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if outPath == "" {
				return errors.New("--out is required")
			}

			id, err := models.ParseID(modelName)
			if err != nil {
				return err
			}

			b, err := newBackend(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}

			m, inputs, err := b.source.Get(id)
			if err != nil {
				return err
			}

			m.Eval()

			buf, err := b.compiler.Compile(cmd.Context(), m, inputs, export.DefaultOptions())
			if err != nil {
				return fmt.Errorf("export %s: %w", id, err)
			}

			p, err := program.Decode(buf)
			if err != nil {
				return err
			}

			if err := os.WriteFile(outPath, buf, 0o644); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s program for %s (%d bytes, methods %v) to %s\n",
				p.Format, id, len(buf), p.MethodNames(), outPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&modelName, "model", models.MV3.String(), "Model to export")
	cmd.Flags().StringVar(&outPath, "out", "", "Output program file")

	return cmd
}
