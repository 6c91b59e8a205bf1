package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/example/go-aotcheck/internal/models"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/value"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var artifact string
	var modelName string
	var method string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a program file and run a method on a model's example inputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if artifact == "" {
				return errors.New("--artifact is required")
			}

			id, err := models.ParseID(modelName)
			if err != nil {
				return err
			}

			buf, err := os.ReadFile(artifact)
			if err != nil {
				return err
			}

			b, err := newBackend(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}

			h, err := b.loader.Load(buf)
			if err != nil {
				return err
			}
			defer h.Close()

			_, inputs, err := b.source.Get(id)
			if err != nil {
				return err
			}

			outs, err := h.RunMethod(cmd.Context(), method, inputs)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, v := range outs {
				printShapes(w, "out["+strconv.Itoa(i)+"]", v)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", "Program file written by export")
	cmd.Flags().StringVar(&modelName, "model", models.MV3.String(), "Model whose example inputs are fed to the program")
	cmd.Flags().StringVar(&method, "method", program.MethodForward, "Method to run")

	return cmd
}

func printShapes(w io.Writer, path string, v value.Value) {
	if t, err := v.Tensor(); err == nil {
		_, _ = fmt.Fprintf(w, "%s: %v\n", path, t.Shape())
		return
	}

	for i, item := range v.Items() {
		printShapes(w, path+"["+strconv.Itoa(i)+"]", item)
	}
}
