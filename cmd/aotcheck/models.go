package main

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/models"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models with their output family and comparison policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := models.NewRegistry()
			out := cmd.OutOrStdout()

			for _, id := range reg.IDs() {
				e, err := reg.Entry(id)
				if err != nil {
					return err
				}

				p, err := equiv.PolicyFor(e.Family)
				if err != nil {
					return err
				}

				torch := ""
				if torchModels[id] {
					torch = " [torch]"
				}

				_, _ = fmt.Fprintf(out, "%-10s %-7s %-34s %s%s\n", id, e.Family, p.Name(), e.Description, torch)
			}

			return nil
		},
	}
}
