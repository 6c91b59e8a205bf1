package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/example/go-aotcheck/internal/config"
	"github.com/example/go-aotcheck/internal/doctor"
	"github.com/example/go-aotcheck/internal/executor"
	"github.com/example/go-aotcheck/internal/export"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local python tooling and ONNX Runtime checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			nativeMode := cfg.Check.Backend == config.BackendNative
			_, _ = fmt.Fprintf(out, "backend: %s\n", cfg.Check.Backend)

			bin := cfg.Python.Bin
			if bin == "" {
				bin = export.DetectPython()
			}

			dcfg := doctor.Config{
				PythonVersion: func() (string, error) {
					return probePythonVersion(cmd.Context(), bin)
				},
				SkipPython: nativeMode,
				TorchTooling: func() error {
					return export.ValidateTooling(cmd.Context(), bin)
				},
				ORTLibrary: func() (string, error) {
					info, err := executor.DetectORT(cfg.Runtime)
					if err != nil {
						return "", err
					}

					return fmt.Sprintf("%s (%s)", info.LibraryPath, info.Version), nil
				},
				SkipORT: nativeMode,
			}

			if !nativeMode {
				script, err := export.ResolveScriptPath(cfg.Python.Script)
				if err != nil {
					script = cfg.Python.Script
				}

				dcfg.ExportScript = script
			}

			result := doctor.Run(dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// probePythonVersion runs `<bin> --version` and returns the version string.
func probePythonVersion(ctx context.Context, bin string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", bin, err)
	}

	// Output is e.g. "Python 3.11.4\n"
	raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "Python ")
	if raw == "" {
		return "", fmt.Errorf("%s --version printed nothing", bin)
	}

	return raw, nil
}
