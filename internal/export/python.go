package export

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultScript is the export helper path relative to the repository root.
const DefaultScript = "scripts/aot_export.py"

// Python drives the torch export helper script.
type Python struct {
	Bin    string
	Script string
	// Stderr receives the script's diagnostics in addition to the error
	// message. Nil discards them.
	Stderr io.Writer
}

// NewPython resolves the interpreter and script. An empty bin is detected
// with DetectPython; an empty script uses DefaultScript.
func NewPython(bin, script string) (*Python, error) {
	if bin == "" {
		bin = DetectPython()
	}

	if script == "" {
		script = DefaultScript
	}

	path, err := ResolveScriptPath(script)
	if err != nil {
		return nil, fmt.Errorf("resolve export helper: %w", err)
	}

	return &Python{Bin: bin, Script: path}, nil
}

var execPython = execPythonImpl

func execPythonImpl(ctx context.Context, p *Python, args []string) error {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, p.Bin, append([]string{p.Script}, args...)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if p.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, p.Stderr)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, lastLine(stderr.String()))
	}

	return nil
}

func (p *Python) run(ctx context.Context, args ...string) error {
	if err := execPython(ctx, p, args); err != nil {
		return fmt.Errorf("export helper %s: %w", args[0], err)
	}

	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// DetectPython finds an interpreter that has torch installed by reading the
// shebang of the torchrun launcher torch puts on PATH. It falls back to
// python3.
func DetectPython() string {
	launcher, err := exec.LookPath("torchrun")
	if err != nil {
		return "python3"
	}

	fh, err := os.Open(launcher)
	if err != nil {
		return "python3"
	}
	defer fh.Close()

	s := bufio.NewScanner(fh)
	if !s.Scan() {
		return "python3"
	}

	line := strings.TrimSpace(s.Text())
	if !strings.HasPrefix(line, "#!") {
		return "python3"
	}

	interpreter := strings.TrimSpace(strings.TrimPrefix(line, "#!"))
	if interpreter == "" || strings.ContainsRune(interpreter, ' ') {
		return "python3"
	}

	if _, err := os.Stat(interpreter); err != nil {
		return "python3"
	}

	return interpreter
}

// ValidateTooling checks that bin exists and can import torch and onnx.
func ValidateTooling(ctx context.Context, bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("python interpreter %q not found: %w", bin, err)
	}

	check := exec.CommandContext(ctx, bin, "-c", "import torch, onnx")
	check.Stdout = io.Discard
	check.Stderr = io.Discard

	if err := check.Run(); err != nil {
		return fmt.Errorf("python tooling dependencies missing for export (need torch, onnx): %w", err)
	}

	return nil
}

// ResolveScriptPath finds rel from the working directory or from two levels
// up, which is the repository root when running package tests.
func ResolveScriptPath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("script path is required")
	}

	if filepath.IsAbs(rel) {
		if _, err := os.Stat(rel); err != nil {
			return "", fmt.Errorf("script %q: %w", rel, err)
		}

		return filepath.Clean(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, rel),
		filepath.Join(cwd, "..", "..", rel),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Clean(p), nil
		}
	}

	return "", fmt.Errorf("script %q not found from %s", rel, cwd)
}
