// Package doctor provides environment preflight checks for aotcheck.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// PythonVersion returns the Python version string (e.g. "3.11.4").
	PythonVersion VersionFunc
	// SkipPython skips every python check (native backend mode).
	SkipPython bool
	// TorchTooling imports the export stack in the configured interpreter.
	// Nil skips the check.
	TorchTooling func() error
	// ExportScript is the helper script path to verify on disk. Empty skips
	// the check.
	ExportScript string
	// ORTLibrary returns a description of the located ONNX Runtime library.
	ORTLibrary VersionFunc
	// SkipORT skips the ONNX Runtime check (native backend mode).
	SkipORT bool
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- Python version ---------------------------------------------------
	if cfg.SkipPython {
		fmt.Fprintf(w, "%s python version: skipped\n", PassMark)
	} else {
		pyVer, err := cfg.PythonVersion()
		if err != nil {
			res.fail(fmt.Sprintf("python version: %v", err))
			fmt.Fprintf(w, "%s python version: not found (%v)\n", FailMark, err)
		} else if pyErr := checkPythonVersion(pyVer); pyErr != nil {
			res.fail(fmt.Sprintf("python version: %v", pyErr))
			fmt.Fprintf(w, "%s python version %s: %v\n", FailMark, pyVer, pyErr)
		} else {
			fmt.Fprintf(w, "%s python version: %s\n", PassMark, pyVer)
		}
	}

	// ---- torch export stack -----------------------------------------------
	switch {
	case cfg.SkipPython || cfg.TorchTooling == nil:
		fmt.Fprintf(w, "%s torch tooling: skipped\n", PassMark)
	default:
		if err := cfg.TorchTooling(); err != nil {
			res.fail(fmt.Sprintf("torch tooling: %v", err))
			fmt.Fprintf(w, "%s torch tooling: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s torch tooling: ok\n", PassMark)
		}
	}

	// ---- export helper script ---------------------------------------------
	if !cfg.SkipPython && cfg.ExportScript != "" {
		if _, err := os.Stat(cfg.ExportScript); err != nil {
			res.fail(fmt.Sprintf("export script %q: %v", cfg.ExportScript, err))
			fmt.Fprintf(w, "%s export script %s: not found\n", FailMark, cfg.ExportScript)
		} else {
			fmt.Fprintf(w, "%s export script: %s\n", PassMark, cfg.ExportScript)
		}
	}

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.SkipORT || cfg.ORTLibrary == nil {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		lib, err := cfg.ORTLibrary()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, lib)
		}
	}

	return res
}

// Python minor versions the torch export stack ships wheels for.
const (
	minPythonMinor = 9
	maxPythonMinor = 13
)

// checkPythonVersion returns an error unless ver is a 3.x release between
// minPythonMinor and maxPythonMinor inclusive. ver looks like "3.11.4".
func checkPythonVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	if major != 3 || minor < minPythonMinor || minor > maxPythonMinor {
		return fmt.Errorf("torch export needs Python 3.%d-3.%d, got %d.%d", minPythonMinor, maxPythonMinor, major, minor)
	}

	return nil
}

// parseMajorMinor reads the first two dot-separated numbers of ver.
func parseMajorMinor(ver string) (major, minor int, err error) {
	majorStr, rest, ok := strings.Cut(strings.TrimSpace(ver), ".")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}

	minorStr, _, _ := strings.Cut(rest, ".")

	if major, err = strconv.Atoi(majorStr); err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}

	if minor, err = strconv.Atoi(minorStr); err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}

	return major, minor, nil
}
