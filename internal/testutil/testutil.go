// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestTorchEquivalence(t *testing.T) {
//	    py := testutil.RequirePython(t)
//	    testutil.RequireONNXRuntime(t)
//	    ...
//	}
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// torchModules are what scripts/aot_export.py imports.
const torchModules = "import torch, torchvision, torchaudio, onnx, safetensors"

// RequirePython skips the test unless a python interpreter with the torch
// export stack is available, and returns it. AOTCHECK_PYTHON_BIN overrides
// the default python3.
func RequirePython(tb testing.TB) string {
	tb.Helper()

	exe := os.Getenv("AOTCHECK_PYTHON_BIN")
	if exe == "" {
		exe = "python3"
	}

	if _, err := exec.LookPath(exe); err != nil {
		tb.Skipf("python interpreter not available (%q not in PATH); set AOTCHECK_PYTHON_BIN to override", exe)
		return ""
	}

	if err := exec.Command(exe, "-c", torchModules).Run(); err != nil {
		tb.Skipf("python %q lacks the torch export stack (%s): %v", exe, torchModules, err)
		return ""
	}

	return exe
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located, and returns its path. It checks (in order): the ORT_LIBRARY_PATH
// env var, then the AOTCHECK_ORT_LIB env var, then common system library
// paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "AOTCHECK_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or AOTCHECK_ORT_LIB")

	return ""
}
