package doctor_test

import (
	"strings"
	"testing"

	"github.com/example/go-aotcheck/internal/doctor"
)

func passingConfig() doctor.Config {
	return doctor.Config{
		PythonVersion: func() (string, error) { return "3.11.4", nil },
		TorchTooling:  func() error { return nil },
		ORTLibrary:    func() (string, error) { return "/usr/lib/libonnxruntime.so (1.20.1)", nil },
	}
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	var out strings.Builder
	result := doctor.Run(passingConfig(), &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}

	for _, want := range []string{"python version: 3.11.4", "torch tooling: ok", "onnx runtime: /usr/lib/libonnxruntime.so"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output should contain %q; got:\n%s", want, out.String())
		}
	}
}

// ---------------------------------------------------------------------------
// Python version out of range
// ---------------------------------------------------------------------------

func TestRun_PythonMissingFails(t *testing.T) {
	cfg := passingConfig()
	cfg.PythonVersion = func() (string, error) { return "", errBinaryNotFound }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when python is not found")
	}

	if !hasFailureContaining(result.Failures(), "python") {
		t.Errorf("expected failure mentioning python, got: %v", result.Failures())
	}
}

func TestRun_PythonTooOldFails(t *testing.T) {
	cfg := passingConfig()
	cfg.PythonVersion = func() (string, error) { return "3.8.10", nil }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for Python 3.8")
	}

	if !hasFailureContaining(result.Failures(), "python") {
		t.Errorf("expected failure mentioning python, got: %v", result.Failures())
	}
}

func TestRun_PythonInRangePasses(t *testing.T) {
	for _, ver := range []string{"3.9.18", "3.10.0", "3.11.9", "3.13.1"} {
		t.Run(ver, func(t *testing.T) {
			cfg := passingConfig()
			cfg.PythonVersion = func() (string, error) { return ver, nil }

			var out strings.Builder

			result := doctor.Run(cfg, &out)
			if result.Failed() {
				t.Errorf("Python %s should pass but got failures: %v", ver, result.Failures())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// torch tooling and helper script
// ---------------------------------------------------------------------------

func TestRun_TorchToolingFails(t *testing.T) {
	cfg := passingConfig()
	cfg.TorchTooling = func() error { return sentinelError("No module named 'torch'") }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "torch") {
		t.Fatalf("expected failure mentioning torch, got: %v", result.Failures())
	}
}

func TestRun_ExportScript(t *testing.T) {
	cfg := passingConfig()
	cfg.ExportScript = "doctor_test.go"

	var out strings.Builder

	result := doctor.Run(cfg, &out)
	if result.Failed() {
		t.Fatalf("expected pass; failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "export script: doctor_test.go") {
		t.Errorf("output should mention export script; got:\n%s", out.String())
	}

	cfg.ExportScript = "/nonexistent/aot_export.py"

	result = doctor.Run(cfg, &out)
	if !hasFailureContaining(result.Failures(), "export script") {
		t.Errorf("expected failure mentioning export script, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// ONNX Runtime
// ---------------------------------------------------------------------------

func TestRun_ORTMissingFails(t *testing.T) {
	cfg := passingConfig()
	cfg.ORTLibrary = func() (string, error) { return "", sentinelError("unable to detect ONNX Runtime library path") }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "onnx runtime") {
		t.Fatalf("expected failure mentioning onnx runtime, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// colour-coded output
// ---------------------------------------------------------------------------

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := passingConfig()
	cfg.TorchTooling = func() error { return errBinaryNotFound }

	var out strings.Builder
	doctor.Run(cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}

	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

func TestRun_SkipRuntimeChecks(t *testing.T) {
	cfg := doctor.Config{
		SkipPython:   true,
		SkipORT:      true,
		ExportScript: "/nonexistent/aot_export.py",
	}

	var out strings.Builder

	result := doctor.Run(cfg, &out)
	if result.Failed() {
		t.Fatalf("expected no failures when runtime checks are skipped, got: %v", result.Failures())
	}

	body := out.String()
	for _, want := range []string{"python version: skipped", "torch tooling: skipped", "onnx runtime: skipped"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q, got:\n%s", want, body)
		}
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errBinaryNotFound = sentinelError("binary not found")

func hasFailureContaining(failures []string, substr string) bool {
	substr = strings.ToLower(substr)
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}

	return false
}
