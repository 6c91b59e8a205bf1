package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProbePythonVersion_MissingExecutable(t *testing.T) {
	_, err := probePythonVersion(context.Background(), "/nonexistent/python3")
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestProbePythonVersion_FakeInterpreter(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-python")

	writeErr := os.WriteFile(script, []byte("#!/bin/sh\necho 'Python 3.12.1'\n"), 0o755)
	if writeErr != nil {
		t.Fatalf("WriteFile: %v", writeErr)
	}

	got, err := probePythonVersion(context.Background(), script)
	if err != nil {
		t.Fatalf("probePythonVersion: %v", err)
	}

	if got != "3.12.1" {
		t.Errorf("unexpected version output: %q", got)
	}
}

func TestDoctor_NativeBackendSkipsRuntimeChecks(t *testing.T) {
	out, err := execute(t, "doctor", "--backend", "native")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	for _, want := range []string{"backend: native", "python version: skipped", "onnx runtime: skipped", "doctor checks passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctor_TorchBackendReportsMissingTooling(t *testing.T) {
	out, err := execute(t, "doctor", "--backend", "torch",
		"--python-bin", "/nonexistent/python3",
		"--ort-lib", "/nonexistent/libonnxruntime.so")
	if err == nil {
		t.Fatalf("expected doctor failure, got:\n%s", out)
	}

	if !strings.Contains(out, "python version: not found") {
		t.Errorf("expected python failure line, got:\n%s", out)
	}

	if !strings.Contains(out, "onnx runtime: not found") {
		t.Errorf("expected onnx runtime failure line, got:\n%s", out)
	}
}
