package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-aotcheck/internal/equiv"
	"github.com/example/go-aotcheck/internal/models"
)

func TestCheck_DefaultCasesPass(t *testing.T) {
	out, err := execute(t, "check")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}

	for _, name := range []string{"mv3", "mv2", "emformer", "vit"} {
		if !strings.Contains(out, "PASS "+name+"\n") {
			t.Errorf("expected PASS line for %s, got:\n%s", name, out)
		}
	}
}

func TestCheck_NamedModels(t *testing.T) {
	out, err := execute(t, "check", "identity", "mlp", "--rtol", "0", "--atol", "0.0001")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}

	if strings.Count(out, "PASS ") != 2 {
		t.Fatalf("expected two PASS lines, got:\n%s", out)
	}
}

func TestCheck_UnknownModel(t *testing.T) {
	_, err := execute(t, "check", "resnet")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestCheck_NegativeToleranceRejected(t *testing.T) {
	_, err := execute(t, "check", "identity", "--atol", "-1")
	if err == nil {
		t.Fatal("expected error for negative tolerance")
	}
}

func TestSelectCases(t *testing.T) {
	reg := models.NewRegistry()

	cases, err := selectCases(reg, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(cases) != len(equiv.DefaultCases()) {
		t.Fatalf("got %d default cases, want %d", len(cases), len(equiv.DefaultCases()))
	}

	cases, err = selectCases(reg, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	if len(cases) != len(reg.IDs()) {
		t.Fatalf("--all selected %d cases, want %d", len(cases), len(reg.IDs()))
	}

	cases, err = selectCases(reg, []string{"emformer"}, false)
	if err != nil {
		t.Fatal(err)
	}

	if got := cases[0].Policy.Name(); got != equiv.OneLevelNested().Name() {
		t.Fatalf("emformer policy = %s", got)
	}

	if _, err := selectCases(reg, []string{"mv3"}, true); err == nil {
		t.Fatal("expected error when combining --all with names")
	}
}

func TestModels_ListsFamiliesAndPolicies(t *testing.T) {
	out, err := execute(t, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}

	for _, want := range []string{"emformer", "nested", "validate_nested_allclose", "validate_tensor_allclose", "[torch]"} {
		if !strings.Contains(out, want) {
			t.Errorf("models output missing %q:\n%s", want, out)
		}
	}
}

func TestExportThenRun(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "emformer.pte")

	out, err := execute(t, "export", "--model", "emformer", "--out", artifact)
	if err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}

	if !strings.Contains(out, "graph program for emformer") {
		t.Errorf("unexpected export output:\n%s", out)
	}

	if st, err := os.Stat(artifact); err != nil || st.Size() == 0 {
		t.Fatalf("artifact not written: %v", err)
	}

	out, err = execute(t, "run", "--artifact", artifact, "--model", "emformer")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	if !strings.Contains(out, "out[0][0]: [1 8 16]") {
		t.Errorf("expected nested output shape, got:\n%s", out)
	}

	if _, err := execute(t, "run", "--artifact", artifact, "--model", "emformer", "--method", "backward"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestExportRequiresOut(t *testing.T) {
	if _, err := execute(t, "export", "--model", "mv2"); err == nil {
		t.Fatal("expected error without --out")
	}
}
