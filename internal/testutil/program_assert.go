package testutil

import (
	"testing"

	"github.com/example/go-aotcheck/internal/program"
)

// AssertProgram checks that buf decodes to a program of the given format
// with a forward method, and returns it.
func AssertProgram(tb testing.TB, buf []byte, format program.Format) *program.Program {
	tb.Helper()

	if len(buf) < len(program.Magic) || string(buf[:len(program.Magic)]) != program.Magic {
		tb.Fatalf("program: missing %q magic", program.Magic)
	}

	p, err := program.Decode(buf)
	if err != nil {
		tb.Fatalf("program: decode: %v", err)
	}

	if p.Format != format {
		tb.Fatalf("program: format = %q; want %q", p.Format, format)
	}

	if _, ok := p.Method(program.MethodForward); !ok {
		tb.Fatalf("program: no %q method (have %v)", program.MethodForward, p.MethodNames())
	}

	return p
}
