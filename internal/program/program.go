// Package program defines the compiled artifact: a self-contained list of
// methods, each a flat instruction sequence over numbered slots, or an
// opaque ONNX payload.
package program

import (
	"errors"
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/value"
)

// Format says how a program's methods are executed.
type Format string

const (
	// FormatGraph programs carry an instruction list for the interpreter.
	FormatGraph Format = "graph"
	// FormatONNX programs carry an ONNX model in Payload.
	FormatONNX Format = "onnx"
)

const (
	Magic   = "AOTP"
	Version = 1

	// MethodForward is the entry point every exported model provides.
	MethodForward = "forward"
)

var ErrBadMagic = errors.New("program: bad magic")

// Instruction evaluates Op on the Inputs slots and stores the result in
// Output.
type Instruction struct {
	Op     string
	Inputs []int
	Output int
	Attrs  graph.Attrs
}

// ConstBinding loads the named constant into Slot before execution.
type ConstBinding struct {
	Name string
	Slot int
}

// Method is one named entry point.
type Method struct {
	Name         string
	InputSlots   []int
	InputShapes  [][]int64
	Output       value.TreeSpec
	OutputSlots  []int
	Instructions []Instruction
	Constants    []ConstBinding
	NumSlots     int

	// ONNX programs address inputs and outputs by name instead of slot.
	InputNames  []string
	OutputNames []string
}

// NumInputs is the arity of the method.
func (m *Method) NumInputs() int {
	if len(m.InputNames) > 0 {
		return len(m.InputNames)
	}

	return len(m.InputSlots)
}

type Program struct {
	Version   int
	Format    Format
	Methods   []Method
	Constants map[string]*tensor.Tensor
	Payload   []byte
}

// Method looks up a method by name.
func (p *Program) Method(name string) (*Method, bool) {
	for i := range p.Methods {
		if p.Methods[i].Name == name {
			return &p.Methods[i], true
		}
	}

	return nil, false
}

// MethodNames lists method names in program order.
func (p *Program) MethodNames() []string {
	names := make([]string, len(p.Methods))
	for i, m := range p.Methods {
		names[i] = m.Name
	}

	return names
}

// Validate checks slot references and constant bindings.
func (p *Program) Validate() error {
	switch p.Format {
	case FormatGraph, FormatONNX:
	default:
		return fmt.Errorf("program: unknown format %q", p.Format)
	}

	if len(p.Methods) == 0 {
		return errors.New("program: no methods")
	}

	if p.Format == FormatONNX && len(p.Payload) == 0 {
		return errors.New("program: onnx program without payload")
	}

	seen := make(map[string]bool, len(p.Methods))

	for i := range p.Methods {
		m := &p.Methods[i]
		if seen[m.Name] {
			return fmt.Errorf("program: duplicate method %q", m.Name)
		}

		seen[m.Name] = true

		if err := p.validateMethod(m); err != nil {
			return fmt.Errorf("program: method %q: %w", m.Name, err)
		}
	}

	return nil
}

func (p *Program) validateMethod(m *Method) error {
	if m.Output.NumLeaves() == 0 {
		return errors.New("output spec has no leaves")
	}

	if p.Format == FormatONNX {
		if len(m.OutputNames) != m.Output.NumLeaves() {
			return fmt.Errorf("%d output names for %d outputs", len(m.OutputNames), m.Output.NumLeaves())
		}

		return nil
	}

	if len(m.InputShapes) != len(m.InputSlots) {
		return fmt.Errorf("%d input shapes for %d inputs", len(m.InputShapes), len(m.InputSlots))
	}

	if len(m.OutputSlots) != m.Output.NumLeaves() {
		return fmt.Errorf("%d output slots for %d outputs", len(m.OutputSlots), m.Output.NumLeaves())
	}

	inRange := func(s int) bool { return s >= 0 && s < m.NumSlots }

	for _, c := range m.Constants {
		if !inRange(c.Slot) {
			return fmt.Errorf("constant %q slot %d out of range", c.Name, c.Slot)
		}

		if _, ok := p.Constants[c.Name]; !ok {
			return fmt.Errorf("constant %q missing", c.Name)
		}
	}

	for _, s := range append(append([]int(nil), m.InputSlots...), m.OutputSlots...) {
		if !inRange(s) {
			return fmt.Errorf("slot %d out of range", s)
		}
	}

	for i, ins := range m.Instructions {
		if !inRange(ins.Output) {
			return fmt.Errorf("instruction %d (%s) writes slot %d out of range", i, ins.Op, ins.Output)
		}

		for _, s := range ins.Inputs {
			if !inRange(s) {
				return fmt.Errorf("instruction %d (%s) reads slot %d out of range", i, ins.Op, s)
			}
		}
	}

	return nil
}
